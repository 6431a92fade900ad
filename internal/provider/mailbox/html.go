package mailbox

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlExtractor turns HTML-only email bodies into readable plain text
type htmlExtractor struct {
	whitespace *regexp.Regexp
	newlines   *regexp.Regexp
	invisible  *regexp.Regexp
}

func newHTMLExtractor() *htmlExtractor {
	return &htmlExtractor{
		whitespace: regexp.MustCompile(`[^\S\n]+`),
		newlines:   regexp.MustCompile(`\n{3,}`),
		// Zero-width and similar invisible characters that mail
		// generators sprinkle into HTML bodies.
		invisible: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}\x{206A}-\x{206F}]+`),
	}
}

// Text converts an HTML body to clean plain text
func (e *htmlExtractor) Text(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()

	// Block elements get a newline so text does not run together.
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, sel *goquery.Selection) {
		sel.PrependHtml("\n")
	})

	text := doc.Text()
	text = e.invisible.ReplaceAllString(text, "")
	text = e.whitespace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	var clean []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			clean = append(clean, line)
		}
	}
	text = strings.Join(clean, "\n")
	text = e.newlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}
