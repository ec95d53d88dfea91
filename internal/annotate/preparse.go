package annotate

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText flattens a pre-parse HTML fragment into whitespace-separated
// text for terminal display. Script and style content is dropped.
func PlainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(fragment))
	var (
		parts []string
		skip  int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(parts, " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isHidden(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHidden(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(z.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func isHidden(tag string) bool {
	return tag == "script" || tag == "style" || tag == "title"
}
