package guide

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	brTag            = regexp.MustCompile(`(?i)<br\s*/?>(\n)?`)
	spaceBeforeBreak = regexp.MustCompile(`[ \t\f\r]+\n`)
	spaceAroundBreak = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	japaneseRuns     = regexp.MustCompile(`[\x{3040}-\x{30ff}\x{3400}-\x{9fff}]+`)
)

// NormalizeText cleans up a description coming from an imported file:
// CRLF and <br> variants become plain newlines, trailing whitespace
// before a break is collapsed, and the result is trimmed.
func NormalizeText(input string) string {
	if input == "" {
		return ""
	}
	text := strings.ReplaceAll(input, "\r\n", "\n")
	text = brTag.ReplaceAllString(text, "\n")
	text = spaceBeforeBreak.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// StripHTML removes all markup from a fragment and returns the text
// content, space-joined. Line-break elements become newlines so that
// NormalizeText sees the breaks the markup encoded.
func StripHTML(input string) string {
	if input == "" {
		return ""
	}
	if !strings.Contains(input, "<") {
		return input
	}

	nodes, err := html.ParseFragment(strings.NewReader(input), nil)
	if err != nil {
		return input
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				return
			case "br":
				parts = append(parts, "\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}

	joined := strings.Join(parts, " ")
	return spaceAroundBreak.ReplaceAllString(joined, "\n")
}

// SplitScripts separates a mixed Catalan/Japanese string. Contiguous
// runs of hiragana, katakana and CJK ideographs are collected
// (space-joined) as the secondary value; the remainder, trimmed, is the
// primary value. A string with no Japanese runs comes back unchanged as
// primary.
func SplitScripts(input string) (primary, secondary string) {
	if input == "" {
		return "", ""
	}

	runs := japaneseRuns.FindAllString(input, -1)
	if len(runs) == 0 {
		return input, ""
	}

	secondary = strings.Join(runs, " ")
	primary = strings.TrimSpace(japaneseRuns.ReplaceAllString(input, ""))
	return primary, secondary
}

// placeholderTitle is used when a placemark carries neither a usable
// name nor a description to derive one from.
const placeholderTitle = "Sense títol"

// EnsureTitle resolves a place's display title: the trimmed candidate
// when non-empty, otherwise the first non-empty line of the description
// truncated to 80 characters, otherwise a fixed placeholder.
func EnsureTitle(candidate, description string) string {
	if trimmed := strings.TrimSpace(candidate); trimmed != "" {
		return trimmed
	}
	for _, line := range strings.Split(description, "\n") {
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 80 {
			return string(runes[:80])
		}
		return line
	}
	return placeholderTitle
}
