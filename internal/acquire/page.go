package acquire

import (
	"fmt"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// PageContext converts a page to Markdown and truncates it to maxChars
// runes. The result travels with every artifact as a classification hint.
func PageContext(html string, maxChars int) (string, error) {
	if maxChars <= 0 || strings.TrimSpace(html) == "" {
		return "", nil
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("converting HTML to markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)

	if utf8.RuneCountInString(markdown) <= maxChars {
		return markdown, nil
	}
	runes := []rune(markdown)
	return string(runes[:maxChars]) + "...", nil
}
