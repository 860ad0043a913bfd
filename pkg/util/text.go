package util

import "strings"

// EscapeHTML escapes the characters Telegram's HTML parse mode treats
// specially.
func EscapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

// Truncate shortens text to maxLen runes, appending "..." when cut.
func Truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// FormatPreview renders post text for a list snippet: first maxLines lines,
// capped at maxChars, HTML-escaped.
func FormatPreview(text string, maxLines, maxChars int) string {
	if text == "" {
		return "<i>Без текста</i>"
	}

	lines := strings.Split(text, "\n")
	preview := strings.Join(lines[:min(maxLines, len(lines))], "\n")

	if len([]rune(preview)) > maxChars {
		preview = string([]rune(preview)[:maxChars]) + "..."
	} else if len(lines) > maxLines {
		preview += "..."
	}

	return EscapeHTML(preview)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
