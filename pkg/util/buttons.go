package util

import (
	"regexp"
	"strings"
)

// ButtonSpec is one parsed "label - url" line.
type ButtonSpec struct {
	Label string
	URL   string
}

// Separator tokens tried in order; the first one present in a line splits it.
var buttonSeparators = []string{" - ", " | ", " — "}

var urlRe = regexp.MustCompile(`(?i)^https?://` +
	`(?:(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,6}\.?|` +
	`localhost|` +
	`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})` +
	`(?::\d+)?` +
	`(?:/?|[/?]\S+)$`)

// IsValidURL reports whether s has the http(s)://host[...] shape accepted for
// inline buttons.
func IsValidURL(s string) bool {
	return urlRe.MatchString(s)
}

// ParseButtons parses button definitions, one "label - url" per line. Lines
// without a recognized separator or with an invalid URL are dropped silently;
// blank lines are skipped. Other lines in the same batch are unaffected.
func ParseButtons(text string) []ButtonSpec {
	var buttons []ButtonSpec

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		for _, sep := range buttonSeparators {
			if !strings.Contains(line, sep) {
				continue
			}
			label, url, _ := strings.Cut(line, sep)
			label = strings.TrimSpace(label)
			url = strings.TrimSpace(url)
			if label != "" && IsValidURL(url) {
				buttons = append(buttons, ButtonSpec{Label: label, URL: url})
			}
			break
		}
	}

	return buttons
}
