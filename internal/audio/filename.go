package audio

import (
	"regexp"
	"strings"
)

var slugStrip = regexp.MustCompile(`[^a-z0-9-]`)

// Filename derives a download name from the first six words of text.
func Filename(text, ext string) string {
	if text == "" {
		return "narrative-audio." + ext
	}
	words := strings.Fields(text)
	if len(words) > 6 {
		words = words[:6]
	}
	slug := slugStrip.ReplaceAllString(strings.ToLower(strings.Join(words, "-")), "")
	if slug == "" {
		slug = "narrative"
	}
	return slug + "." + ext
}
