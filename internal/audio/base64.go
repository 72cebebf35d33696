package audio

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
)

var urlSafe = strings.NewReplacer("-", "+", "_", "/")

// DecodeBase64 decodes standard or URL-safe base64 text, with or without
// padding. ASCII whitespace is ignored.
func DecodeBase64(text string) ([]byte, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	s = urlSafe.Replace(s)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}

	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}
