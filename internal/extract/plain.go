package extract

import (
	"strings"
	"unicode/utf8"
)

// toValidText returns content as a string, normalizing line endings.
// Invalid UTF-8 sequences are replaced with the replacement character.
func toValidText(content []byte) string {
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	text = strings.TrimPrefix(text, "\uFEFF")
	return lineEndings.Replace(text)
}

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")
