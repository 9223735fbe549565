package documents

import (
	"strings"
	"unicode/utf8"
)

// MaxContentLength is the content ceiling in characters (code points).
const MaxContentLength = 60000

// ScrubText removes bytes no backend can store: NUL and invalid UTF-8.
func ScrubText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return s
}

// TruncateContent keeps the first MaxContentLength characters of s.
func TruncateContent(s string) string {
	if utf8.RuneCountInString(s) <= MaxContentLength {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxContentLength {
			return s[:i]
		}
		n++
	}
	return s
}

// PrepareContent scrubs then truncates extracted text.
func PrepareContent(s string) string {
	return TruncateContent(ScrubText(s))
}
