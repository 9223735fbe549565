package documents

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateContentKeepsPrefix(t *testing.T) {
	text := strings.Repeat("a", MaxContentLength) + "b"

	got := TruncateContent(text)
	if utf8.RuneCountInString(got) != MaxContentLength {
		t.Fatalf("expected %d chars, got %d", MaxContentLength, utf8.RuneCountInString(got))
	}
	if got != text[:MaxContentLength] {
		t.Fatal("expected the first 60000 characters to be preserved")
	}
}

func TestTruncateContentCountsCodePoints(t *testing.T) {
	text := strings.Repeat("é", MaxContentLength+10)

	got := TruncateContent(text)
	if n := utf8.RuneCountInString(got); n != MaxContentLength {
		t.Fatalf("expected %d code points, got %d", MaxContentLength, n)
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a multi-byte character")
	}
}

func TestTruncateContentShortUnchanged(t *testing.T) {
	text := strings.Repeat("x", MaxContentLength)
	if got := TruncateContent(text); got != text {
		t.Fatal("text at the limit must be unchanged")
	}
}

func TestScrubText(t *testing.T) {
	got := ScrubText("Go\x00 and \xffRust")
	if got != "Go and Rust" {
		t.Fatalf("unexpected scrub result %q", got)
	}
}

func TestPrepareContentScrubsBeforeTruncating(t *testing.T) {
	text := strings.Repeat("\x00", 5) + strings.Repeat("a", MaxContentLength)
	if got := PrepareContent(text); got != strings.Repeat("a", MaxContentLength) {
		t.Fatal("NUL bytes should not consume the content budget")
	}
}
