package adapter

import (
	"strings"
	"testing"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q, want single untouched chunk", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	lines := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		lines = append(lines, strings.Repeat("a", 10))
	}
	s := strings.Join(lines, "\n")

	chunks := splitTelegramText(s, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c == "" {
			t.Fatalf("chunk %d is empty", i)
		}
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		// Newline-preferred cuts keep lines intact.
		for _, ln := range strings.Split(c, "\n") {
			if ln != strings.Repeat("a", 10) {
				t.Fatalf("chunk %d broke a line: %q", i, ln)
			}
		}
	}

	joined := strings.Join(chunks, "\n")
	if strings.ReplaceAll(joined, "\n", "") != strings.ReplaceAll(s, "\n", "") {
		t.Fatal("content lost during splitting")
	}
}

func TestSplitTelegramTextHardCut(t *testing.T) {
	t.Parallel()
	// No newlines at all: the splitter falls back to hard cuts at the limit.
	s := strings.Repeat("b", 250)
	chunks := splitTelegramText(s, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		n := len([]rune(c))
		if n > 100 {
			t.Fatalf("chunk %d exceeds limit: %d", i, n)
		}
		total += n
	}
	if total != 250 {
		t.Fatalf("total runes = %d, want 250", total)
	}
}

func TestSplitTelegramTextMultibyte(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("每", 150)
	chunks := splitTelegramText(s, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, c := range chunks {
		if !strings.HasPrefix(c, "每") {
			t.Fatalf("chunk %d corrupted: %q", i, c[:10])
		}
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds rune limit", i)
		}
	}
}
