package main

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "gmi / kimi", want: "gmi / kimi"},
		{in: "exactly-nineteen-ch", want: "exactly-nineteen-ch"},
		{in: "openai / gpt-4o-mini-2024", want: "openai / gpt-4o-mi…"},
		{in: "ollama / qwen2.5:7b-中文-instruct", want: "ollama / qwen2.5:7…"},
		{in: "coqui / ääääääääääääää", want: "coqui / ääääääääää…"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, 19)
		if got != tt.want {
			t.Errorf("truncate(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q) = %q is not valid UTF-8", tt.in, got)
		}
		if n := utf8.RuneCountInString(got); n > 19 {
			t.Errorf("truncate(%q) has %d runes, want <= 19", tt.in, n)
		}
	}
}
