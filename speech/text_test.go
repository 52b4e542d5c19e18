package speech

import (
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello world", "Hello world"},
		{"**Bold text**", "Bold text"},
		{"*Italic text*", "Italic text"},
		{"# Header", "Header"},
		{"_Underlined text_", "Underlined text"},
		{"~Strikethrough text~", "Strikethrough text"},
		{"`Code text`", "Code text"},
		{"[Link text](url)", "Link text(url)"},
		{"Wow, *markdown*!", "Wow, markdown!"},
		{"<html>tags</html>", "tags"},
		{"|---|", ""},
		{"|====|", ""},
		{"| - - - |", ""},
		{"| cell1 | cell2 |", "cell1  cell2"},
		{"  Trailing spaces  ", "Trailing spaces"},
		{"", ""},
		{"***", ""},
	}
	for _, test := range tests {
		result := CleanText(test.input)
		if result != test.expected {
			t.Errorf("CleanText(%q) = %q; expected %q", test.input, result, test.expected)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", []string{}},
		{"single", "Hello there.", []string{"Hello there."}},
		{"three", "Hello there. How are you? I am fine.", []string{"Hello there.", "How are you?", "I am fine."}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitSentences(tc.input)
			if len(got) != len(tc.expected) {
				t.Fatalf("expected %d sentences, got %d: %q", len(tc.expected), len(got), got)
			}
			for i := range got {
				if got[i] != tc.expected[i] {
					t.Errorf("sentence %d: expected %q, got %q", i, tc.expected[i], got[i])
				}
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	html := "<h1>Title</h1><p>Hello <em>world</em>.</p><pre><code>x := 1</code></pre><p>Bye.</p>"
	text, err := PlainText(html)
	if err != nil {
		t.Fatalf("PlainText failed: %v", err)
	}
	for _, want := range []string{"Title", "Hello world.", "Bye."} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
	if strings.Contains(text, "x := 1") {
		t.Errorf("code block should be dropped, got %q", text)
	}
	if strings.Contains(text, "world.Bye") {
		t.Errorf("paragraphs ran together: %q", text)
	}
}

func TestSelectVoice(t *testing.T) {
	voices := []Voice{{Name: "Samantha", Lang: "en-US"}, {Name: "Daniel (French (France))", Lang: "fr-FR"}}
	tests := []struct {
		name     string
		voices   []Voice
		want     string
		expected string
		ok       bool
	}{
		{"by name", voices, "Daniel (French (France))", "Daniel (French (France))", true},
		{"fallback to first", voices, "Nobody", "Samantha", true},
		{"no voices", nil, "Samantha", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := SelectVoice(tc.voices, tc.want)
			if ok != tc.ok || v.Name != tc.expected {
				t.Errorf("SelectVoice(%q) = %q, %v; expected %q, %v", tc.want, v.Name, ok, tc.expected, tc.ok)
			}
		})
	}
}
