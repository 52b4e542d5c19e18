package speech

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

var (
	htmlTagRE        = regexp.MustCompile(`<[^>]*>`)
	tableSeparatorRE = regexp.MustCompile(`^\s*\|\s*[-=:\s|]+\|\s*$`)
	markdownReplacer = strings.NewReplacer(
		"*", "",
		"#", "",
		"_", "",
		"~", "",
		"`", "",
		"[", "",
		"]", "",
	)
	tokenizer *sentences.DefaultSentenceTokenizer
)

func init() {
	var err error
	tokenizer, err = english.NewSentenceTokenizer(nil)
	if err != nil {
		panic(err)
	}
}

// CleanText removes markdown and markup that should not be read aloud.
func CleanText(text string) string {
	text = markdownReplacer.Replace(text)
	text = htmlTagRE.ReplaceAllString(text, "")
	lines := strings.Split(text, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		if tableSeparatorRE.MatchString(line) {
			continue
		}
		filtered = append(filtered, strings.ReplaceAll(line, "|", ""))
	}
	return strings.TrimSpace(strings.Join(filtered, "\n"))
}

// SplitSentences breaks text into sentences, skipping empty ones.
func SplitSentences(text string) []string {
	resp := []string{}
	for _, s := range tokenizer.Tokenize(text) {
		if t := strings.TrimSpace(s.Text); t != "" {
			resp = append(resp, t)
		}
	}
	return resp
}

// PlainText extracts speakable text from a rendered reply; code blocks are dropped.
func PlainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("pre, script, style").Remove()
	// keep block boundaries so sentences do not run together
	doc.Find("p, li, h1, h2, h3, h4, h5, h6, blockquote, tr, div").Each(func(_ int, s *goquery.Selection) {
		s.SetText(s.Text() + "\n")
	})
	return strings.TrimSpace(doc.Text()), nil
}

// Utterances turns a reply into the list of texts to submit to the queue.
func Utterances(text string) []string {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil
	}
	return SplitSentences(cleaned)
}
