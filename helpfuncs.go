package main

import (
	"avatalk/models"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	quotesRE    = regexp.MustCompile(`(".*?")`)
	starRE      = regexp.MustCompile(`(\*.*?\*)`)
	codeBlockRE = regexp.MustCompile("(?s)```.*?```")
	statusLine  = "F12 help; chat: %s; avatar: %s%s; tts: %v (speaking: %v, pending: %d); mic: %s; bot busy: %v\n%s"
)

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func chatToTextSlice(messages []models.RoleMsg, showSys bool) []string {
	resp := make([]string, 0, len(messages))
	for i := range messages {
		// INFO: skips system msg when showSys is false
		if !showSys && messages[i].Role == models.RoleSystem {
			continue
		}
		resp = append(resp, messages[i].ToText(i))
	}
	return resp
}

func chatToText(messages []models.RoleMsg, showSys bool) string {
	return colorize(strings.Join(chatToTextSlice(messages, showSys), "\n"))
}

// colorize adds tview color tags to quotes and emphasis, leaving code blocks alone.
func colorize(text string) string {
	var codeBlocks []string
	placeholder := "__CODE_BLOCK_%d__"
	text = codeBlockRE.ReplaceAllStringFunc(text, func(match string) string {
		codeBlocks = append(codeBlocks, fmt.Sprintf("[red::i]%s[-:-:-]", match))
		return fmt.Sprintf(placeholder, len(codeBlocks)-1)
	})
	text = quotesRE.ReplaceAllString(text, `[orange::-]$1[-:-:-]`)
	text = starRE.ReplaceAllString(text, `[turquoise::i]$1[-:-:-]`)
	for i, cb := range codeBlocks {
		text = strings.Replace(text, fmt.Sprintf(placeholder, i), cb, 1)
	}
	return text
}

func makeStatusLine(b *Bot) string {
	snap := b.avatar.Snapshot()
	talking := ""
	if snap.Talking {
		talking = " (talking)"
	}
	mic := "off"
	switch {
	case b.recorder != nil && b.recorder.IsRecording():
		mic = "recording"
	case b.RecordingEnabled():
		mic = "ready"
	}
	speaking, pending := false, 0
	if b.queue != nil {
		speaking, pending = b.queue.Speaking(), b.queue.Pending()
	}
	return fmt.Sprintf(statusLine, b.ChatName(), snap.State, talking, b.TTSEnabled(),
		speaking, pending, mic, b.Busy(), snap.Status)
}
