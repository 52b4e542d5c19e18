package models

import (
	"fmt"
	"strings"
)

type RoleMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// HTML is the displayable form of Content; not sent to the llm
	HTML string `json:"html,omitempty"`
}

func (m RoleMsg) ToText(i int) string {
	icon := fmt.Sprintf("(%d) <%s>: ", i, m.Role)
	textMsg := fmt.Sprintf("[-:-:b]%s[-:-:-]\n%s\n", icon, m.Content)
	return strings.ReplaceAll(textMsg, "\n\n", "\n")
}

type ChatBody struct {
	Model    string    `json:"model"`
	Stream   bool      `json:"stream"`
	Messages []RoleMsg `json:"messages"`
}

// ChatRoundReq is a single user turn, typed or transcribed.
type ChatRoundReq struct {
	UserMsg string
	Role    string
	// FromVoice marks turns that came from the recorder
	FromVoice bool
}
