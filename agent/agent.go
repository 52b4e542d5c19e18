// Package agent answers user turns with an openai compatible chat model.
package agent

import (
	"avatalk/config"
	"avatalk/models"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

var ErrEmptyReply = errors.New("agent returned no choices")

// Reply is one agent answer; HTML is the displayable rendering of Text.
type Reply struct {
	Text string
	HTML string
}

// Agent is invoked the same way for typed and transcribed turns.
type Agent interface {
	SubmitUserMessage(ctx context.Context, text string) (Reply, error)
}

type OpenAIAgent struct {
	client        *openai.Client
	model         string
	sysprompt     string
	userRole      string
	assistantRole string
	logger        *slog.Logger

	mu      sync.Mutex
	history []models.RoleMsg
}

func NewOpenAIAgent(cfg *config.Config, logger *slog.Logger) *OpenAIAgent {
	oc := openai.DefaultConfig(cfg.OpenAIToken)
	if cfg.ChatAPI != "" {
		oc.BaseURL = cfg.ChatAPI
	}
	a := NewOpenAIAgentWithClient(openai.NewClientWithConfig(oc), cfg.ChatModel, cfg.SysPrompt, logger)
	a.userRole = cfg.UserRole
	a.assistantRole = cfg.AssistantRole
	return a
}

func NewOpenAIAgentWithClient(client *openai.Client, model, sysprompt string, logger *slog.Logger) *OpenAIAgent {
	return &OpenAIAgent{
		client:        client,
		model:         model,
		sysprompt:     sysprompt,
		userRole:      openai.ChatMessageRoleUser,
		assistantRole: openai.ChatMessageRoleAssistant,
		logger:        logger,
	}
}

// History returns a copy of the conversation so far, without the system prompt.
func (a *OpenAIAgent) History() []models.RoleMsg {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.RoleMsg(nil), a.history...)
}

// LoadHistory replaces the conversation, e.g. with a chat restored from storage.
func (a *OpenAIAgent) LoadHistory(msgs []models.RoleMsg) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = a.history[:0]
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		a.history = append(a.history, m)
	}
}

func (a *OpenAIAgent) SubmitUserMessage(ctx context.Context, text string) (Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	userMsg := models.RoleMsg{Role: a.userRole, Content: text}
	body := a.formMsg(userMsg)
	resp, err := a.client.CreateChatCompletion(ctx, toRequest(body, a.userRole, a.assistantRole))
	if err != nil {
		a.logger.Error("chat completion failed", "model", a.model, "error", err)
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, ErrEmptyReply
	}
	content := resp.Choices[0].Message.Content
	html, err := ToHTML(content)
	if err != nil {
		a.logger.Warn("failed to render reply", "error", err)
		html = ""
	}
	a.history = append(a.history, userMsg,
		models.RoleMsg{Role: a.assistantRole, Content: content, HTML: html})
	a.logger.Debug("agent replied", "model", a.model, "chars", len(content))
	return Reply{Text: content, HTML: html}, nil
}

func (a *OpenAIAgent) formMsg(userMsg models.RoleMsg) *models.ChatBody {
	msgs := make([]models.RoleMsg, 0, len(a.history)+2)
	if a.sysprompt != "" {
		msgs = append(msgs, models.RoleMsg{Role: models.RoleSystem, Content: a.sysprompt})
	}
	msgs = append(msgs, a.history...)
	msgs = append(msgs, userMsg)
	return &models.ChatBody{Model: a.model, Messages: msgs}
}

// toRequest maps configured role names onto the roles the api understands.
func toRequest(body *models.ChatBody, userRole, assistantRole string) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: body.Model, Stream: false}
	for _, m := range body.Messages {
		role := m.Role
		switch role {
		case userRole:
			role = openai.ChatMessageRoleUser
		case assistantRole:
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return req
}
