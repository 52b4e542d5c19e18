package main

import (
	"avatalk/models"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

func historyToSJSON(msgs []models.RoleMsg) (string, error) {
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", fmt.Errorf("nil data")
	}
	return string(data), nil
}

// saveChat writes the current history to the active chat row.
func (b *Bot) saveChat() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chat == nil {
		return fmt.Errorf("no active chat")
	}
	msgs, err := historyToSJSON(b.messages)
	if err != nil {
		return err
	}
	b.chat.Msgs = msgs
	b.chat.UpdatedAt = time.Now()
	_, err = b.store.UpsertChat(b.chat)
	return err
}

// newChat starts an empty conversation under the next free id. Without a
// known max id the active chat is left as it was.
func (b *Bot) newChat() error {
	id, err := b.store.ChatGetMaxID()
	if err != nil {
		b.logger.Error("failed to get max chat id from db", "error", err)
		return fmt.Errorf("failed to get max chat id: %w", err)
	}
	now := time.Now()
	chat := &models.Chat{
		ID:        id + 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	chat.Name = fmt.Sprintf("%d_%s", chat.ID, b.cfg.AssistantRole)
	b.mu.Lock()
	b.chat = chat
	b.messages = nil
	b.mu.Unlock()
	if hl, ok := b.agent.(historyLoader); ok {
		hl.LoadHistory(nil)
	}
	return nil
}

// loadOldChatOrGetNew resumes the most recently updated chat.
func (b *Bot) loadOldChatOrGetNew() error {
	chat, err := b.store.GetLastChat()
	if errors.Is(err, sql.ErrNoRows) {
		return b.newChat()
	}
	if err == nil {
		var history []models.RoleMsg
		history, err = chat.ToHistory()
		if err == nil {
			b.mu.Lock()
			b.chat = chat
			b.messages = history
			b.mu.Unlock()
			if hl, ok := b.agent.(historyLoader); ok {
				hl.LoadHistory(history)
			}
			return nil
		}
	}
	if nerr := b.newChat(); nerr != nil {
		return errors.Join(err, nerr)
	}
	return err
}

func notifyUser(topic, message string) error {
	cmd := exec.Command("notify-send", topic, message)
	return cmd.Run()
}

// chatNames lists stored chats, most recent last.
func (b *Bot) chatNames() ([]string, error) {
	chats, err := b.store.ListChats()
	if err != nil {
		return nil, err
	}
	resp := make([]string, 0, len(chats))
	for _, chat := range chats {
		if chat.Name == "" {
			chat.Name = fmt.Sprintf("%d_%v", chat.ID, chat.CreatedAt.Unix())
		}
		resp = append(resp, chat.Name)
	}
	return resp, nil
}

// switchChat makes the named chat active and hands its history to the agent.
func (b *Bot) switchChat(name string) error {
	chats, err := b.store.ListChats()
	if err != nil {
		return err
	}
	for i := range chats {
		if chats[i].Name != name {
			continue
		}
		history, err := chats[i].ToHistory()
		if err != nil {
			return fmt.Errorf("failed to read chat %s: %w", name, err)
		}
		b.mu.Lock()
		b.chat = &chats[i]
		b.messages = history
		b.mu.Unlock()
		if hl, ok := b.agent.(historyLoader); ok {
			hl.LoadHistory(history)
		}
		return nil
	}
	return fmt.Errorf("no chat named %q", name)
}
