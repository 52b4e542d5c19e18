package models

import (
	"encoding/json"
	"time"
)

type Chat struct {
	ID        uint32    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Msgs      string    `db:"msgs" json:"msgs"` // []RoleMsg to string json
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (c Chat) ToHistory() ([]RoleMsg, error) {
	resp := []RoleMsg{}
	if c.Msgs == "" {
		return resp, nil
	}
	if err := json.Unmarshal([]byte(c.Msgs), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SessionRecord is the audit row of one avatar session attempt.
type SessionRecord struct {
	ID        uint32     `db:"id" json:"id"`
	SessionID string     `db:"session_id" json:"session_id"`
	AvatarID  string     `db:"avatar_id" json:"avatar_id"`
	VoiceID   string     `db:"voice_id" json:"voice_id"`
	State     string     `db:"state" json:"state"`
	Status    string     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}
