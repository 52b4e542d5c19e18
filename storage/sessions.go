package storage

import (
	"avatalk/models"
	"time"
)

// SessionLog keeps one row per avatar session attempt, failed ones included.
type SessionLog interface {
	RecordSession(rec *models.SessionRecord) (*models.SessionRecord, error)
	EndSession(sessionID, status string, endedAt time.Time) error
	ListSessions(limit int) ([]models.SessionRecord, error)
}

func (p ProviderSQL) RecordSession(rec *models.SessionRecord) (*models.SessionRecord, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `INSERT INTO avatar_sessions (session_id, avatar_id, voice_id, state, status, created_at)
        VALUES (:session_id, :avatar_id, :voice_id, :state, :status, :created_at) RETURNING *;`
	stmt, err := p.db.PrepareNamed(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var resp models.SessionRecord
	if err := stmt.Get(&resp, rec); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p ProviderSQL) EndSession(sessionID, status string, endedAt time.Time) error {
	query := `UPDATE avatar_sessions SET state = $1, status = $2, ended_at = $3
        WHERE session_id = $4 AND ended_at IS NULL;`
	_, err := p.db.Exec(query, string(models.StateEnded), status, endedAt, sessionID)
	return err
}

func (p ProviderSQL) ListSessions(limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	resp := []models.SessionRecord{}
	err := p.db.Select(&resp, "SELECT * FROM avatar_sessions ORDER BY id DESC LIMIT $1;", limit)
	return resp, err
}
