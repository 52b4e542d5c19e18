package models

type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateInitializing  SessionState = "initializing"
	StateReady         SessionState = "ready"
	StateActive        SessionState = "active"
	StateEnded         SessionState = "ended"
)

// CanSpeak reports whether speak and interrupt requests are allowed.
func (s SessionState) CanSpeak() bool {
	return s == StateReady || s == StateActive
}

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// MediaStream is the handle a viewer needs to attach to the avatar video.
type MediaStream struct {
	URL         string      `json:"url"`
	AccessToken string      `json:"access_token"`
	SDP         string      `json:"sdp,omitempty"`
	ICEServers  []ICEServer `json:"ice_servers,omitempty"`
}

type AvatarSession struct {
	SessionID   string       `json:"session_id"`
	AccessToken string       `json:"-"`
	AvatarID    string       `json:"avatar_id"`
	VoiceID     string       `json:"voice_id"`
	State       SessionState `json:"state"`
	Stream      *MediaStream `json:"stream,omitempty"`
	Status      string       `json:"status"`
	Talking     bool         `json:"talking"`
}
