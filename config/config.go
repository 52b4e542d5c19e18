package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	LogFile  string `toml:"LogFile"`
	LogLevel string `toml:"LogLevel"`
	DBPATH   string `toml:"DBPATH"`
	ShowSys  bool   `toml:"ShowSys"`
	// tui theme name, see colors.go
	Colorscheme string `toml:"Colorscheme"`
	// roles
	UserRole      string `toml:"UserRole"`
	AssistantRole string `toml:"AssistantRole"`
	SysPrompt     string `toml:"SysPrompt"`
	// chat agent (openai compatible)
	ChatAPI     string `toml:"ChatAPI"`
	ChatModel   string `toml:"ChatModel"`
	OpenAIToken string `toml:"OpenAIToken"`
	// avatar service
	AvatarAPIRoot   string `toml:"AvatarAPIRoot"`
	AvatarAPIKey    string `toml:"AvatarAPIKey"`
	AvatarTokenURL  string `toml:"AvatarTokenURL"`
	AvatarID        string `toml:"AvatarID"`
	AvatarVoiceID   string `toml:"AvatarVoiceID"`
	AvatarQuality   string `toml:"AvatarQuality"`
	AvatarEventsURL string `toml:"AvatarEventsURL"`
	AvatarEnabled   bool   `toml:"AvatarEnabled"`
	// server
	ServerAddr   string `toml:"ServerAddr"`
	RequestLimit int    `toml:"RequestLimit"` // seconds
	// TTS
	TTS_ENABLED  bool    `toml:"TTS_ENABLED"`
	TTS_PROVIDER string  `toml:"TTS_PROVIDER"` // kokoro, google, log
	TTS_URL      string  `toml:"TTS_URL"`
	TTS_SPEED    float32 `toml:"TTS_SPEED"`
	TTS_LANGUAGE string  `toml:"TTS_LANGUAGE"`
	TTS_VOICE    string  `toml:"TTS_VOICE"`
	// STT
	STT_TYPE    string `toml:"STT_TYPE"` // WHISPER_SERVER, OPENAI
	STT_URL     string `toml:"STT_URL"`
	STT_SR      int    `toml:"STT_SR"`
	STT_ENABLED bool   `toml:"STT_ENABLED"`
	STT_LANG    string `toml:"STT_LANG"`
	STT_MODEL   string `toml:"STT_MODEL"`
	// seconds without voiced input before a recording stops itself; negative disables
	STT_INACTIVITY int `toml:"STT_INACTIVITY"`
	// peak 16-bit sample that counts as voiced input
	STT_SILENCE_LEVEL int `toml:"STT_SILENCE_LEVEL"`
	// microphone permission: granted, denied, prompt
	MicPermission string `toml:"MicPermission"`
}

func LoadConfig(fn string) (*Config, error) {
	if fn == "" {
		fn = "config.toml"
	}
	// secrets may live next to the config; a missing file is fine
	_ = godotenv.Load(".env.local")
	config := &Config{}
	_, err := toml.DecodeFile(fn, &config)
	if err != nil {
		return nil, err
	}
	config.fillDefaults()
	return config, nil
}

// fillDefaults sets the values left empty in config.toml.
func (c *Config) fillDefaults() {
	if c.LogFile == "" {
		c.LogFile = "log.txt"
	}
	if c.DBPATH == "" {
		c.DBPATH = "avatalk.db"
	}
	if c.UserRole == "" {
		c.UserRole = "user"
	}
	if c.AssistantRole == "" {
		c.AssistantRole = "assistant"
	}
	if c.ChatModel == "" {
		c.ChatModel = "gpt-4o-mini"
	}
	if c.AvatarAPIRoot == "" {
		c.AvatarAPIRoot = "https://api.heygen.com/v1"
	}
	if c.AvatarQuality == "" {
		c.AvatarQuality = "low"
	}
	if c.ServerAddr == "" {
		c.ServerAddr = "localhost"
	}
	if c.RequestLimit == 0 {
		c.RequestLimit = 30
	}
	if c.TTS_LANGUAGE == "" {
		c.TTS_LANGUAGE = "en-US"
	}
	if c.TTS_SPEED == 0 {
		c.TTS_SPEED = 1.0
	}
	if c.STT_SR == 0 {
		c.STT_SR = 16000
	}
	if c.STT_MODEL == "" {
		c.STT_MODEL = "whisper-1"
	}
	if c.STT_INACTIVITY == 0 {
		c.STT_INACTIVITY = 5
	}
	if c.STT_SILENCE_LEVEL == 0 {
		c.STT_SILENCE_LEVEL = 500
	}
	if c.MicPermission == "" {
		c.MicPermission = "prompt"
	}
	if c.OpenAIToken == "" {
		c.OpenAIToken = os.Getenv("OPENAI_API_KEY")
	}
	if c.AvatarAPIKey == "" {
		c.AvatarAPIKey = os.Getenv("AVATAR_API_KEY")
	}
}
