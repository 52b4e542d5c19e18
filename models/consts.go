package models

const (
	RoleSystem = "system"
	// DefaultLang is used for utterances submitted without a language tag
	DefaultLang = "en-US"
)
