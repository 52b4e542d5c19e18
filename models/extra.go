package models

type AudioFormat string

const AFMP3 AudioFormat = "mp3"
