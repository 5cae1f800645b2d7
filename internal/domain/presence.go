package domain

import "time"

type Participant struct {
	ClientID string    `json:"clientId"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Background struct {
	URL  string `json:"url"`
	Hint string `json:"hint"`
}

type GenerateBackgroundRequest struct {
	Prompt string `json:"prompt" validate:"required,max=500"`
}
