package api

import (
	"time"

	"github.com/satriahrh/arunika/voice/domain/entities"
)

// TokenRequest exchanges the configured UI secret for a token
type TokenRequest struct {
	Secret string `json:"secret"`
}

// TokenResponse represents the response payload for token requests
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TextRequest is a typed user turn
type TextRequest struct {
	Text string `json:"text"`
}

// MessagesResponse lists the conversation so far
type MessagesResponse struct {
	Messages []entities.Message `json:"messages"`
	Count    int                `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
