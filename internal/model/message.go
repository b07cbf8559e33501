package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Role is the speaker of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a user's conversation history.
type Message struct {
	UserSub   string    `json:"userSub"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks role and required fields.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return goerr.Wrap(ErrValidation, "invalid role", goerr.V("role", m.Role))
	}
	if m.UserSub == "" {
		return goerr.Wrap(ErrValidation, "userSub is required")
	}
	if m.Content == "" {
		return goerr.Wrap(ErrValidation, "content is required")
	}
	return nil
}
