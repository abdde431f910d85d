package model

import "strings"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one message of caller-owned chat history.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NormalizeRole maps a free-form role onto system/user/assistant; anything
// unrecognised is treated as the user.
func NormalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleSystem:
		return RoleSystem
	case RoleAssistant:
		return RoleAssistant
	default:
		return RoleUser
	}
}
