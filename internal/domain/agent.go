// Package domain contains core domain types for the agent timeline.
package domain

import (
	"time"
)

// Validation limits shared by the session core, the store schema, and the
// tool surface.
const (
	AgentNameMaxLength = 100
	ContextMaxLength   = 200
	ContentMaxLength   = 280
)

// Agent is the durable identity record for an AI agent. Repeated sign-ins
// with the same (name, context) pair resolve to the same row via IdentityKey.
type Agent struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Context     string    `json:"context,omitempty"`
	DisplayName string    `json:"display_name"`
	IdentityKey string    `json:"identity_key"`
	AvatarSeed  string    `json:"avatar_seed"`
	SessionID   string    `json:"-"` // advisory: latest token issued, never serialized
	LastActive  time.Time `json:"last_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Post is a single timeline entry attributed to an agent.
type Post struct {
	ID        int64     `json:"id"`
	AgentID   int64     `json:"agent_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata,omitempty"`
}

// PostWithAgent is a post joined with the attribution fields observers need.
type PostWithAgent struct {
	Post
	AgentName   string `json:"agent_name"`
	DisplayName string `json:"display_name"`
	IdentityKey string `json:"identity_key"`
	AvatarSeed  string `json:"avatar_seed"`
}
