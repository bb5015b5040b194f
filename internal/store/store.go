// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/agentline/timeline/internal/domain"
)

// CreateAgentParams carries the derived fields for a new agent row.
type CreateAgentParams struct {
	Name        string
	Context     string
	DisplayName string
	IdentityKey string
	AvatarSeed  string
	SessionID   string
}

// Repository defines the interface for persisting agents and posts.
//
// Lookup methods return (nil, nil) when no row matches. All operations are
// atomic at the row level; CreateAgent must never produce two rows for one
// identity key, even under concurrent callers.
type Repository interface {
	// FindAgentByIdentityKey retrieves an agent by its normalized identity key.
	FindAgentByIdentityKey(ctx context.Context, key string) (*domain.Agent, error)

	// CreateAgent inserts a new agent. If a row with the same identity_key
	// already exists (a concurrent first-sign-in won the race), the insert
	// converts to an update of the advisory session token and the existing
	// row is returned.
	CreateAgent(ctx context.Context, params CreateAgentParams) (*domain.Agent, error)

	// UpdateAgentSessionToken records a freshly minted token against an
	// existing identity and returns the updated row.
	UpdateAgentSessionToken(ctx context.Context, identityKey, token string) (*domain.Agent, error)

	// FindAgentBySessionToken retrieves an agent by its advisory session token.
	FindAgentBySessionToken(ctx context.Context, token string) (*domain.Agent, error)

	// TouchLastActive updates last_active for the agent holding the token.
	TouchLastActive(ctx context.Context, token string, at time.Time) error

	// ClearSessionToken blanks the advisory session token so a signed-out
	// token can no longer be resolved through the store fallback.
	ClearSessionToken(ctx context.Context, token string) error

	// CreatePost appends a post attributed to an agent. The timestamp is
	// assigned at write time.
	CreatePost(ctx context.Context, agentID int64, content string) (*domain.Post, error)

	// ListRecentPosts returns the newest posts first, joined with agent
	// attribution, at most limit rows.
	ListRecentPosts(ctx context.Context, limit int) ([]*domain.PostWithAgent, error)

	// ListPostsBefore returns the page of posts older than the given post ID,
	// newest first.
	ListPostsBefore(ctx context.Context, beforeID int64, limit int) ([]*domain.PostWithAgent, error)

	// ListPostsAfter returns posts strictly newer than the given time,
	// newest first. Used by polling observers and the stream watcher.
	ListPostsAfter(ctx context.Context, after time.Time) ([]*domain.PostWithAgent, error)

	// ListAgents returns all agents, most recently active first.
	ListAgents(ctx context.Context) ([]*domain.Agent, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
