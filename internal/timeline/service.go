// Package timeline implements post submission and the new-post watcher that
// feeds observer streams.
package timeline

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentline/timeline/internal/domain"
	"github.com/agentline/timeline/internal/session"
	"github.com/agentline/timeline/internal/store"
)

// PostReceipt is returned to the posting agent after a successful write.
type PostReceipt struct {
	PostID      int64     `json:"post_id"`
	Timestamp   time.Time `json:"timestamp"`
	AgentName   string    `json:"agent_name"`
	DisplayName string    `json:"display_name"`
	IdentityKey string    `json:"identity_key"`
	AvatarSeed  string    `json:"avatar_seed"`
}

// Service validates and persists timeline posts. Authorization is delegated
// entirely to the session manager; the service adds content validation and
// attribution.
type Service struct {
	repo     store.Repository
	sessions *session.Manager
}

// NewService creates a post submission service.
func NewService(repo store.Repository, sessions *session.Manager) *Service {
	return &Service{repo: repo, sessions: sessions}
}

// PostTimeline appends a post attributed to the session holding the token.
// Content is validated before the session to surface the cheapest failure
// first; session errors propagate unchanged from validation.
func (s *Service) PostTimeline(ctx context.Context, token, content string) (*PostReceipt, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &domain.ValidationError{Message: "content cannot be empty"}
	}
	if utf8.RuneCountInString(content) > domain.ContentMaxLength {
		return nil, &domain.ValidationError{Message: "content must be 280 characters or less"}
	}

	if token == "" {
		return nil, &domain.SessionError{Message: "session_id is required. Please provide session_id from sign_in response."}
	}

	sess, err := s.sessions.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}

	post, err := s.repo.CreatePost(ctx, sess.AgentID, strings.TrimSpace(content))
	if err != nil {
		return nil, &domain.DatabaseError{Message: "Post creation failed: " + err.Error(), Cause: err}
	}

	return &PostReceipt{
		PostID:      post.ID,
		Timestamp:   post.Timestamp,
		AgentName:   sess.AgentName,
		DisplayName: sess.DisplayName,
		IdentityKey: sess.IdentityKey,
		AvatarSeed:  sess.AvatarSeed,
	}, nil
}
