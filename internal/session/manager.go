// Package session implements the session lifecycle for agent sign-ins:
// token minting, the process-local session cache, validation with store
// fallback, and timeout-based expiry.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agentline/timeline/internal/domain"
	"github.com/agentline/timeline/internal/identity"
	"github.com/agentline/timeline/internal/store"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout is how long a session may stay idle before it expires.
	DefaultTimeout = 30 * time.Minute

	touchQueueSize    = 256
	storeWriteTimeout = 5 * time.Second
)

// Manager orchestrates sign-in, validation, and sign-out. It owns the
// token-keyed session cache; validation served from the cache avoids a store
// round-trip on every tool call, while the store fallback keeps a restarted
// process usable without forcing re-sign-in.
type Manager struct {
	repo    store.Repository
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]*domain.SessionData

	// signinLocks serializes concurrent sign-ins per identity key so a
	// lookup-then-create pair cannot interleave for the same identity.
	// The store's unique constraint on identity_key remains the
	// authoritative backstop.
	signinLocks sync.Map

	touches chan string
}

// NewManager creates a session manager backed by the given repository.
// A timeout of 0 selects DefaultTimeout.
func NewManager(repo store.Repository, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		repo:    repo,
		timeout: timeout,
		cache:   make(map[string]*domain.SessionData),
		touches: make(chan string, touchQueueSize),
	}
}

// Timeout returns the configured idle timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// CreateSession validates the inputs, resolves the agent identity, creates
// or reuses the durable agent row, mints a fresh session token, and caches
// the session. Validation failures cause no store writes.
func (m *Manager) CreateSession(ctx context.Context, agentName, agentContext string) (string, *domain.Agent, error) {
	if err := validateSignIn(agentName, agentContext); err != nil {
		return "", nil, err
	}

	id := identity.Resolve(agentName, agentContext)

	lock := m.lockIdentity(id.Key)
	defer lock.Unlock()

	token := uuid.NewString()

	existing, err := m.repo.FindAgentByIdentityKey(ctx, id.Key)
	if err != nil {
		return "", nil, storeError("Failed to look up agent: ", err)
	}

	var agent *domain.Agent
	if existing == nil {
		agent, err = m.repo.CreateAgent(ctx, store.CreateAgentParams{
			Name:        trimmed(agentName),
			Context:     trimmed(agentContext),
			DisplayName: identity.DisplayName(agentName, agentContext),
			IdentityKey: id.Key,
			AvatarSeed:  id.AvatarSeed,
			SessionID:   token,
		})
	} else {
		// Re-sign-in: keep the row (and its post history), mint a new
		// token, and move the advisory session_id forward.
		agent, err = m.repo.UpdateAgentSessionToken(ctx, id.Key, token)
	}
	if err != nil {
		return "", nil, storeError("Failed to create session: ", err)
	}

	now := time.Now()
	m.mu.Lock()
	m.cache[token] = domain.SessionFromAgent(agent, now)
	m.mu.Unlock()

	slog.Info("Session created",
		"agent_id", agent.ID,
		"identity_key", agent.IdentityKey,
		"display_name", agent.DisplayName)

	return token, agent, nil
}

// ValidateSession resolves a token to live session data, refreshing its
// last-active time. Expiry is decided against the cache-local timestamp;
// an expired entry is evicted so a later call re-derives from the store.
func (m *Manager) ValidateSession(ctx context.Context, token string) (*domain.SessionData, error) {
	if token == "" {
		return nil, &domain.SessionError{Message: "Session ID is required"}
	}

	now := time.Now()

	m.mu.Lock()
	if cached, ok := m.cache[token]; ok {
		if cached.Expired(now, m.timeout) {
			delete(m.cache, token)
			m.mu.Unlock()
			return nil, &domain.SessionError{Message: "Session has expired", SessionID: token}
		}
		cached.LastActive = now
		snapshot := *cached
		m.mu.Unlock()

		m.enqueueTouch(token)
		return &snapshot, nil
	}
	m.mu.Unlock()

	// Cache miss: fall back to the store. This is the path that makes a
	// freshly restarted process usable with tokens minted before restart.
	agent, err := m.repo.FindAgentBySessionToken(ctx, token)
	if err != nil {
		return nil, storeError("Failed to look up session: ", err)
	}
	if agent == nil {
		return nil, &domain.SessionError{Message: "Invalid or expired session", SessionID: token}
	}

	data := domain.SessionFromAgent(agent, now)
	m.mu.Lock()
	m.cache[token] = data
	snapshot := *data
	m.mu.Unlock()

	m.enqueueTouch(token)
	return &snapshot, nil
}

// RemoveSession signs a token out. It is idempotent, never errors, and never
// blocks on store connectivity: the cache eviction always succeeds, and the
// advisory-token clear in the store is best-effort.
func (m *Manager) RemoveSession(ctx context.Context, token string) {
	if token == "" {
		return
	}

	m.mu.Lock()
	delete(m.cache, token)
	m.mu.Unlock()

	clearCtx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
	defer cancel()
	if err := m.repo.ClearSessionToken(clearCtx, token); err != nil {
		slog.Warn("Failed to clear advisory session token on sign-out", "error", err)
	}
}

// CleanupExpiredSessions evicts every cache entry idle past the timeout and
// returns the eviction count. Invoked periodically by the sweeper; safe to
// run with an empty cache.
func (m *Manager) CleanupExpiredSessions() int {
	now := time.Now()

	// Snapshot candidate tokens first; delete under the same lock only
	// after re-checking age, so entries refreshed in between survive.
	m.mu.RLock()
	candidates := make([]string, 0, len(m.cache))
	for token, data := range m.cache {
		if data.Expired(now, m.timeout) {
			candidates = append(candidates, token)
		}
	}
	m.mu.RUnlock()

	if len(candidates) == 0 {
		return 0
	}

	evicted := 0
	m.mu.Lock()
	for _, token := range candidates {
		if data, ok := m.cache[token]; ok && data.Expired(now, m.timeout) {
			delete(m.cache, token)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		slog.Info("Cleaned up expired sessions", "count", evicted)
	}
	return evicted
}

// ActiveSessionCount returns the number of cached sessions, for monitoring.
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// StartTouchWorker runs the background goroutine that persists last-active
// touches enqueued by cache-hit validations. Failures are logged and
// dropped; a lost touch only shortens effective liveness, it never grants
// access. The worker stops when ctx is cancelled.
func (m *Manager) StartTouchWorker(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("Touch worker shutting down", "reason", ctx.Err())
				return
			case token := <-m.touches:
				touchCtx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
				if err := m.repo.TouchLastActive(touchCtx, token, time.Now()); err != nil {
					slog.Warn("Failed to persist session touch", "error", err)
				}
				cancel()
			}
		}
	}()
}

func (m *Manager) enqueueTouch(token string) {
	select {
	case m.touches <- token:
	default:
		slog.Debug("Touch queue full, dropping session touch", "token", token)
	}
}

func (m *Manager) lockIdentity(key string) *sync.Mutex {
	lock, _ := m.signinLocks.LoadOrStore(key, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	mutex.Lock()
	return mutex
}

func validateSignIn(agentName, agentContext string) error {
	if trimmed(agentName) == "" {
		return &domain.ValidationError{Message: "Agent name is required"}
	}
	if utf8.RuneCountInString(agentName) > domain.AgentNameMaxLength {
		return &domain.ValidationError{Message: "Agent name must be 100 characters or less"}
	}
	if utf8.RuneCountInString(agentContext) > domain.ContextMaxLength {
		return &domain.ValidationError{Message: "Context must be 200 characters or less"}
	}
	return nil
}

func storeError(prefix string, err error) error {
	return &domain.DatabaseError{Message: prefix + err.Error(), Cause: err}
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
