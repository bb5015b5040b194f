package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentline/timeline/internal/domain"
	"github.com/agentline/timeline/internal/store"
)

// fakeRepo is an in-memory Repository for exercising the manager without
// SQLite. It counts writes so tests can assert side-effect-free paths.
type fakeRepo struct {
	mu          sync.Mutex
	agents      map[string]*domain.Agent // keyed by identity key
	nextID      int64
	createCalls int
	failAll     bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{agents: make(map[string]*domain.Agent)}
}

var errStoreDown = errors.New("store unavailable")

func (f *fakeRepo) FindAgentByIdentityKey(_ context.Context, key string) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errStoreDown
	}
	if a, ok := f.agents[key]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeRepo) CreateAgent(_ context.Context, params store.CreateAgentParams) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errStoreDown
	}
	f.createCalls++
	if a, ok := f.agents[params.IdentityKey]; ok {
		a.SessionID = params.SessionID
		a.LastActive = time.Now()
		copied := *a
		return &copied, nil
	}
	f.nextID++
	a := &domain.Agent{
		ID:          f.nextID,
		Name:        params.Name,
		Context:     params.Context,
		DisplayName: params.DisplayName,
		IdentityKey: params.IdentityKey,
		AvatarSeed:  params.AvatarSeed,
		SessionID:   params.SessionID,
		LastActive:  time.Now(),
		CreatedAt:   time.Now(),
	}
	f.agents[params.IdentityKey] = a
	copied := *a
	return &copied, nil
}

func (f *fakeRepo) UpdateAgentSessionToken(_ context.Context, identityKey, token string) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errStoreDown
	}
	a, ok := f.agents[identityKey]
	if !ok {
		return nil, errors.New("no such identity")
	}
	a.SessionID = token
	a.LastActive = time.Now()
	copied := *a
	return &copied, nil
}

func (f *fakeRepo) FindAgentBySessionToken(_ context.Context, token string) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errStoreDown
	}
	if token == "" {
		return nil, nil
	}
	for _, a := range f.agents {
		if a.SessionID == token {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) TouchLastActive(_ context.Context, token string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.SessionID == token {
			a.LastActive = at
		}
	}
	return nil
}

func (f *fakeRepo) ClearSessionToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errStoreDown
	}
	for _, a := range f.agents {
		if a.SessionID == token {
			a.SessionID = ""
		}
	}
	return nil
}

func (f *fakeRepo) CreatePost(_ context.Context, agentID int64, content string) (*domain.Post, error) {
	return &domain.Post{ID: 1, AgentID: agentID, Content: content, Timestamp: time.Now()}, nil
}

func (f *fakeRepo) ListRecentPosts(context.Context, int) ([]*domain.PostWithAgent, error) {
	return nil, nil
}

func (f *fakeRepo) ListPostsBefore(context.Context, int64, int) ([]*domain.PostWithAgent, error) {
	return nil, nil
}

func (f *fakeRepo) ListPostsAfter(context.Context, time.Time) ([]*domain.PostWithAgent, error) {
	return nil, nil
}

func (f *fakeRepo) ListAgents(context.Context) ([]*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var agents []*domain.Agent
	for _, a := range f.agents {
		copied := *a
		agents = append(agents, &copied)
	}
	return agents, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

func (f *fakeRepo) agentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.agents)
}

// setLastActive rewrites the cached timestamp for a token, simulating idle time.
func setLastActive(m *Manager, token string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.cache[token]
	if ok {
		data.LastActive = at
	}
	return ok
}

func cached(m *Manager, token string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cache[token]
	return ok
}

func TestCreateSessionValidation(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	tests := []struct {
		name    string
		agent   string
		context string
	}{
		{"empty name", "", ""},
		{"whitespace name", "   ", ""},
		{"name too long", strings.Repeat("x", 101), ""},
		{"context too long", "Claude", strings.Repeat("x", 201)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := mgr.CreateSession(ctx, tt.agent, tt.context)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
		})
	}

	if repo.createCalls != 0 {
		t.Errorf("Validation failures must not write to the store, got %d creates", repo.createCalls)
	}
	if mgr.ActiveSessionCount() != 0 {
		t.Errorf("Validation failures must not populate the cache, got %d entries", mgr.ActiveSessionCount())
	}
}

func TestCreateSessionBoundaryLengths(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)

	token, agent, err := mgr.CreateSession(context.Background(), strings.Repeat("n", 100), strings.Repeat("c", 200))
	if err != nil {
		t.Fatalf("Boundary-length sign-in failed: %v", err)
	}
	if token == "" || agent == nil {
		t.Fatal("Expected token and agent for boundary-length sign-in")
	}
}

func TestCreateSessionNewAgent(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	token, agent, err := mgr.CreateSession(ctx, "Claude", "testing")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty session token")
	}
	if agent.DisplayName != "Claude - testing" {
		t.Errorf("Expected display name %q, got %q", "Claude - testing", agent.DisplayName)
	}
	if agent.IdentityKey != "claude:testing" {
		t.Errorf("Expected identity key %q, got %q", "claude:testing", agent.IdentityKey)
	}
	if agent.AvatarSeed == "" {
		t.Error("Expected non-empty avatar seed")
	}

	data, err := mgr.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession on fresh session failed: %v", err)
	}
	if data.AgentID != agent.ID {
		t.Errorf("Validated agent id %d does not match sign-in id %d", data.AgentID, agent.ID)
	}
}

func TestSignInTwiceSameIdentity(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	token1, agent1, err := mgr.CreateSession(ctx, "Claude", "testing")
	if err != nil {
		t.Fatalf("First sign-in failed: %v", err)
	}
	token2, agent2, err := mgr.CreateSession(ctx, "Claude", "testing")
	if err != nil {
		t.Fatalf("Second sign-in failed: %v", err)
	}

	if token1 == token2 {
		t.Error("Expected distinct tokens for repeated sign-ins")
	}
	if agent1.ID != agent2.ID {
		t.Errorf("Expected one agent row, got ids %d and %d", agent1.ID, agent2.ID)
	}
	if agent1.IdentityKey != agent2.IdentityKey {
		t.Errorf("Identity keys diverged: %q vs %q", agent1.IdentityKey, agent2.IdentityKey)
	}
	if repo.agentCount() != 1 {
		t.Errorf("Expected 1 agent row, got %d", repo.agentCount())
	}
}

func TestConcurrentSignInsSingleAgent(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]int64, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, agent, err := mgr.CreateSession(ctx, "Claude", "testing")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = agent.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Concurrent sign-in %d failed: %v", i, err)
		}
	}
	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("Concurrent sign-ins produced different agents: %d vs %d", ids[0], ids[i])
		}
	}
	if repo.agentCount() != 1 {
		t.Errorf("Expected exactly 1 agent row, got %d", repo.agentCount())
	}
	if repo.createCalls != 1 {
		t.Errorf("Expected exactly 1 create call under the identity lock, got %d", repo.createCalls)
	}
}

func TestValidateSessionMissingToken(t *testing.T) {
	mgr := NewManager(newFakeRepo(), time.Minute)

	_, err := mgr.ValidateSession(context.Background(), "")
	var serr *domain.SessionError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected SessionError, got %v", err)
	}
	if serr.Message != "Session ID is required" {
		t.Errorf("Unexpected message: %q", serr.Message)
	}
}

func TestValidateSessionUnknownToken(t *testing.T) {
	mgr := NewManager(newFakeRepo(), time.Minute)

	_, err := mgr.ValidateSession(context.Background(), "no-such-token")
	var serr *domain.SessionError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected SessionError, got %v", err)
	}
	if serr.Message != "Invalid or expired session" {
		t.Errorf("Unexpected message: %q", serr.Message)
	}
}

func TestValidateSessionExpired(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	token, _, err := mgr.CreateSession(ctx, "Claude", "testing")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if !setLastActive(mgr, token, time.Now().Add(-2*time.Minute)) {
		t.Fatal("Session missing from cache after sign-in")
	}

	_, err = mgr.ValidateSession(ctx, token)
	var serr *domain.SessionError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected SessionError, got %v", err)
	}
	if serr.Message != "Session has expired" {
		t.Errorf("Unexpected message: %q", serr.Message)
	}
	if cached(mgr, token) {
		t.Error("Expired session still present in cache after validation")
	}
}

func TestValidateSessionStoreFallback(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	token, agent, err := mgr.CreateSession(ctx, "Claude", "testing")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// A restarted process has an empty cache but the same store.
	restarted := NewManager(repo, time.Minute)
	data, err := restarted.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("Store-fallback validation failed: %v", err)
	}
	if data.AgentID != agent.ID {
		t.Errorf("Fallback resolved agent %d, want %d", data.AgentID, agent.ID)
	}
	if !cached(restarted, token) {
		t.Error("Fallback validation should repopulate the cache")
	}
}

func TestValidateSessionStoreError(t *testing.T) {
	repo := newFakeRepo()
	repo.failAll = true
	mgr := NewManager(repo, time.Minute)

	_, err := mgr.ValidateSession(context.Background(), "some-token")
	var derr *domain.DatabaseError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected DatabaseError, got %v", err)
	}
}

func TestCreateSessionStoreError(t *testing.T) {
	repo := newFakeRepo()
	repo.failAll = true
	mgr := NewManager(repo, time.Minute)

	_, _, err := mgr.CreateSession(context.Background(), "Claude", "testing")
	var derr *domain.DatabaseError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected DatabaseError, got %v", err)
	}
}

func TestRemoveSession(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	token, _, err := mgr.CreateSession(ctx, "Claude", "testing")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	mgr.RemoveSession(ctx, token)

	if cached(mgr, token) {
		t.Error("Session still cached after RemoveSession")
	}
	if _, err := mgr.ValidateSession(ctx, token); err == nil {
		t.Error("Expected validation to fail after sign-out")
	}

	// Idempotent: removing again, or removing garbage, must not panic.
	mgr.RemoveSession(ctx, token)
	mgr.RemoveSession(ctx, "never-existed")
	mgr.RemoveSession(ctx, "")
}

func TestRemoveSessionSurvivesStoreFailure(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	token, _, err := mgr.CreateSession(ctx, "Claude", "testing")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	repo.failAll = true
	mgr.RemoveSession(ctx, token)

	if cached(mgr, token) {
		t.Error("Cache eviction must succeed even when the store is down")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx := context.Background()

	stale1, _, err := mgr.CreateSession(ctx, "Claude", "one")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	stale2, _, err := mgr.CreateSession(ctx, "Claude", "two")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	fresh, _, err := mgr.CreateSession(ctx, "Claude", "three")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	setLastActive(mgr, stale1, time.Now().Add(-2*time.Minute))
	setLastActive(mgr, stale2, time.Now().Add(-3*time.Minute))

	evicted := mgr.CleanupExpiredSessions()
	if evicted != 2 {
		t.Errorf("Expected 2 evictions, got %d", evicted)
	}
	if cached(mgr, stale1) || cached(mgr, stale2) {
		t.Error("Stale sessions survived cleanup")
	}
	if !cached(mgr, fresh) {
		t.Error("Fresh session was evicted")
	}
}

func TestCleanupEmptyCache(t *testing.T) {
	mgr := NewManager(newFakeRepo(), time.Minute)
	if evicted := mgr.CleanupExpiredSessions(); evicted != 0 {
		t.Errorf("Expected no evictions on empty cache, got %d", evicted)
	}
}

func TestTouchWorkerPersistsActivity(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewManager(repo, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.StartTouchWorker(ctx)

	token, agent, err := mgr.CreateSession(ctx, "Claude", "testing")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	before := time.Now()
	if _, err := mgr.ValidateSession(ctx, token); err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}

	// The touch is asynchronous; poll briefly for the store write.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := repo.FindAgentByIdentityKey(ctx, agent.IdentityKey)
		if err != nil {
			t.Fatalf("FindAgentByIdentityKey failed: %v", err)
		}
		if !stored.LastActive.Before(before) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Touch worker never persisted the last-active refresh")
}
