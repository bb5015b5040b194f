package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/agentline/timeline/internal/domain"
	"github.com/agentline/timeline/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries    = 3
	writeRetryDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite. The MCP process and the
// observer server open the same database file, so the connection uses WAL
// mode and a busy timeout rather than assuming exclusive access.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	// The content length CHECK mirrors application-level validation as a
	// schema-level backstop; the unique identity_key index is load-bearing
	// for the concurrent first-sign-in race.
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		context TEXT,
		display_name TEXT NOT NULL,
		identity_key TEXT NOT NULL UNIQUE,
		avatar_seed TEXT NOT NULL,
		session_id TEXT NOT NULL,
		last_active INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_session_id ON agents(session_id);
	CREATE INDEX IF NOT EXISTS idx_agents_name ON agents(name);

	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id INTEGER NOT NULL,
		content TEXT NOT NULL CHECK (LENGTH(content) <= 280),
		timestamp INTEGER NOT NULL,
		metadata TEXT,
		FOREIGN KEY (agent_id) REFERENCES agents (id)
	);
	CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_posts_agent_id ON posts(agent_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execWrite runs a write statement, retrying on SQLITE_BUSY / "database is
// locked". The tool server and the observer server share one database file,
// so transient lock conflicts are expected under load.
func (s *SQLiteStore) execWrite(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		result, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return result, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(writeRetryDelay):
		}
	}
	return result, err
}

const agentColumns = `id, name, context, display_name, identity_key, avatar_seed, session_id, last_active, created_at`

func scanAgent(row *sql.Row) (*domain.Agent, error) {
	var agent domain.Agent
	var agentContext sql.NullString
	var lastActive, createdAt int64

	err := row.Scan(
		&agent.ID, &agent.Name, &agentContext, &agent.DisplayName,
		&agent.IdentityKey, &agent.AvatarSeed, &agent.SessionID,
		&lastActive, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}

	agent.Context = agentContext.String
	agent.LastActive = time.UnixMilli(lastActive)
	agent.CreatedAt = time.UnixMilli(createdAt)
	return &agent, nil
}

// FindAgentByIdentityKey retrieves an agent by its normalized identity key.
func (s *SQLiteStore) FindAgentByIdentityKey(ctx context.Context, key string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE identity_key = ?`
	return scanAgent(s.db.QueryRowContext(ctx, query, key))
}

// FindAgentBySessionToken retrieves an agent by its advisory session token.
// The empty token never matches; it is the cleared-on-sign-out sentinel.
func (s *SQLiteStore) FindAgentBySessionToken(ctx context.Context, token string) (*domain.Agent, error) {
	if token == "" {
		return nil, nil
	}
	query := `SELECT ` + agentColumns + ` FROM agents WHERE session_id = ?`
	return scanAgent(s.db.QueryRowContext(ctx, query, token))
}

// CreateAgent inserts a new agent row. A concurrent sign-in for the same
// identity may have inserted first; the ON CONFLICT clause converts the
// losing insert into a session-token update so exactly one row exists per
// identity key afterwards.
func (s *SQLiteStore) CreateAgent(ctx context.Context, params CreateAgentParams) (*domain.Agent, error) {
	query := `
	INSERT INTO agents (name, context, display_name, identity_key, avatar_seed, session_id, last_active, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(identity_key) DO UPDATE SET
		session_id = excluded.session_id,
		last_active = excluded.last_active`

	var agentContext interface{}
	if params.Context != "" {
		agentContext = params.Context
	}

	now := time.Now().UnixMilli()
	_, err := s.execWrite(ctx, query,
		params.Name, agentContext, params.DisplayName,
		params.IdentityKey, params.AvatarSeed, params.SessionID,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	agent, err := s.FindAgentByIdentityKey(ctx, params.IdentityKey)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("create agent: row missing after upsert for %s", params.IdentityKey)
	}
	return agent, nil
}

// UpdateAgentSessionToken records a freshly minted token against an existing
// identity and returns the updated row.
func (s *SQLiteStore) UpdateAgentSessionToken(ctx context.Context, identityKey, token string) (*domain.Agent, error) {
	query := `UPDATE agents SET session_id = ?, last_active = ? WHERE identity_key = ?`
	result, err := s.execWrite(ctx, query, token, time.Now().UnixMilli(), identityKey)
	if err != nil {
		return nil, fmt.Errorf("update session token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("update session token: no agent with identity_key %s", identityKey)
	}

	return s.FindAgentByIdentityKey(ctx, identityKey)
}

// TouchLastActive updates last_active for the agent holding the token.
func (s *SQLiteStore) TouchLastActive(ctx context.Context, token string, at time.Time) error {
	query := `UPDATE agents SET last_active = ? WHERE session_id = ?`
	result, err := s.execWrite(ctx, query, at.UnixMilli(), token)
	if err != nil {
		return fmt.Errorf("touch last_active: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		// The advisory token was superseded by a newer sign-in; touches
		// are best-effort, so this is only worth a debug line.
		slog.Debug("TouchLastActive affected 0 rows", "token", token)
	}

	return nil
}

// ClearSessionToken blanks the advisory session token for a signed-out agent.
func (s *SQLiteStore) ClearSessionToken(ctx context.Context, token string) error {
	query := `UPDATE agents SET session_id = '' WHERE session_id = ?`
	if _, err := s.execWrite(ctx, query, token); err != nil {
		return fmt.Errorf("clear session token: %w", err)
	}
	return nil
}

// CreatePost appends a post attributed to an agent.
func (s *SQLiteStore) CreatePost(ctx context.Context, agentID int64, content string) (*domain.Post, error) {
	now := time.Now().UnixMilli()
	query := `INSERT INTO posts (agent_id, content, timestamp) VALUES (?, ?, ?)`
	result, err := s.execWrite(ctx, query, agentID, content, now)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get post id: %w", err)
	}

	return &domain.Post{
		ID:        id,
		AgentID:   agentID,
		Content:   content,
		Timestamp: time.UnixMilli(now),
	}, nil
}

const postJoinQuery = `
	SELECT p.id, p.agent_id, p.content, p.timestamp, p.metadata,
	       a.name, a.display_name, a.identity_key, a.avatar_seed
	FROM posts p
	JOIN agents a ON p.agent_id = a.id`

func (s *SQLiteStore) queryPosts(ctx context.Context, query string, args ...interface{}) ([]*domain.PostWithAgent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close post rows", "error", closeErr)
		}
	}()

	var posts []*domain.PostWithAgent
	for rows.Next() {
		var post domain.PostWithAgent
		var metadata sql.NullString
		var timestamp int64

		if err := rows.Scan(
			&post.ID, &post.AgentID, &post.Content, &timestamp, &metadata,
			&post.AgentName, &post.DisplayName, &post.IdentityKey, &post.AvatarSeed,
		); err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}

		post.Timestamp = time.UnixMilli(timestamp)
		post.Metadata = metadata.String
		posts = append(posts, &post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	return posts, nil
}

// ListRecentPosts returns the newest posts first, at most limit rows.
func (s *SQLiteStore) ListRecentPosts(ctx context.Context, limit int) ([]*domain.PostWithAgent, error) {
	query := postJoinQuery + ` ORDER BY p.timestamp DESC, p.id DESC LIMIT ?`
	return s.queryPosts(ctx, query, limit)
}

// ListPostsBefore returns the page of posts older than the given post ID.
func (s *SQLiteStore) ListPostsBefore(ctx context.Context, beforeID int64, limit int) ([]*domain.PostWithAgent, error) {
	query := postJoinQuery + ` WHERE p.id < ? ORDER BY p.timestamp DESC, p.id DESC LIMIT ?`
	return s.queryPosts(ctx, query, beforeID, limit)
}

// ListPostsAfter returns posts strictly newer than the given time.
func (s *SQLiteStore) ListPostsAfter(ctx context.Context, after time.Time) ([]*domain.PostWithAgent, error) {
	query := postJoinQuery + ` WHERE p.timestamp > ? ORDER BY p.timestamp DESC, p.id DESC`
	return s.queryPosts(ctx, query, after.UnixMilli())
}

// ListAgents returns all agents, most recently active first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY last_active DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	var agents []*domain.Agent
	for rows.Next() {
		var agent domain.Agent
		var agentContext sql.NullString
		var lastActive, createdAt int64

		if err := rows.Scan(
			&agent.ID, &agent.Name, &agentContext, &agent.DisplayName,
			&agent.IdentityKey, &agent.AvatarSeed, &agent.SessionID,
			&lastActive, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}

		agent.Context = agentContext.String
		agent.LastActive = time.UnixMilli(lastActive)
		agent.CreatedAt = time.UnixMilli(createdAt)
		agents = append(agents, &agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}

	return agents, nil
}
