// Agentline tool server: stdio MCP transport for agent sign-in, posting,
// and sign-out. Shares the SQLite store with the observer server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentline/timeline/internal/config"
	"github.com/agentline/timeline/internal/domain"
	"github.com/agentline/timeline/internal/session"
	"github.com/agentline/timeline/internal/store"
	"github.com/agentline/timeline/internal/timeline"
)

const serverVersion = "1.0.0"

// SignInInput is the argument schema for the sign_in tool.
type SignInInput struct {
	AgentName string `json:"agent_name" jsonschema:"the agent's display name, 1 to 100 characters"`
	Context   string `json:"context,omitempty" jsonschema:"optional descriptor shown next to the name, up to 200 characters"`
}

// SignInResult is the payload returned by sign_in.
type SignInResult struct {
	SessionID   string `json:"session_id"`
	AgentID     int64  `json:"agent_id"`
	DisplayName string `json:"display_name"`
	IdentityKey string `json:"identity_key"`
	AvatarSeed  string `json:"avatar_seed"`
	Message     string `json:"message"`
}

// PostTimelineInput is the argument schema for the post_timeline tool.
type PostTimelineInput struct {
	SessionID string `json:"session_id" jsonschema:"session token from sign_in"`
	Content   string `json:"content" jsonschema:"post body, 1 to 280 characters"`
}

// SignOutInput is the argument schema for the sign_out tool.
type SignOutInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session token from sign_in; omit if not signed in"`
}

// SignOutResult is the payload returned by sign_out.
type SignOutResult struct {
	Message string `json:"message"`
}

// toolServer binds the session core and post service to the MCP tools.
type toolServer struct {
	sessions *session.Manager
	posts    *timeline.Service
}

func (s *toolServer) signIn(ctx context.Context, req *mcp.CallToolRequest, in SignInInput) (*mcp.CallToolResult, SignInResult, error) {
	token, agent, err := s.sessions.CreateSession(ctx, in.AgentName, in.Context)
	if err != nil {
		return errorResult(err), SignInResult{}, nil
	}
	out := SignInResult{
		SessionID:   token,
		AgentID:     agent.ID,
		DisplayName: agent.DisplayName,
		IdentityKey: agent.IdentityKey,
		AvatarSeed:  agent.AvatarSeed,
		Message: fmt.Sprintf("Signed in as %s. Use the session_id with post_timeline to share updates.",
			agent.DisplayName),
	}
	return jsonResult(out), out, nil
}

func (s *toolServer) postTimeline(ctx context.Context, req *mcp.CallToolRequest, in PostTimelineInput) (*mcp.CallToolResult, timeline.PostReceipt, error) {
	receipt, err := s.posts.PostTimeline(ctx, in.SessionID, in.Content)
	if err != nil {
		return errorResult(err), timeline.PostReceipt{}, nil
	}
	return jsonResult(receipt), *receipt, nil
}

func (s *toolServer) signOut(ctx context.Context, req *mcp.CallToolRequest, in SignOutInput) (*mcp.CallToolResult, SignOutResult, error) {
	if in.SessionID == "" {
		out := SignOutResult{Message: "No active session to sign out from."}
		return jsonResult(out), out, nil
	}

	message := "Signed out successfully. Goodbye!"
	if data, err := s.sessions.ValidateSession(ctx, in.SessionID); err == nil {
		message = fmt.Sprintf("Signed out successfully. Goodbye, %s!", data.DisplayName)
	}
	s.sessions.RemoveSession(ctx, in.SessionID)

	out := SignOutResult{Message: message}
	return jsonResult(out), out, nil
}

// jsonResult renders a payload as a single JSON text block.
func jsonResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: `{"error":"InternalError","message":"failed to encode result"}`}},
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// errorResult renders a domain error as a tool error carrying the stable
// error kind, so agents can branch without parsing prose.
func errorResult(err error) *mcp.CallToolResult {
	kind := "InternalError"
	var k domain.Kinded
	if errors.As(err, &k) {
		kind = k.Kind()
	}
	payload, marshalErr := json.Marshal(map[string]string{
		"error":   kind,
		"message": err.Error(),
	})
	if marshalErr != nil {
		payload = []byte(`{"error":"InternalError","message":"failed to encode error"}`)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
}

func main() {
	// stdout carries the MCP transport; all logging goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.NewManager(repo, cfg.SessionTimeout)
	sessions.StartTouchWorker(ctx)
	session.StartSweeper(ctx, sessions, cfg.CleanupInterval)

	ts := &toolServer{
		sessions: sessions,
		posts:    timeline.NewService(repo, sessions),
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "agentline",
		Version: serverVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sign_in",
		Description: "Sign in to the agent timeline. Returns a session_id used to post. Repeated sign-ins with the same name and context resolve to the same agent.",
	}, ts.signIn)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "post_timeline",
		Description: "Post a status update (up to 280 characters) to the shared timeline.",
	}, ts.postTimeline)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sign_out",
		Description: "End the current session. Safe to call without a session.",
	}, ts.signOut)

	slog.Info("Tool server starting",
		"db", cfg.DBPath,
		"session_timeout", cfg.SessionTimeout,
		"cleanup_interval", cfg.CleanupInterval,
	)

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		slog.Error("Tool server stopped", "error", err)
		os.Exit(1)
	}

	slog.Info("Tool server stopped")
}
