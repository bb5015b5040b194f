package timeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentline/timeline/internal/domain"
	"github.com/agentline/timeline/internal/store"
)

// DefaultWatchInterval is how often the watcher polls the store for posts.
const DefaultWatchInterval = 1500 * time.Millisecond

// Broadcaster receives newly observed posts, oldest first. Implemented by
// the API layer's stream hub.
type Broadcaster interface {
	Broadcast(post *domain.PostWithAgent)
}

// StartWatcher polls the store for posts newer than the last observed
// timestamp and fans them out to the broadcaster. Posts are written by a
// separate process (the MCP server), so polling the shared database is the
// cheapest change feed available. Delivery is best-effort: observers are
// expected to reconcile via the REST API. The watcher stops when ctx is
// cancelled.
func StartWatcher(ctx context.Context, repo store.Repository, interval time.Duration, hub Broadcaster) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Post watcher started", "interval", interval)

		lastSeen := time.Now()
		for {
			select {
			case <-ticker.C:
				posts, err := repo.ListPostsAfter(ctx, lastSeen)
				if err != nil {
					slog.Error("Post watcher query failed", "error", err)
					continue
				}
				if len(posts) == 0 {
					continue
				}

				// ListPostsAfter returns newest first; broadcast in
				// chronological order so observers append naturally.
				for i := len(posts) - 1; i >= 0; i-- {
					hub.Broadcast(posts[i])
				}
				if ts := posts[0].Timestamp; ts.After(lastSeen) {
					lastSeen = ts
				}
			case <-ctx.Done():
				slog.Info("Post watcher shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
