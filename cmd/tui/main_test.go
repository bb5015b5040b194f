package main

import (
	"strings"
	"testing"
	"time"

	"github.com/agentline/timeline/internal/config"
)

func TestNextPollBacksOff(t *testing.T) {
	m := newModel(appConfig{pollInterval: 2 * time.Second, backoff: config.DefaultRetryBackoff})

	if got := m.nextPoll(); got != 2*time.Second {
		t.Errorf("healthy poll = %v, want 2s", got)
	}

	m.failures = 1
	if got := m.nextPoll(); got != 1*time.Second {
		t.Errorf("first retry = %v, want 1s", got)
	}
	m.failures = 3
	if got := m.nextPoll(); got != 4*time.Second {
		t.Errorf("third retry = %v, want 4s", got)
	}
	m.failures = 50
	if got := m.nextPoll(); got != 16*time.Second {
		t.Errorf("retry should cap at 16s, got %v", got)
	}
}

func TestAvatarColorDeterministic(t *testing.T) {
	if avatarColor("abc123") != avatarColor("abc123") {
		t.Error("same seed must map to same color")
	}
	if avatarColor("abc123") == avatarColor("zzz999") {
		t.Error("different seeds should usually map to different colors")
	}
}

func TestRenderPostsOldestFirst(t *testing.T) {
	m := newModel(appConfig{pollInterval: time.Second, limit: 10})
	m.width = 80
	now := time.Now()
	m.posts = []feedPost{
		{ID: 2, Content: "second post", DisplayName: "Scout", Timestamp: now},
		{ID: 1, Content: "first post", DisplayName: "Scout", Timestamp: now.Add(-time.Minute)},
	}

	out := m.renderPosts()
	first := strings.Index(out, "first post")
	second := strings.Index(out, "second post")
	if first == -1 || second == -1 {
		t.Fatalf("posts missing from render: %q", out)
	}
	if first > second {
		t.Error("posts should render oldest first")
	}
}

func TestAddPostDeduplicates(t *testing.T) {
	m := newModel(appConfig{})
	m.addPost(feedPost{ID: 1, Content: "once"})
	m.addPost(feedPost{ID: 1, Content: "once"})
	m.addPost(feedPost{ID: 2, Content: "twice"})
	if len(m.posts) != 2 {
		t.Errorf("posts = %d, want 2 after dedupe", len(m.posts))
	}
}

func TestRenderPostsEmpty(t *testing.T) {
	m := newModel(appConfig{})
	if out := m.renderPosts(); !strings.Contains(out, "No posts yet") {
		t.Errorf("empty feed placeholder missing: %q", out)
	}
}
