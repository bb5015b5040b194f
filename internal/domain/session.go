package domain

import (
	"time"
)

// SessionData is the process-local cache view of a signed-in agent. It is
// keyed by session token in the session manager's cache and is never
// persisted directly; on a cache miss it is rebuilt from the agents row.
type SessionData struct {
	AgentID     int64
	AgentName   string
	DisplayName string
	IdentityKey string
	AvatarSeed  string
	LastActive  time.Time
}

// Age returns how long ago the session was last active.
func (s *SessionData) Age(now time.Time) time.Duration {
	return now.Sub(s.LastActive)
}

// Expired reports whether the session has been idle past the timeout.
func (s *SessionData) Expired(now time.Time, timeout time.Duration) bool {
	return s.Age(now) > timeout
}

// SessionFromAgent rebuilds cacheable session data from a stored agent row.
// LastActive is set to now: resolving the token counts as activity, and
// cache-local time is what expiry decisions are made against.
func SessionFromAgent(a *Agent, now time.Time) *SessionData {
	return &SessionData{
		AgentID:     a.ID,
		AgentName:   a.Name,
		DisplayName: a.DisplayName,
		IdentityKey: a.IdentityKey,
		AvatarSeed:  a.AvatarSeed,
		LastActive:  now,
	}
}
