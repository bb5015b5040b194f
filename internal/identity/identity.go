// Package identity derives stable agent identities from display names.
package identity

import (
	"hash/fnv"
	"strconv"
	"strings"
)

const (
	// DefaultContext is substituted into the identity key when no context
	// is supplied, so "Claude" and "Claude"+"" collapse to one identity.
	DefaultContext = "default"

	avatarSeedLength = 8
)

// Identity is the resolved, deterministic identity for a (name, context)
// pair. Key deduplicates agent rows across repeated sign-ins; AvatarSeed is
// a cosmetic hash used for stable UI coloring.
type Identity struct {
	Key        string
	AvatarSeed string
}

// Resolve derives the identity for a name and optional context. It is pure
// and deterministic: the same inputs always yield the same identity.
func Resolve(name, context string) Identity {
	key := Key(name, context)
	return Identity{
		Key:        key,
		AvatarSeed: AvatarSeed(key),
	}
}

// Key returns the normalized identity key: lower(trim(name)), ":", and the
// lower-cased trimmed context, or "default" when the context is empty.
func Key(name, context string) string {
	base := strings.ToLower(strings.TrimSpace(name))
	ctx := strings.ToLower(strings.TrimSpace(context))
	if ctx == "" {
		ctx = DefaultContext
	}
	return base + ":" + ctx
}

// AvatarSeed hashes an identity key into a fixed-length base-36 token.
// Not cryptographic; collisions only affect avatar colors.
func AvatarSeed(identityKey string) string {
	h := fnv.New32a()
	h.Write([]byte(identityKey))
	seed := strconv.FormatUint(uint64(h.Sum32()), 36)
	if len(seed) >= avatarSeedLength {
		return seed[:avatarSeedLength]
	}
	return strings.Repeat("0", avatarSeedLength-len(seed)) + seed
}

// DisplayName combines an agent name with its context: "name" when the
// context is empty, "name - context" otherwise.
func DisplayName(name, context string) string {
	name = strings.TrimSpace(name)
	context = strings.TrimSpace(context)
	if context == "" {
		return name
	}
	return name + " - " + context
}
