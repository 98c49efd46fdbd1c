// Package session persists per-conversation execution state.
package session

import (
	"context"
	"time"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// Key identifies one conversation's session row.
type Key struct {
	TenantID      string
	FlowID        string
	Correspondent string
}

// Patch is a partial session update. Only non-nil fields are written.
// Variables are merged into the existing map, later writes winning.
// DisableChat and AITransfer are double pointers so a patch can
// distinguish "leave alone" (nil) from "clear" (pointer to nil).
type Patch struct {
	Node        *schema.Node
	Variables   map[string]any
	DisableChat **schema.DisableChat
	AITransfer  **schema.AITransfer
}

// SetDisableChat returns a patch field that writes the given value.
func SetDisableChat(v *schema.DisableChat) **schema.DisableChat { return &v }

// SetAITransfer returns a patch field that writes the given value.
func SetAITransfer(v *schema.AITransfer) **schema.AITransfer { return &v }

// Store is the session persistence contract. Get returns (nil, nil)
// when no session exists for the key. Implementations must be safe for
// concurrent use; the engine's per-key locking only guarantees turn
// ordering, not exclusive store access.
type Store interface {
	Get(ctx context.Context, key Key) (*schema.Session, error)
	Create(ctx context.Context, sess *schema.Session) error
	Patch(ctx context.Context, key Key, patch Patch) error
	Delete(ctx context.Context, key Key) error

	// ListExpiredDisable returns sessions whose disableChat window has
	// elapsed at the given time.
	ListExpiredDisable(ctx context.Context, now time.Time) ([]*schema.Session, error)
	// DeleteStale removes sessions not updated since the cutoff and
	// returns how many were dropped.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
