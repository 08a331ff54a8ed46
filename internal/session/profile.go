package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// AvatarStore holds the avatar attribute a commit replaces.
type AvatarStore interface {
	Avatar(ctx context.Context) (string, error)
	SetAvatar(ctx context.Context, uri string) error
}

// Profile is an in-memory profile entity.
type Profile struct {
	ID uuid.UUID

	mu     sync.RWMutex
	avatar string
}

var _ AvatarStore = (*Profile)(nil)

// NewProfile creates a profile with the given initial avatar data URI,
// which may be empty.
func NewProfile(avatar string) *Profile {
	return &Profile{ID: uuid.New(), avatar: avatar}
}

func (p *Profile) Avatar(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.avatar, nil
}

func (p *Profile) SetAvatar(_ context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.avatar = uri
	return nil
}
