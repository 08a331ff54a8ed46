// Package session implements the avatar edit session: upload, adjust, then
// commit or cancel.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"avatarcrop/internal/photo"
)

const (
	MinZoom = 1.0
	MaxZoom = 3.0
)

// Adjustment is the latest output of the interactive crop UI. Region already
// has the zoom folded in; Zoom is kept for display only.
type Adjustment struct {
	Region   photo.Region `json:"region"`
	Rotation float64      `json:"rotation"`
	Zoom     float64      `json:"zoom"`
}

func (a Adjustment) normalize() (Adjustment, error) {
	if err := a.Region.Validate(); err != nil {
		return Adjustment{}, err
	}
	rot, err := photo.NormalizeAngle(a.Rotation)
	if err != nil {
		return Adjustment{}, err
	}
	a.Rotation = rot
	if a.Zoom == 0 {
		a.Zoom = MinZoom
	}
	if !(a.Zoom >= MinZoom && a.Zoom <= MaxZoom) {
		return Adjustment{}, fmt.Errorf("%w: %v not in [%v, %v]", ErrZoomRange, a.Zoom, MinZoom, MaxZoom)
	}
	return a, nil
}

// Config wires a session to its collaborators.
type Config struct {
	Renderer *photo.Renderer
	Decode   photo.DecodeOptions
	Store    AvatarStore
}

// Session is the single edit session of one profile. All methods are safe
// for concurrent use; the commit path itself runs synchronously under the
// session lock.
type Session struct {
	id       uuid.UUID
	renderer *photo.Renderer
	decode   photo.DecodeOptions
	store    AvatarStore
	start    func(ctx context.Context, data []byte, opts photo.DecodeOptions) *photo.Decoding

	mu        sync.Mutex
	state     State
	gen       uint64
	settled   chan struct{}
	source    *photo.SourceImage
	adj       Adjustment
	lastErr   error
	// decodeErr is the failed decode of generation gen, if any.
	decodeErr error
	observers []func(from, to State)
}

// New creates an idle session.
func New(cfg Config) *Session {
	r := cfg.Renderer
	if r == nil {
		r = photo.NewRenderer()
	}
	return &Session{
		id:       uuid.New(),
		renderer: r,
		decode:   cfg.Decode,
		store:    cfg.Store,
		start:    photo.DecodeAsync,
		state:    StateIdle,
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnTransition registers fn to be called on every state change. fn runs with
// the session locked and must not call back into the session.
func (s *Session) OnTransition(fn func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) setStateLocked(ctx context.Context, to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	log.Ctx(ctx).Debug().
		Stringer("session", s.id).
		Stringer("from", from).
		Stringer("to", to).
		Msg("session transition")
	for _, fn := range s.observers {
		fn(from, to)
	}
}

// discardLocked drops all ephemeral state and releases waiters of the
// current generation.
func (s *Session) discardLocked() {
	s.gen++
	if s.settled != nil {
		close(s.settled)
		s.settled = nil
	}
	s.source = nil
	s.adj = Adjustment{}
	s.decodeErr = nil
}

// Upload starts a new session from encoded image bytes, discarding any
// session in progress. Decoding runs in the background; use Wait to block
// until the session reaches Adjusting.
func (s *Session) Upload(ctx context.Context, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDecoding || s.state == StateAdjusting {
		log.Ctx(ctx).Info().Stringer("session", s.id).Stringer("state", s.state).Msg("new upload replaces session in progress")
	}
	s.discardLocked()
	s.lastErr = nil
	gen := s.gen
	settled := make(chan struct{})
	s.settled = settled
	s.setStateLocked(ctx, StateDecoding)

	d := s.start(ctx, data, s.decode)
	go func() {
		<-d.Done()
		src, err := d.Result()
		s.deliver(ctx, gen, src, err)
	}()
}

func (s *Session) deliver(ctx context.Context, gen uint64, src *photo.SourceImage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		log.Ctx(ctx).Debug().Stringer("session", s.id).Msg("discarding stale decode result")
		return
	}
	close(s.settled)
	s.settled = nil
	if err != nil {
		s.lastErr = err
		s.decodeErr = err
		s.setStateLocked(ctx, StateIdle)
		return
	}
	s.source = src
	s.adj = Adjustment{
		Region: photo.CenteredSquare(src.Width(), src.Height()),
		Zoom:   MinZoom,
	}
	s.setStateLocked(ctx, StateAdjusting)
}

// Wait blocks until the pending upload has decoded. It returns the decode
// error if decoding failed, and ErrSuperseded if the upload was replaced or
// cancelled first.
func (s *Session) Wait(ctx context.Context) error {
	ch, gen, state := s.pending()
	return s.await(ctx, ch, gen, state)
}

func (s *Session) pending() (chan struct{}, uint64, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled, s.gen, s.state
}

func (s *Session) await(ctx context.Context, ch chan struct{}, gen uint64, state State) error {
	if ch == nil {
		// Already settled: report the outcome of that same upload.
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case state == StateAdjusting:
			return nil
		case s.gen == gen && s.decodeErr != nil:
			return s.decodeErr
		}
		return &StateError{Op: "wait", State: state}
	}
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.gen != gen:
		return ErrSuperseded
	case s.state == StateAdjusting:
		return nil
	case s.decodeErr != nil:
		return s.decodeErr
	}
	return &StateError{Op: "wait", State: s.state}
}

// Adjust replaces the crop snapshot. It is only valid while Adjusting; an
// invalid adjustment leaves the previous one in place.
func (s *Session) Adjust(adj Adjustment) error {
	adj, err := adj.normalize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAdjusting {
		return &StateError{Op: "adjust", State: s.state}
	}
	s.adj = adj
	return nil
}

// Commit renders the current snapshot and replaces the avatar with it. The
// session returns to Idle whatever the outcome; on error the avatar is left
// untouched.
func (s *Session) Commit(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAdjusting {
		return "", &StateError{Op: "commit", State: s.state}
	}
	src, adj := s.source, s.adj
	s.setStateLocked(ctx, StateCommitted)
	defer func() {
		s.discardLocked()
		s.setStateLocked(ctx, StateIdle)
	}()

	logger := log.Ctx(ctx).With().Stringer("session", s.id).Logger()
	enc, err := s.renderer.RenderEncoded(ctx, src, adj.Region, adj.Rotation)
	if err != nil {
		s.lastErr = err
		logger.Error().Err(err).Msg("commit failed")
		return "", fmt.Errorf("commit: %w", err)
	}
	uri := enc.DataURI()
	if s.store != nil {
		if err := s.store.SetAvatar(ctx, uri); err != nil {
			s.lastErr = err
			logger.Error().Err(err).Msg("failed to store avatar")
			return "", fmt.Errorf("commit: %w", err)
		}
	}
	s.lastErr = nil
	logger.Info().
		Interface("region", adj.Region).
		Float64("rotation", adj.Rotation).
		Int("bytes", len(enc.Data)).
		Str("mime", enc.MIME).
		Msg("avatar committed")
	return uri, nil
}

// Cancel discards the session in progress, including a pending decode.
// Cancelling an idle session does nothing.
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	s.setStateLocked(ctx, StateCancelled)
	s.discardLocked()
	s.lastErr = nil
	s.setStateLocked(ctx, StateIdle)
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID         uuid.UUID        `json:"id"`
	State      State            `json:"state"`
	Image      *photo.ImageInfo `json:"image,omitempty"`
	Adjustment *Adjustment      `json:"adjustment,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{ID: s.id, State: s.state}
	if s.source != nil {
		info := s.source.Info()
		adj := s.adj
		snap.Image, snap.Adjustment = &info, &adj
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}
