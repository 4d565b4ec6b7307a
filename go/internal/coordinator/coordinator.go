package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reflex/go/internal/room"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned once the event loop has exited.
var ErrStopped = errors.New("coordinator stopped")

// Observer receives coordinator activity. Implementations must be safe for
// concurrent use; Ignored may be called off the event loop.
type Observer interface {
	Ignored(op, reason string)
	CountdownScheduled(delay time.Duration)
	RoundCompleted()
	RoomsChanged(rooms, members int)
}

type noopObserver struct{}

func (noopObserver) Ignored(string, string)           {}
func (noopObserver) CountdownScheduled(time.Duration) {}
func (noopObserver) RoundCompleted()                  {}
func (noopObserver) RoomsChanged(int, int)            {}

// Config holds coordinator settings. Zero values fall back to defaults.
type Config struct {
	Clock             clockwork.Clock
	Delays            *room.DelayPolicy
	MaxUsernameLength int
	QueueSize         int
	Observer          Observer
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Clock:             clockwork.NewRealClock(),
		Delays:            room.DefaultDelayPolicy(),
		MaxUsernameLength: 32,
		QueueSize:         256,
		Observer:          noopObserver{},
	}
}

// Coordinator owns the room registry and applies every mutation on a single
// goroutine, so sessions never see concurrent access. Inbound calls block
// until their command has run on the loop.
type Coordinator struct {
	cfg        Config
	clock      clockwork.Clock
	registry   *room.Registry
	observer   Observer
	instanceID string

	cmds    chan func()
	done    chan struct{}
	started atomic.Bool
}

// New creates a coordinator that broadcasts through out. Run must be called
// before any inbound operation can complete.
func New(cfg Config, out room.Broadcaster) *Coordinator {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Delays == nil {
		cfg.Delays = def.Delays
	}
	if cfg.MaxUsernameLength <= 0 {
		cfg.MaxUsernameLength = def.MaxUsernameLength
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Observer == nil {
		cfg.Observer = def.Observer
	}

	c := &Coordinator{
		cfg:        cfg,
		clock:      cfg.Clock,
		observer:   cfg.Observer,
		instanceID: uuid.New().String()[:8],
		cmds:       make(chan func(), cfg.QueueSize),
		done:       make(chan struct{}),
	}
	c.registry = room.NewRegistry(room.Options{
		Clock:       cfg.Clock,
		Timers:      loopTimers{c: c},
		Delays:      cfg.Delays,
		Broadcaster: out,
	})
	return c
}

// Run processes commands until ctx is cancelled, then closes every room so no
// countdown outlives the coordinator.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}

	log.Info().Str("instance", c.instanceID).Msg("room coordinator started")
	defer func() {
		rooms := c.registry.Len()
		c.registry.Close()
		c.observer.RoomsChanged(0, 0)
		close(c.done)
		log.Info().
			Str("instance", c.instanceID).
			Int("rooms_closed", rooms).
			Msg("room coordinator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmds:
			cmd()
		}
	}
}

// Done is closed after Run returns.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Alive reports whether the event loop is running.
func (c *Coordinator) Alive() bool {
	if !c.started.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// do runs fn on the event loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	_, err := doValue(ctx, c, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

type result[T any] struct {
	val T
	err error
}

// doValue runs fn on the event loop and hands its value back over the result
// channel. Callers that give up early never observe state the loop writes.
func doValue[T any](ctx context.Context, c *Coordinator, fn func() (T, error)) (T, error) {
	var zero T
	resCh := make(chan result[T], 1)
	cmd := func() {
		v, err := fn()
		resCh <- result[T]{val: v, err: err}
	}

	select {
	case c.cmds <- cmd:
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-resCh:
		return res.val, res.err
	case <-c.done:
		select {
		case res := <-resCh:
			return res.val, res.err
		default:
			return zero, ErrStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// post enqueues fn without waiting. Used by timer callbacks.
func (c *Coordinator) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// loopTimers schedules on the coordinator clock and delivers expiry back onto
// the event loop.
type loopTimers struct {
	c *Coordinator
}

func (t loopTimers) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	return t.c.clock.AfterFunc(d, func() { t.c.post(f) })
}

// ignore records a dropped inbound event and returns err unchanged.
func (c *Coordinator) ignore(op, connID, roomID string, err error) error {
	reason := reasonOf(err)
	c.observer.Ignored(op, reason)
	log.Debug().
		Err(err).
		Str("op", op).
		Str("connection_id", connID).
		Str("room_id", roomID).
		Str("reason", reason).
		Msg("ignoring inbound event")
	return err
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, room.ErrInvalidRoomID):
		return "invalid_room_id"
	case errors.Is(err, room.ErrUnknownRoom):
		return "unknown_room"
	case errors.Is(err, room.ErrNotMember):
		return "not_member"
	case errors.Is(err, room.ErrAlreadyMember):
		return "already_member"
	case errors.Is(err, room.ErrAlreadyInRoom):
		return "already_in_room"
	case errors.Is(err, room.ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, room.ErrSessionClosed):
		return "session_closed"
	default:
		return "other"
	}
}

func (c *Coordinator) roomsChanged() {
	c.observer.RoomsChanged(c.registry.Len(), c.registry.Connections())
}

// Join adds connID to roomID, creating the room if needed.
func (c *Coordinator) Join(ctx context.Context, connID, roomID, username string) error {
	const op = "join_game"
	if err := room.ValidateRoomID(roomID); err != nil {
		return c.ignore(op, connID, roomID, err)
	}
	username = room.NormalizeUsername(username, c.cfg.MaxUsernameLength)

	return c.do(ctx, func() error {
		s, err := c.registry.Join(roomID, connID, username)
		if err != nil {
			return c.ignore(op, connID, roomID, err)
		}
		c.roomsChanged()

		log.Info().
			Str("room_id", roomID).
			Str("connection_id", connID).
			Str("username", username).
			Int("player_count", s.Len()).
			Msg("player joined room")
		return nil
	})
}

// Start begins a countdown in roomID. Only members of a waiting room may start
// it; every other request is dropped.
func (c *Coordinator) Start(ctx context.Context, connID, roomID string) error {
	const op = "start_game"
	if err := room.ValidateRoomID(roomID); err != nil {
		return c.ignore(op, connID, roomID, err)
	}

	return c.do(ctx, func() error {
		s, ok := c.registry.Get(roomID)
		if !ok {
			return c.ignore(op, connID, roomID, room.ErrUnknownRoom)
		}
		if !s.Has(connID) {
			return c.ignore(op, connID, roomID, room.ErrNotMember)
		}

		delay, err := s.Start()
		if err != nil {
			return c.ignore(op, connID, roomID, err)
		}
		c.observer.CountdownScheduled(delay)

		log.Info().
			Str("room_id", roomID).
			Str("connection_id", connID).
			Dur("delay", delay).
			Msg("countdown started")
		return nil
	})
}

// SubmitScore records a reaction time for connID. roomID must be the room the
// connection is currently in.
func (c *Coordinator) SubmitScore(ctx context.Context, connID, roomID string, score float64) error {
	const op = "submit_score"

	return c.do(ctx, func() error {
		current, ok := c.registry.FindRoomOf(connID)
		if !ok {
			return c.ignore(op, connID, roomID, room.ErrNotMember)
		}
		if current != roomID {
			return c.ignore(op, connID, roomID, fmt.Errorf("member of %q: %w", current, room.ErrNotMember))
		}
		s, ok := c.registry.Get(roomID)
		if !ok {
			return c.ignore(op, connID, roomID, room.ErrUnknownRoom)
		}

		completed, err := s.SubmitScore(connID, score)
		if err != nil {
			return c.ignore(op, connID, roomID, err)
		}

		log.Debug().
			Str("room_id", roomID).
			Str("connection_id", connID).
			Float64("score", score).
			Msg("score submitted")

		if completed {
			c.observer.RoundCompleted()
			log.Info().
				Str("room_id", roomID).
				Int("players", s.Len()).
				Int("round", s.Rounds()).
				Msg("round completed")
		}
		return nil
	})
}

// Leave removes connID from roomID on explicit request.
func (c *Coordinator) Leave(ctx context.Context, connID, roomID string) error {
	const op = "leave_game"

	return c.do(ctx, func() error {
		current, ok := c.registry.FindRoomOf(connID)
		if !ok || current != roomID {
			return c.ignore(op, connID, roomID, room.ErrNotMember)
		}
		return c.leave(op, connID)
	})
}

// Disconnect removes connID from whatever room it is in. Connections that
// never joined a room are a no-op.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) error {
	return c.do(ctx, func() error {
		if _, ok := c.registry.FindRoomOf(connID); !ok {
			return nil
		}
		return c.leave("disconnect", connID)
	})
}

func (c *Coordinator) leave(op, connID string) error {
	roomID, evicted, err := c.registry.Leave(connID)
	if err != nil {
		return c.ignore(op, connID, roomID, err)
	}
	c.roomsChanged()

	log.Info().
		Str("room_id", roomID).
		Str("connection_id", connID).
		Str("op", op).
		Bool("room_closed", evicted).
		Msg("player left room")
	return nil
}

// Rooms snapshots every live room.
func (c *Coordinator) Rooms(ctx context.Context) ([]room.Info, error) {
	return doValue(ctx, c, func() ([]room.Info, error) {
		return c.registry.Rooms(), nil
	})
}

// Room snapshots a single room.
func (c *Coordinator) Room(ctx context.Context, roomID string) (room.Info, error) {
	return doValue(ctx, c, func() (room.Info, error) {
		s, ok := c.registry.Get(roomID)
		if !ok {
			return room.Info{}, fmt.Errorf("%q: %w", roomID, room.ErrUnknownRoom)
		}
		return s.Info(), nil
	})
}

type stats struct {
	rooms, members int
}

// Stats reports room and member counts.
func (c *Coordinator) Stats(ctx context.Context) (rooms, members int, err error) {
	st, err := doValue(ctx, c, func() (stats, error) {
		return stats{rooms: c.registry.Len(), members: c.registry.Connections()}, nil
	})
	return st.rooms, st.members, err
}
