package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reflex/go/internal/room"
	"github.com/stretchr/testify/require"
)

type delivered struct {
	to    []string
	event room.Event
}

type sink struct {
	mu     sync.Mutex
	events []delivered
	ch     chan delivered
}

func newSink() *sink {
	return &sink{ch: make(chan delivered, 256)}
}

func (s *sink) Broadcast(to []string, event room.Event) {
	d := delivered{to: to, event: event}
	s.mu.Lock()
	s.events = append(s.events, d)
	s.mu.Unlock()
	s.ch <- d
}

func (s *sink) count(t room.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.events {
		if d.event.Type == t {
			n++
		}
	}
	return n
}

func (s *sink) waitFor(t *testing.T, typ room.EventType) delivered {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case d := <-s.ch:
			if d.event.Type == typ {
				return d
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

type countingObserver struct {
	mu      sync.Mutex
	ignored map[string]int
	delays  []time.Duration
	rounds  int
	rooms   int
	members int
}

func (o *countingObserver) Ignored(op, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ignored == nil {
		o.ignored = make(map[string]int)
	}
	o.ignored[op+"/"+reason]++
}

func (o *countingObserver) CountdownScheduled(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delays = append(o.delays, d)
}

func (o *countingObserver) RoundCompleted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rounds++
}

func (o *countingObserver) RoomsChanged(rooms, members int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rooms, o.members = rooms, members
}

func (o *countingObserver) ignoredCount(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ignored[key]
}

type harness struct {
	c     *Coordinator
	clock *clockwork.FakeClock
	out   *sink
	obs   *countingObserver
	ctx   context.Context
	stop  func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: clockwork.NewFakeClock(),
		out:   newSink(),
		obs:   &countingObserver{},
	}
	h.c = New(Config{Clock: h.clock, Observer: h.obs}, h.out)

	runCtx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.c.Run(runCtx) }()
	h.stop = func() {
		cancel()
		<-h.c.Done()
	}
	t.Cleanup(h.stop)

	ctx, cancelOps := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancelOps)
	h.ctx = ctx

	require.Eventually(t, h.c.Alive, time.Second, time.Millisecond)
	return h
}

func TestFullRound(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.NoError(t, h.c.Join(h.ctx, "b", "r1", "bob"))
	joined := h.out.waitFor(t, room.EventTypePlayerJoined)
	require.Equal(t, "a", joined.event.Payload.(room.PlayerJoinedPayload).PlayerID)

	require.NoError(t, h.c.Start(h.ctx, "a", "r1"))
	starting := h.out.waitFor(t, room.EventTypeGameStarting)
	require.ElementsMatch(t, []string{"a", "b"}, starting.to)

	info, err := h.c.Room(h.ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, room.PhaseCountdown, info.Phase)
	require.Len(t, h.obs.delays, 1)

	h.clock.Advance(room.DefaultCountdownMax)
	green := h.out.waitFor(t, room.EventTypeTurnGreen)
	require.Equal(t, h.clock.Now().UnixMilli(), green.event.Payload.(room.TurnGreenPayload).Timestamp)

	info, err = h.c.Room(h.ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, room.PhaseArmed, info.Phase)

	require.NoError(t, h.c.SubmitScore(h.ctx, "a", "r1", 240))
	require.NoError(t, h.c.SubmitScore(h.ctx, "b", "r1", 190))

	results := h.out.waitFor(t, room.EventTypeGameResults)
	scores := results.event.Payload.(room.GameResultsPayload).Scores
	require.Len(t, scores, 2)
	require.Equal(t, "b", scores[0].PlayerID)
	require.Equal(t, 1, scores[0].Rank)
	require.Equal(t, "a", scores[1].PlayerID)
	require.Equal(t, 2, scores[1].Rank)

	info, err = h.c.Room(h.ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, room.PhaseWaiting, info.Phase)
	require.Zero(t, info.Submitted)
	require.Equal(t, 1, info.RoundsCompleted)
	require.Equal(t, 1, h.obs.rounds)
}

func TestStartRequiresMemberOfKnownRoom(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.c.Start(h.ctx, "a", "nowhere"), room.ErrUnknownRoom)
	require.ErrorIs(t, h.c.Start(h.ctx, "a", ""), room.ErrInvalidRoomID)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.ErrorIs(t, h.c.Start(h.ctx, "stranger", "r1"), room.ErrNotMember)

	require.Zero(t, h.out.count(room.EventTypeGameStarting))
	require.Equal(t, 1, h.obs.ignoredCount("start_game/unknown_room"))
	require.Equal(t, 1, h.obs.ignoredCount("start_game/not_member"))
}

func TestDuplicateStartIsIgnored(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.NoError(t, h.c.Join(h.ctx, "b", "r1", "bob"))
	require.NoError(t, h.c.Start(h.ctx, "a", "r1"))
	require.ErrorIs(t, h.c.Start(h.ctx, "b", "r1"), room.ErrWrongPhase)

	require.Equal(t, 1, h.out.count(room.EventTypeGameStarting))
	require.Len(t, h.obs.delays, 1)
	require.Equal(t, 1, h.obs.ignoredCount("start_game/wrong_phase"))
}

func TestDisconnectOfLastMemberCancelsCountdown(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.NoError(t, h.c.Start(h.ctx, "a", "r1"))
	require.NoError(t, h.c.Disconnect(h.ctx, "a"))

	rooms, members, err := h.c.Stats(h.ctx)
	require.NoError(t, err)
	require.Zero(t, rooms)
	require.Zero(t, members)

	h.clock.Advance(room.DefaultCountdownMax)
	// Round-trip through the loop so a stray callback would have run.
	_, err = h.c.Rooms(h.ctx)
	require.NoError(t, err)
	require.Zero(t, h.out.count(room.EventTypeTurnGreen))

	_, err = h.c.Room(h.ctx, "r1")
	require.ErrorIs(t, err, room.ErrUnknownRoom)

	// Rejoining the same id starts from scratch.
	require.NoError(t, h.c.Join(h.ctx, "b", "r1", "bob"))
	info, err := h.c.Room(h.ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, room.PhaseWaiting, info.Phase)
	require.Len(t, info.Members, 1)
}

func TestRoundCompletedBeforeGoSignalDropsTimer(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.NoError(t, h.c.Start(h.ctx, "a", "r1"))
	require.NoError(t, h.c.SubmitScore(h.ctx, "a", "r1", 5))
	h.out.waitFor(t, room.EventTypeGameResults)

	h.clock.Advance(room.DefaultCountdownMax)
	_, err := h.c.Rooms(h.ctx)
	require.NoError(t, err)
	require.Zero(t, h.out.count(room.EventTypeTurnGreen))

	info, err := h.c.Room(h.ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, room.PhaseWaiting, info.Phase)
}

func TestSubmitScoreMustNameOwnRoom(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.NoError(t, h.c.Join(h.ctx, "b", "r2", "bob"))

	require.ErrorIs(t, h.c.SubmitScore(h.ctx, "a", "r2", 100), room.ErrNotMember)
	require.ErrorIs(t, h.c.SubmitScore(h.ctx, "ghost", "r1", 100), room.ErrNotMember)
	require.Zero(t, h.out.count(room.EventTypeGameResults))

	require.NoError(t, h.c.SubmitScore(h.ctx, "b", "r2", 100))
	results := h.out.waitFor(t, room.EventTypeGameResults)
	require.Equal(t, "r2", results.event.RoomID)
	require.Equal(t, []string{"b"}, results.to)
}

func TestJoinSecondRoomIsRejected(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.ErrorIs(t, h.c.Join(h.ctx, "a", "r2", "alice"), room.ErrAlreadyInRoom)
	require.ErrorIs(t, h.c.Join(h.ctx, "a", "r1", "alice"), room.ErrAlreadyMember)

	infos, err := h.c.Rooms(h.ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "r1", infos[0].ID)
}

func TestJoinNormalizesUsername(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "   "))
	joined := h.out.waitFor(t, room.EventTypePlayerJoined)
	require.Equal(t, room.DefaultUsername, joined.event.Payload.(room.PlayerJoinedPayload).Username)
}

func TestLeaveRequiresMatchingRoom(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.NoError(t, h.c.Join(h.ctx, "b", "r1", "bob"))
	require.ErrorIs(t, h.c.Leave(h.ctx, "a", "r2"), room.ErrNotMember)

	require.NoError(t, h.c.Leave(h.ctx, "a", "r1"))
	left := h.out.waitFor(t, room.EventTypePlayerLeft)
	require.Equal(t, room.PlayerLeftPayload{PlayerID: "a", PlayerCount: 1}, left.event.Payload)
	require.Equal(t, []string{"b"}, left.to)

	require.NoError(t, h.c.Disconnect(h.ctx, "a"), "disconnect after leaving is a no-op")
	require.NoError(t, h.c.Disconnect(h.ctx, "never-joined"))
}

func TestOperationsAfterShutdown(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))
	require.NoError(t, h.c.Start(h.ctx, "a", "r1"))
	h.stop()

	require.False(t, h.c.Alive())
	require.ErrorIs(t, h.c.Join(h.ctx, "b", "r1", "bob"), ErrStopped)
	require.ErrorIs(t, h.c.Disconnect(h.ctx, "a"), ErrStopped)

	h.clock.Advance(room.DefaultCountdownMax)
	require.Zero(t, h.out.count(room.EventTypeTurnGreen))
	require.Error(t, h.c.Run(context.Background()), "a coordinator runs once")
}

func TestSnapshotsAbandonedWhileLoopBusy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(h.ctx, "a", "r1", "alice"))

	started := make(chan struct{})
	release := make(chan struct{})
	h.c.post(func() {
		close(started)
		<-release
	})
	<-started

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		infos, err := h.c.Rooms(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Nil(t, infos)

		info, err := h.c.Room(ctx, "r1")
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Empty(t, info.ID)

		rooms, members, err := h.c.Stats(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Zero(t, rooms)
		require.Zero(t, members)
		cancel()
	}
	close(release)

	infos, err := h.c.Rooms(h.ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	info, err := h.c.Room(h.ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "r1", info.ID)

	rooms, members, err := h.c.Stats(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rooms)
	require.Equal(t, 1, members)
}
