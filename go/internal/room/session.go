package room

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Phase is a room's position in the round state machine.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseArmed     Phase = "armed"
)

// Member is a connection joined to a room.
type Member struct {
	ID       string    `json:"playerId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Options configure sessions created by a Registry.
type Options struct {
	Clock       clockwork.Clock
	Timers      Timers // defaults to Clock
	Delays      *DelayPolicy
	Broadcaster Broadcaster
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Timers == nil {
		o.Timers = o.Clock
	}
	if o.Delays == nil {
		o.Delays = DefaultDelayPolicy()
	}
	if o.Broadcaster == nil {
		o.Broadcaster = BroadcasterFunc(func([]string, Event) {})
	}
	return o
}

// Session is the state machine of a single room. It is not safe for
// concurrent use: every method, including timer callbacks delivered through
// Options.Timers, must run on one goroutine.
type Session struct {
	id     string
	clock  clockwork.Clock
	timers Timers
	delays *DelayPolicy
	out    Broadcaster

	members map[string]*Member
	order   []string
	phase   Phase
	scores  map[string]submission
	seq     uint64
	pending *countdown

	createdAt time.Time
	rounds    int
	closed    bool
}

// NewSession returns an empty session in PhaseWaiting.
func NewSession(id string, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:        id,
		clock:     opts.Clock,
		timers:    opts.Timers,
		delays:    opts.Delays,
		out:       opts.Broadcaster,
		members:   make(map[string]*Member),
		phase:     PhaseWaiting,
		scores:    make(map[string]submission),
		createdAt: opts.Clock.Now(),
	}
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Phase() Phase  { return s.phase }
func (s *Session) Len() int      { return len(s.members) }
func (s *Session) Closed() bool  { return s.closed }
func (s *Session) Rounds() int   { return s.rounds }
func (s *Session) Pending() bool { return s.pending != nil }

// Has reports whether connID is a member.
func (s *Session) Has(connID string) bool {
	_, ok := s.members[connID]
	return ok
}

// Members returns the member ids in join order.
func (s *Session) Members() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Submitted returns a copy of the current round's scores.
func (s *Session) Submitted() map[string]float64 {
	out := make(map[string]float64, len(s.scores))
	for id, sub := range s.scores {
		out[id] = sub.value
	}
	return out
}

// Join adds connID to the room and announces it. Legal in every phase.
func (s *Session) Join(connID, username string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.members[connID]; ok {
		return ErrAlreadyMember
	}

	s.members[connID] = &Member{ID: connID, Username: username, JoinedAt: s.clock.Now()}
	s.order = append(s.order, connID)

	s.broadcast(EventTypePlayerJoined, PlayerJoinedPayload{
		PlayerID:    connID,
		PlayerCount: len(s.members),
		Username:    username,
	})
	return nil
}

// Leave removes connID and its score. The session closes itself, cancelling
// any pending countdown, when the last member leaves.
func (s *Session) Leave(connID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.members[connID]; !ok {
		return ErrNotMember
	}

	delete(s.members, connID)
	delete(s.scores, connID)
	for i, id := range s.order {
		if id == connID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.broadcast(EventTypePlayerLeft, PlayerLeftPayload{
		PlayerID:    connID,
		PlayerCount: len(s.members),
	})

	if len(s.members) == 0 {
		s.Close()
	}
	return nil
}

// Start moves a waiting room into the countdown and schedules the go signal.
// It returns the sampled delay.
func (s *Session) Start() (time.Duration, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	if s.phase != PhaseWaiting {
		return 0, fmt.Errorf("start in phase %s: %w", s.phase, ErrWrongPhase)
	}

	s.phase = PhaseCountdown
	s.broadcast(EventTypeGameStarting, GameStartingPayload{})

	delay := s.delays.Sample()
	cd := &countdown{delay: delay, deadline: s.clock.Now().Add(delay)}
	cd.timer = s.timers.AfterFunc(delay, func() { s.fire(cd) })
	s.pending = cd
	return delay, nil
}

// fire arms the room if cd is still the live countdown. Anything else is a
// callback that lost a race with Reset or Close.
func (s *Session) fire(cd *countdown) bool {
	if s.closed || s.pending != cd || s.phase != PhaseCountdown {
		return false
	}

	s.pending = nil
	s.phase = PhaseArmed
	s.broadcast(EventTypeTurnGreen, TurnGreenPayload{Timestamp: s.clock.Now().UnixMilli()})
	return true
}

// SubmitScore records connID's reaction time, replacing any earlier value.
// When every current member has submitted, the ranked results are broadcast,
// the session resets and completed is true.
func (s *Session) SubmitScore(connID string, value float64) (completed bool, err error) {
	if s.closed {
		return false, ErrSessionClosed
	}
	if _, ok := s.members[connID]; !ok {
		return false, ErrNotMember
	}

	s.seq++
	s.scores[connID] = submission{value: value, seq: s.seq}

	if len(s.scores) < len(s.members) {
		return false, nil
	}

	s.broadcast(EventTypeGameResults, GameResultsPayload{Scores: rankScores(s.scores, s.members)})
	s.rounds++
	s.Reset()
	return true, nil
}

// Reset cancels the countdown, clears scores and returns to PhaseWaiting.
// Membership is untouched.
func (s *Session) Reset() {
	s.pending.stop()
	s.pending = nil
	s.scores = make(map[string]submission)
	s.phase = PhaseWaiting
}

// Close resets the session and rejects every later call.
func (s *Session) Close() {
	s.Reset()
	s.closed = true
}

// Info is a point-in-time view of a session.
type Info struct {
	ID                string    `json:"roomId"`
	Phase             Phase     `json:"phase"`
	Members           []Member  `json:"members"`
	Submitted         int       `json:"submitted"`
	CountdownDeadline time.Time `json:"countdownDeadline"`
	CreatedAt         time.Time `json:"createdAt"`
	RoundsCompleted   int       `json:"roundsCompleted"`
}

// Info snapshots the session.
func (s *Session) Info() Info {
	info := Info{
		ID:              s.id,
		Phase:           s.phase,
		Members:         make([]Member, 0, len(s.order)),
		Submitted:       len(s.scores),
		CreatedAt:       s.createdAt,
		RoundsCompleted: s.rounds,
	}
	for _, id := range s.order {
		info.Members = append(info.Members, *s.members[id])
	}
	if s.pending != nil {
		info.CountdownDeadline = s.pending.deadline
	}
	return info
}

func (s *Session) broadcast(t EventType, payload interface{}) {
	s.out.Broadcast(s.Members(), Event{
		Type:    t,
		RoomID:  s.id,
		At:      s.clock.Now(),
		Payload: payload,
	})
}
