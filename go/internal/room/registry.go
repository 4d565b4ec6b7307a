package room

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxRoomIDLength bounds room identifiers in bytes.
const MaxRoomIDLength = 64

// DefaultUsername replaces blank display names.
const DefaultUsername = "anonymous"

// ValidateRoomID rejects empty or oversized identifiers.
func ValidateRoomID(roomID string) error {
	if roomID == "" || len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("%q: %w", roomID, ErrInvalidRoomID)
	}
	return nil
}

// NormalizeUsername trims name, substitutes DefaultUsername for blanks and
// truncates to maxRunes when maxRunes > 0.
func NormalizeUsername(name string, maxRunes int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultUsername
	}
	if maxRunes > 0 && utf8.RuneCountInString(name) > maxRunes {
		name = string([]rune(name)[:maxRunes])
	}
	return name
}

// Registry maps room ids to sessions and connections to the room they are in.
// Like Session it is owned by a single goroutine.
type Registry struct {
	opts     Options
	sessions map[string]*Session
	byConn   map[string]string
}

// NewRegistry returns an empty registry whose sessions share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
	}
}

// GetOrCreate returns the session for roomID, creating a waiting one if the
// room is unknown.
func (r *Registry) GetOrCreate(roomID string) (s *Session, created bool) {
	if s, ok := r.sessions[roomID]; ok {
		return s, false
	}
	s = NewSession(roomID, r.opts)
	r.sessions[roomID] = s
	return s, true
}

// Get returns the session for roomID if it exists.
func (r *Registry) Get(roomID string) (*Session, bool) {
	s, ok := r.sessions[roomID]
	return s, ok
}

// RemoveIfEmpty evicts roomID when it has no members, closing the session
// first so no countdown outlives it. Idempotent.
func (r *Registry) RemoveIfEmpty(roomID string) bool {
	s, ok := r.sessions[roomID]
	if !ok || s.Len() > 0 {
		return false
	}
	s.Close()
	delete(r.sessions, roomID)
	return true
}

// FindRoomOf returns the room connID is a member of.
func (r *Registry) FindRoomOf(connID string) (string, bool) {
	roomID, ok := r.byConn[connID]
	return roomID, ok
}

// Join adds connID to roomID, creating the room on first use. A connection
// belongs to at most one room; joining a second one fails with
// ErrAlreadyInRoom.
func (r *Registry) Join(roomID, connID, username string) (*Session, error) {
	if current, ok := r.byConn[connID]; ok {
		if current == roomID {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("in %q: %w", current, ErrAlreadyInRoom)
	}

	s, _ := r.GetOrCreate(roomID)
	if err := s.Join(connID, username); err != nil {
		r.RemoveIfEmpty(roomID)
		return nil, err
	}
	r.byConn[connID] = roomID
	return s, nil
}

// Leave removes connID from its room and evicts the room if it became empty.
func (r *Registry) Leave(connID string) (roomID string, evicted bool, err error) {
	roomID, ok := r.byConn[connID]
	if !ok {
		return "", false, ErrNotMember
	}
	delete(r.byConn, connID)

	s, ok := r.sessions[roomID]
	if !ok {
		return roomID, false, ErrUnknownRoom
	}
	if err := s.Leave(connID); err != nil {
		return roomID, false, err
	}
	return roomID, r.RemoveIfEmpty(roomID), nil
}

// Len returns the number of live rooms.
func (r *Registry) Len() int { return len(r.sessions) }

// Connections returns the number of connections that are in a room.
func (r *Registry) Connections() int { return len(r.byConn) }

// Rooms snapshots every session, ordered by room id.
func (r *Registry) Rooms() []Info {
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close shuts every session down and forgets all rooms.
func (r *Registry) Close() {
	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
	}
	r.byConn = make(map[string]string)
}
