package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultTopic is used when a host does not name the birthday person.
	DefaultTopic = "Birthday Person"

	// DefaultRetention is how long an empty room may linger before the sweeper purges it.
	DefaultRetention = time.Hour

	ReasonHostLeft = "Host left the party"
	ReasonEmpty    = "Room is empty"
)

var (
	ErrInvalidCode   = errors.New("invalid room code")
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room not found")
	ErrAlreadyInRoom = errors.New("participant already in room")
	ErrNotMember     = errors.New("sender is not a member of the room")
	ErrUnauthorized  = errors.New("only the host may do that")
	ErrPeerNotFound  = errors.New("target participant not found")
	ErrInvalidUser   = errors.New("participant needs a user id")
)

// Participant is one member of a room. C is the caller's connection handle
// (the live websocket client on the server).
type Participant[C comparable] struct {
	UserID      string
	DisplayName string
	IsHost      bool
	Conn        C
	JoinedAt    time.Time

	seq uint64
}

// Snapshot is a copy of a room's state. Participants are in join order.
type Snapshot[C comparable] struct {
	Code         string
	HostID       string
	HostName     string
	Topic        string
	CreatedAt    time.Time
	Participants []Participant[C]
}

// Count returns the number of participants in the snapshot.
func (s Snapshot[C]) Count() int {
	return len(s.Participants)
}

// Others returns every participant except userID, in join order.
func (s Snapshot[C]) Others(userID string) []Participant[C] {
	out := make([]Participant[C], 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}

// Removal describes the outcome of RemoveParticipant.
type Removal[C comparable] struct {
	// Closed is set when the room was destroyed by this removal.
	Closed bool
	// Reason explains a closure.
	Reason    string
	Removed   Participant[C]
	Remaining []Participant[C]
	Count     int
}

type room[C comparable] struct {
	mu           sync.RWMutex
	code         string
	hostID       string
	hostName     string
	topic        string
	createdAt    time.Time
	participants map[string]*Participant[C]
	nextSeq      uint64

	// closed is set once the room has been destroyed. Callers that looked the
	// room up before deletion see it and fail with ErrRoomNotFound.
	closed atomic.Bool
}

// snapshotLocked must be called with r.mu held.
func (r *room[C]) snapshotLocked() Snapshot[C] {
	return Snapshot[C]{
		Code:         r.code,
		HostID:       r.hostID,
		HostName:     r.hostName,
		Topic:        r.topic,
		CreatedAt:    r.createdAt,
		Participants: r.membersLocked(),
	}
}

func (r *room[C]) membersLocked() []Participant[C] {
	members := make([]Participant[C], 0, len(r.participants))
	for _, p := range r.participants {
		members = append(members, *p)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })
	return members
}

// Registry is the in-memory directory of live rooms. The room map is guarded
// by one lock that is only held for lookups, inserts and deletes; each room
// serializes its own mutations. No code path holds both locks at once.
type Registry[C comparable] struct {
	mu    sync.RWMutex
	rooms map[string]*room[C]

	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

type Option func(*options)

type options struct {
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// WithRetention sets how long an empty room survives before Sweep purges it.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// NewRegistry creates an empty registry.
func NewRegistry[C comparable](opts ...Option) *Registry[C] {
	o := options{
		retention: DefaultRetention,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[C]{
		rooms:     make(map[string]*room[C]),
		retention: o.retention,
		now:       o.now,
		log:       o.log.With("component", "room-registry"),
	}
}

// CreateRoom creates a room with host as its first member. hostName defaults
// to the host's display name and topic to DefaultTopic.
func (g *Registry[C]) CreateRoom(code, hostName, topic string, host Participant[C]) (Snapshot[C], error) {
	if !ValidCode(code) {
		return Snapshot[C]{}, ErrInvalidCode
	}
	if host.UserID == "" {
		return Snapshot[C]{}, ErrInvalidUser
	}
	if hostName == "" {
		hostName = host.DisplayName
	}
	if topic == "" {
		topic = DefaultTopic
	}

	now := g.now()
	host.IsHost = true
	host.JoinedAt = now
	host.seq = 0

	r := &room[C]{
		code:         code,
		hostID:       host.UserID,
		hostName:     hostName,
		topic:        topic,
		createdAt:    now,
		participants: map[string]*Participant[C]{host.UserID: &host},
		nextSeq:      1,
	}

	g.mu.Lock()
	if existing, ok := g.rooms[code]; ok && !existing.closed.Load() {
		g.mu.Unlock()
		return Snapshot[C]{}, ErrRoomExists
	}
	g.rooms[code] = r
	g.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), nil
}

// JoinRoom adds p to an existing room as a regular member. onJoin, when not
// nil, runs with the new snapshot before the room lock is released, so no
// broadcast or leave can interleave with the newcomer's announcement.
func (g *Registry[C]) JoinRoom(code string, p Participant[C], onJoin func(Snapshot[C])) (Snapshot[C], error) {
	if !ValidCode(code) {
		return Snapshot[C]{}, ErrInvalidCode
	}
	if p.UserID == "" {
		return Snapshot[C]{}, ErrInvalidUser
	}
	r, err := g.lookup(code)
	if err != nil {
		return Snapshot[C]{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return Snapshot[C]{}, ErrRoomNotFound
	}
	if _, ok := r.participants[p.UserID]; ok {
		return Snapshot[C]{}, ErrAlreadyInRoom
	}

	p.IsHost = false
	p.JoinedAt = g.now()
	p.seq = r.nextSeq
	r.nextSeq++
	r.participants[p.UserID] = &p

	snap := r.snapshotLocked()
	if onJoin != nil {
		onJoin(snap)
	}
	return snap, nil
}

// RemoveParticipant removes userID from the room. The room is destroyed when
// the host leaves or nobody is left.
func (g *Registry[C]) RemoveParticipant(code, userID string) (Removal[C], error) {
	r, err := g.lookup(code)
	if err != nil {
		return Removal[C]{}, err
	}

	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return Removal[C]{}, ErrRoomNotFound
	}
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return Removal[C]{}, ErrNotMember
	}
	delete(r.participants, userID)

	out := Removal[C]{
		Removed:   *p,
		Remaining: r.membersLocked(),
		Count:     len(r.participants),
	}
	switch {
	case userID == r.hostID:
		out.Closed, out.Reason = true, ReasonHostLeft
	case len(r.participants) == 0:
		out.Closed, out.Reason = true, ReasonEmpty
	}
	if out.Closed {
		r.closed.Store(true)
	}
	r.mu.Unlock()

	if out.Closed {
		g.forget(code, r)
	}
	return out, nil
}

// Route resolves sender and target inside one room and calls fn with both
// while the room cannot change underneath it.
func (g *Registry[C]) Route(code, fromUserID, targetUserID string, fn func(from, to Participant[C])) error {
	r, err := g.lookup(code)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return ErrRoomNotFound
	}
	from, ok := r.participants[fromUserID]
	if !ok {
		return ErrNotMember
	}
	to, ok := r.participants[targetUserID]
	if !ok {
		return ErrPeerNotFound
	}
	fn(*from, *to)
	return nil
}

// Broadcast authorizes fromUserID and calls fn for every member in join order.
// The room's write lock is held throughout, so two broadcasts into the same
// room reach every member in the same order. With hostOnly set, non-hosts get
// ErrUnauthorized and fn is never called.
func (g *Registry[C]) Broadcast(code, fromUserID string, hostOnly bool, fn func(from Snapshot[C], to Participant[C])) error {
	r, err := g.lookup(code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return ErrRoomNotFound
	}
	if _, ok := r.participants[fromUserID]; !ok {
		return ErrNotMember
	}
	if hostOnly && fromUserID != r.hostID {
		return ErrUnauthorized
	}

	snap := r.snapshotLocked()
	for _, p := range snap.Participants {
		fn(snap, p)
	}
	return nil
}

// Snapshot returns a copy of the room's current state.
func (g *Registry[C]) Snapshot(code string) (Snapshot[C], error) {
	r, err := g.lookup(code)
	if err != nil {
		return Snapshot[C]{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return Snapshot[C]{}, ErrRoomNotFound
	}
	return r.snapshotLocked(), nil
}

// Len returns the number of live rooms.
func (g *Registry[C]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Sweep purges rooms that have no participants and were created longer ago
// than the retention window. It returns the number of rooms purged.
func (g *Registry[C]) Sweep(now time.Time) int {
	g.mu.RLock()
	candidates := make([]*room[C], 0, len(g.rooms))
	for _, r := range g.rooms {
		candidates = append(candidates, r)
	}
	g.mu.RUnlock()

	purged := 0
	for _, r := range candidates {
		r.mu.Lock()
		stale := !r.closed.Load() && len(r.participants) == 0 && now.Sub(r.createdAt) > g.retention
		if stale {
			r.closed.Store(true)
		}
		r.mu.Unlock()

		if stale {
			g.forget(r.code, r)
			purged++
			g.log.Info("Swept empty room", "room", r.code, "age", now.Sub(r.createdAt).Round(time.Second))
		}
	}
	return purged
}

// RunSweeper calls Sweep every interval until ctx is done. onSweep, when not
// nil, receives the number of rooms purged by each pass.
func (g *Registry[C]) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := g.Sweep(g.now())
			if onSweep != nil {
				onSweep(n)
			}
		}
	}
}

func (g *Registry[C]) lookup(code string) (*room[C], error) {
	g.mu.RLock()
	r, ok := g.rooms[code]
	g.mu.RUnlock()
	if !ok || r.closed.Load() {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// forget deletes code from the map if it still points at r. A newer room
// created under the same code after r closed is left alone.
func (g *Registry[C]) forget(code string, r *room[C]) {
	g.mu.Lock()
	if g.rooms[code] == r {
		delete(g.rooms, code)
	}
	g.mu.Unlock()
}
