package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conn struct{ id int }

func member(id string) Participant[*conn] {
	return Participant[*conn]{UserID: id, DisplayName: "name-" + id, Conn: &conn{}}
}

func newTestRegistry(t *testing.T) *Registry[*conn] {
	t.Helper()
	return NewRegistry[*conn]()
}

func TestCreateRoom(t *testing.T) {
	t.Run("defaults host name and topic", func(t *testing.T) {
		reg := newTestRegistry(t)

		snap, err := reg.CreateRoom("ABC123", "", "", member("h"))
		require.NoError(t, err)

		assert.Equal(t, "ABC123", snap.Code)
		assert.Equal(t, "h", snap.HostID)
		assert.Equal(t, "name-h", snap.HostName)
		assert.Equal(t, DefaultTopic, snap.Topic)
		require.Len(t, snap.Participants, 1)
		assert.True(t, snap.Participants[0].IsHost)
	})

	t.Run("duplicate code leaves original room untouched", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.CreateRoom("ABC123", "Host", "Sam", member("h"))
		require.NoError(t, err)

		_, err = reg.CreateRoom("ABC123", "Other", "Pat", member("x"))
		assert.ErrorIs(t, err, ErrRoomExists)

		snap, err := reg.Snapshot("ABC123")
		require.NoError(t, err)
		assert.Equal(t, "Sam", snap.Topic)
		require.Len(t, snap.Participants, 1)
		assert.Equal(t, "h", snap.Participants[0].UserID)
	})

	t.Run("rejects malformed codes", func(t *testing.T) {
		reg := newTestRegistry(t)
		for _, code := range []string{"", "abc123", "ABC12", "ABC1234", "ABC-12", "ÄBC123"} {
			_, err := reg.CreateRoom(code, "", "", member("h"))
			assert.ErrorIs(t, err, ErrInvalidCode, "code %q", code)
		}
		assert.Zero(t, reg.Len())
	})

	t.Run("concurrent creates of one code succeed once", func(t *testing.T) {
		reg := newTestRegistry(t)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := reg.CreateRoom("RACE01", "", "", member(fmt.Sprintf("h%d", i))); err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, ErrRoomExists)
				}
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		assert.Equal(t, 1, reg.Len())
	})
}

func TestJoinRoom(t *testing.T) {
	t.Run("unknown code has no side effects", func(t *testing.T) {
		reg := newTestRegistry(t)

		_, err := reg.JoinRoom("ZZZ999", member("g"), nil)
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.Zero(t, reg.Len())
	})

	t.Run("N joins give N unique members in join order", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.CreateRoom("ABC123", "", "", member("h"))
		require.NoError(t, err)

		var snap Snapshot[*conn]
		for i := 1; i <= 5; i++ {
			snap, err = reg.JoinRoom("ABC123", member(fmt.Sprintf("g%d", i)), nil)
			require.NoError(t, err)
		}

		assert.Equal(t, 6, snap.Count())
		seen := map[string]bool{}
		for i, p := range snap.Participants {
			assert.False(t, seen[p.UserID])
			seen[p.UserID] = true
			if i == 0 {
				assert.Equal(t, "h", p.UserID)
			} else {
				assert.Equal(t, fmt.Sprintf("g%d", i), p.UserID)
				assert.False(t, p.IsHost)
			}
		}
	})

	t.Run("same user twice", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.CreateRoom("ABC123", "", "", member("h"))
		require.NoError(t, err)
		_, err = reg.JoinRoom("ABC123", member("g"), nil)
		require.NoError(t, err)

		_, err = reg.JoinRoom("ABC123", member("g"), nil)
		assert.ErrorIs(t, err, ErrAlreadyInRoom)

		snap, err := reg.Snapshot("ABC123")
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Count())
	})

	t.Run("joiner cannot claim host", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.CreateRoom("ABC123", "", "", member("h"))
		require.NoError(t, err)

		p := member("g")
		p.IsHost = true
		snap, err := reg.JoinRoom("ABC123", p, nil)
		require.NoError(t, err)
		assert.False(t, snap.Participants[1].IsHost)
	})

	t.Run("others excludes self", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.CreateRoom("ABC123", "", "", member("h"))
		require.NoError(t, err)
		_, err = reg.JoinRoom("ABC123", member("g1"), nil)
		require.NoError(t, err)
		snap, err := reg.JoinRoom("ABC123", member("g2"), nil)
		require.NoError(t, err)

		others := snap.Others("g2")
		require.Len(t, others, 2)
		assert.Equal(t, "h", others[0].UserID)
		assert.Equal(t, "g1", others[1].UserID)
	})

	t.Run("onJoin sees the new snapshot under the room lock", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.CreateRoom("ABC123", "", "", member("h"))
		require.NoError(t, err)

		var seen Snapshot[*conn]
		calls := 0
		snap, err := reg.JoinRoom("ABC123", member("g1"), func(s Snapshot[*conn]) {
			calls++
			seen = s
			r, err := reg.lookup("ABC123")
			require.NoError(t, err)
			assert.False(t, r.mu.TryLock())
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, snap, seen)
		assert.Equal(t, 2, seen.Count())
	})

	t.Run("onJoin is skipped when the join fails", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.CreateRoom("ABC123", "", "", member("h"))
		require.NoError(t, err)

		called := false
		_, err = reg.JoinRoom("ABC123", member("h"), func(Snapshot[*conn]) { called = true })
		assert.ErrorIs(t, err, ErrAlreadyInRoom)
		_, err = reg.JoinRoom("ZZZ999", member("g"), func(Snapshot[*conn]) { called = true })
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.False(t, called)
	})
}

func TestRemoveParticipant(t *testing.T) {
	setup := func(t *testing.T) *Registry[*conn] {
		reg := newTestRegistry(t)
		_, err := reg.CreateRoom("ABC123", "", "", member("h"))
		require.NoError(t, err)
		_, err = reg.JoinRoom("ABC123", member("g1"), nil)
		require.NoError(t, err)
		_, err = reg.JoinRoom("ABC123", member("g2"), nil)
		require.NoError(t, err)
		return reg
	}

	t.Run("host leaving closes the room", func(t *testing.T) {
		reg := setup(t)

		out, err := reg.RemoveParticipant("ABC123", "h")
		require.NoError(t, err)
		assert.True(t, out.Closed)
		assert.Equal(t, ReasonHostLeft, out.Reason)
		assert.Len(t, out.Remaining, 2)

		_, err = reg.JoinRoom("ABC123", member("g3"), nil)
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.Zero(t, reg.Len())
	})

	t.Run("guest leaving keeps the room", func(t *testing.T) {
		reg := setup(t)

		out, err := reg.RemoveParticipant("ABC123", "g1")
		require.NoError(t, err)
		assert.False(t, out.Closed)
		assert.Equal(t, 2, out.Count)
		assert.Equal(t, "g1", out.Removed.UserID)

		snap, err := reg.Snapshot("ABC123")
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Count())
	})

	t.Run("non member", func(t *testing.T) {
		reg := setup(t)
		_, err := reg.RemoveParticipant("ABC123", "nobody")
		assert.ErrorIs(t, err, ErrNotMember)
	})

	t.Run("code is reusable after close", func(t *testing.T) {
		reg := setup(t)
		_, err := reg.RemoveParticipant("ABC123", "h")
		require.NoError(t, err)

		_, err = reg.CreateRoom("ABC123", "", "", member("new"))
		assert.NoError(t, err)
	})

	t.Run("concurrent departures close exactly once", func(t *testing.T) {
		for round := 0; round < 20; round++ {
			reg := newTestRegistry(t)
			_, err := reg.CreateRoom("ABC123", "", "", member("h"))
			require.NoError(t, err)
			for i := 0; i < 8; i++ {
				_, err = reg.JoinRoom("ABC123", member(fmt.Sprintf("g%d", i)), nil)
				require.NoError(t, err)
			}

			var closes atomic.Int32
			var wg sync.WaitGroup
			ids := []string{"h"}
			for i := 0; i < 8; i++ {
				ids = append(ids, fmt.Sprintf("g%d", i))
			}
			for _, id := range ids {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					out, err := reg.RemoveParticipant("ABC123", id)
					if err == nil && out.Closed {
						closes.Add(1)
					}
				}(id)
			}
			wg.Wait()

			assert.EqualValues(t, 1, closes.Load())
			assert.Zero(t, reg.Len())
		}
	})
}

func TestRoute(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.CreateRoom("ABC123", "", "", member("h"))
	require.NoError(t, err)
	_, err = reg.JoinRoom("ABC123", member("g"), nil)
	require.NoError(t, err)

	var got string
	err = reg.Route("ABC123", "g", "h", func(from, to Participant[*conn]) {
		got = from.UserID + "->" + to.UserID
	})
	require.NoError(t, err)
	assert.Equal(t, "g->h", got)

	noop := func(from, to Participant[*conn]) { t.Fatal("fn called") }
	assert.ErrorIs(t, reg.Route("ABC123", "x", "h", noop), ErrNotMember)
	assert.ErrorIs(t, reg.Route("ABC123", "g", "x", noop), ErrPeerNotFound)
	assert.ErrorIs(t, reg.Route("QQQ111", "g", "h", noop), ErrRoomNotFound)
}

func TestBroadcast(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.CreateRoom("ABC123", "", "Sam", member("h"))
	require.NoError(t, err)
	_, err = reg.JoinRoom("ABC123", member("g"), nil)
	require.NoError(t, err)

	t.Run("reaches every member including sender", func(t *testing.T) {
		var to []string
		err := reg.Broadcast("ABC123", "g", false, func(snap Snapshot[*conn], p Participant[*conn]) {
			to = append(to, p.UserID)
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"h", "g"}, to)
	})

	t.Run("host only rejects guests", func(t *testing.T) {
		called := false
		err := reg.Broadcast("ABC123", "g", true, func(Snapshot[*conn], Participant[*conn]) { called = true })
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.False(t, called)
	})

	t.Run("host only accepts host", func(t *testing.T) {
		var topic string
		n := 0
		err := reg.Broadcast("ABC123", "h", true, func(snap Snapshot[*conn], _ Participant[*conn]) {
			topic = snap.Topic
			n++
		})
		require.NoError(t, err)
		assert.Equal(t, "Sam", topic)
		assert.Equal(t, 2, n)
	})

	t.Run("non member", func(t *testing.T) {
		err := reg.Broadcast("ABC123", "x", false, func(Snapshot[*conn], Participant[*conn]) {})
		assert.ErrorIs(t, err, ErrNotMember)
	})
}

func TestSweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry[*conn](WithRetention(time.Hour), WithClock(func() time.Time { return now }))

	_, err := reg.CreateRoom("OLD001", "", "", member("a"))
	require.NoError(t, err)
	_, err = reg.CreateRoom("OLD002", "", "", member("b"))
	require.NoError(t, err)
	_, err = reg.CreateRoom("NEW001", "", "", member("c"))
	require.NoError(t, err)

	// Simulate a room leaked by clients that vanished without a leave.
	for _, code := range []string{"OLD001", "NEW001"} {
		r, err := reg.lookup(code)
		require.NoError(t, err)
		r.mu.Lock()
		r.participants = map[string]*Participant[*conn]{}
		r.mu.Unlock()
	}
	r, err := reg.lookup("NEW001")
	require.NoError(t, err)
	r.createdAt = now.Add(30 * time.Minute)

	purged := reg.Sweep(now.Add(90 * time.Minute))

	assert.Equal(t, 1, purged)
	assert.Equal(t, 2, reg.Len())
	_, err = reg.Snapshot("OLD001")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	for _, code := range []string{"NEW001", "OLD002"} {
		_, err = reg.Snapshot(code)
		assert.NoError(t, err, code)
	}
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	passes := make(chan int, 16)
	go func() {
		reg.RunSweeper(ctx, 5*time.Millisecond, func(n int) {
			select {
			case passes <- n:
			default:
			}
		})
		close(done)
	}()

	select {
	case n := <-passes:
		assert.Zero(t, n)
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestCodes(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := NewCode()
		require.NoError(t, err)
		assert.True(t, ValidCode(code), code)
	}
}
