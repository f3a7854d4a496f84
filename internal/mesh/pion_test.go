package mesh

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChilliRoger/den-day/internal/config"
	dlog "github.com/ChilliRoger/den-day/internal/logging"
	"github.com/ChilliRoger/den-day/internal/media"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchboard stands in for the signaling server: it forwards targeted
// negotiation messages to the addressed participant's inbox.
type switchboard struct {
	mu    sync.Mutex
	inbox map[string]chan *protocol.Message
	names map[string]string
}

func newSwitchboard() *switchboard {
	return &switchboard{
		inbox: make(map[string]chan *protocol.Message),
		names: make(map[string]string),
	}
}

func (sb *switchboard) join(id, name string) chan *protocol.Message {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	ch := make(chan *protocol.Message, 512)
	sb.inbox[id] = ch
	sb.names[id] = name
	return ch
}

type endpoint struct {
	sb *switchboard
	id string
}

func (e endpoint) Send(msg *protocol.Message) error {
	e.sb.mu.Lock()
	ch, ok := e.sb.inbox[msg.TargetUserID]
	name := e.sb.names[e.id]
	e.sb.mu.Unlock()
	if !ok {
		return fmt.Errorf("no participant %s", msg.TargetUserID)
	}
	out := *msg
	out.FromUserID = e.id
	out.FromUserName = name
	ch <- &out
	return nil
}

func newVNetAPI(t *testing.T, n *vnet.Net) *webrtc.API {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetNet(n)
	api, err := NewAPI(dlog.Discard(), se)
	require.NoError(t, err)
	return api
}

type vnetPeer struct {
	id    string
	sup   *Supervisor
	inbox chan *protocol.Message
}

func TestPionMeshOverVNet(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiates real peer connections")
	}

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Stop() })

	sb := newSwitchboard()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ids := []string{"host", "g1", "g2"}
	peers := make([]*vnetPeer, 0, len(ids))
	apis := make([]*webrtc.API, 0, len(ids))
	for i := range ids {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{fmt.Sprintf("10.0.0.%d", i+1)}})
		require.NoError(t, err)
		require.NoError(t, router.AddNet(n))
		apis = append(apis, newVNetAPI(t, n))
	}
	require.NoError(t, router.Start())

	for i, id := range ids {
		capture, err := media.SyntheticSource{}.Acquire(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { _ = capture.Close() })

		factory, err := NewPionFactory(PionConfig{API: apis[i], Capture: capture, Log: dlog.Discard()})
		require.NoError(t, err)

		inbox := sb.join(id, "Name-"+id)
		sup, err := New(Config{
			SelfID:   id,
			RoomCode: "ABC123",
			Factory:  factory,
			Signal:   endpoint{sb: sb, id: id},
			Log:      dlog.Discard(),
		})
		require.NoError(t, err)
		go func() { _ = sup.Run(ctx, inbox) }()
		t.Cleanup(sup.Close)

		// The newcomer learns who is already present and offers to each.
		existing := make([]protocol.ParticipantInfo, 0, len(peers))
		for _, p := range peers {
			existing = append(existing, protocol.ParticipantInfo{UserID: p.id, UserName: "Name-" + p.id})
			p.inbox <- &protocol.Message{Type: protocol.TypeUserJoined, UserID: id, UserName: "Name-" + id}
		}
		inbox <- &protocol.Message{Type: protocol.TypeExistingParticipants, Participants: existing}

		peers = append(peers, &vnetPeer{id: id, sup: sup, inbox: inbox})
	}

	meshed := func() bool {
		for _, p := range peers {
			snaps := p.sup.Peers()
			if len(snaps) != len(peers)-1 {
				return false
			}
			for _, s := range snaps {
				if s.State != StateConnected || s.Connecting() {
					return false
				}
			}
		}
		return true
	}
	require.Eventually(t, meshed, 30*time.Second, 50*time.Millisecond, "full mesh never formed")

	for _, p := range peers {
		for _, s := range p.sup.Peers() {
			wantRole := RoleResponder
			if indexOf(ids, p.id) > indexOf(ids, s.ID) {
				wantRole = RoleInitiator
			}
			assert.Equal(t, wantRole, s.Role, "%s -> %s", p.id, s.ID)
			assert.Equal(t, "audio", s.Stream.Tracks[0].Kind)
		}
	}

	// g1 leaves; the rest drop only that link.
	for _, p := range []*vnetPeer{peers[0], peers[2]} {
		p.inbox <- &protocol.Message{Type: protocol.TypeUserLeft, UserID: "g1", ParticipantCount: 2}
	}
	peers[1].sup.Close()

	require.Eventually(t, func() bool {
		return peers[0].sup.Len() == 1 && peers[2].sup.Len() == 1
	}, 5*time.Second, 20*time.Millisecond)
	_, ok := peers[0].sup.Peer("g2")
	assert.True(t, ok)
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestICEServersFromConfig(t *testing.T) {
	cfg := &config.Config{
		STUNServers: []string{"stun:stun.example.org:19302"},
		TURNServer:  "turn.example.org",
		TURNUser:    "u",
		TURNPass:    "p",
		ForceRelay:  true,
	}
	servers, relay := ICEServers(cfg)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.example.org:19302"}, servers[0].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
	assert.True(t, relay)

	servers, relay = ICEServers(&config.Config{STUNServers: cfg.STUNServers, ForceRelay: true})
	assert.Len(t, servers, 1)
	assert.False(t, relay)
}
