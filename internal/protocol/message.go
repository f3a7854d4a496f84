package protocol

import (
	"errors"
	"fmt"
)

// Message is the envelope for every websocket frame exchanged between party
// clients and the signaling server, in both directions. Only the fields that
// belong to Type are populated.
type Message struct {
	Type string `json:"type" msgpack:"type"`

	RoomCode string `json:"roomCode,omitempty" msgpack:"roomCode,omitempty"`
	UserID   string `json:"userId,omitempty" msgpack:"userId,omitempty"`
	UserName string `json:"userName,omitempty" msgpack:"userName,omitempty"`

	// create-room
	HostName string `json:"hostName,omitempty" msgpack:"hostName,omitempty"`
	Topic    string `json:"topic,omitempty" msgpack:"topic,omitempty"`

	// offer, answer, ice-candidate
	TargetUserID string  `json:"targetUserId,omitempty" msgpack:"targetUserId,omitempty"`
	FromUserID   string  `json:"fromUserId,omitempty" msgpack:"fromUserId,omitempty"`
	FromUserName string  `json:"fromUserName,omitempty" msgpack:"fromUserName,omitempty"`
	Signal       *Signal `json:"signal,omitempty" msgpack:"signal,omitempty"`

	// chat-message: Text is what a client sends, Chat is what the server echoes.
	Text string       `json:"message,omitempty" msgpack:"message,omitempty"`
	Chat *ChatMessage `json:"chat,omitempty" msgpack:"chat,omitempty"`

	RoomInfo         *RoomInfo         `json:"roomInfo,omitempty" msgpack:"roomInfo,omitempty"`
	Participants     []ParticipantInfo `json:"participants,omitempty" msgpack:"participants,omitempty"`
	ParticipantCount int               `json:"participantCount,omitempty" msgpack:"participantCount,omitempty"`
	Reason           string            `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Error            *ErrorPayload     `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Client to server event types.
const (
	TypeCreateRoom       = "create-room"
	TypeJoinRoom         = "join-room"
	TypeLeaveRoom        = "leave-room"
	TypeStartCakeCutting = "start-cake-cutting"
)

// Negotiation and chat events keep the same name in both directions.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChatMessage  = "chat-message"
)

// Server to client event types.
const (
	TypeRoomCreated          = "room-created"
	TypeRoomJoined           = "room-joined"
	TypeExistingParticipants = "existing-participants"
	TypeUserJoined           = "user-joined"
	TypeUserLeft             = "user-left"
	TypeRoomClosed           = "room-closed"
	TypeCakeCuttingStarted   = "cake-cutting-started"
	TypeError                = "error"
)

// Signal kinds carried inside negotiation events.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Signal is a single trickled negotiation artifact: a session description
// (offer or answer) or one discovered network candidate.
type Signal struct {
	Type      string     `json:"type" msgpack:"type"`
	SDP       string     `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
}

// Candidate mirrors the browser RTCIceCandidateInit shape.
type Candidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// ParticipantInfo is the public view of one room member.
type ParticipantInfo struct {
	UserID   string `json:"userId" msgpack:"userId"`
	UserName string `json:"userName" msgpack:"userName"`
	IsHost   bool   `json:"isHost" msgpack:"isHost"`
}

// RoomInfo is the read-only room snapshot handed to clients and debug endpoints.
type RoomInfo struct {
	RoomCode         string            `json:"roomCode" msgpack:"roomCode"`
	ParticipantCount int               `json:"participantCount" msgpack:"participantCount"`
	HostName         string            `json:"hostName" msgpack:"hostName"`
	Topic            string            `json:"topic" msgpack:"topic"`
	Participants     []ParticipantInfo `json:"participants" msgpack:"participants"`
}

// ChatMessage is a chat line as ordered and stamped by the server.
type ChatMessage struct {
	ID        string `json:"id" msgpack:"id"`
	Sender    string `json:"sender" msgpack:"sender"`
	Content   string `json:"content" msgpack:"content"`
	Timestamp string `json:"timestamp" msgpack:"timestamp"`
	UserID    string `json:"userId" msgpack:"userId"`
}

var ErrMalformed = errors.New("malformed message")

// ErrEndOfCandidates marks an ice-candidate with an empty candidate string,
// which browsers send once gathering completes. It carries nothing to relay.
var ErrEndOfCandidates = errors.New("end of candidates")

// ValidateNegotiation checks that a negotiation event carries a target and a
// signal of the matching kind.
func (m *Message) ValidateNegotiation() error {
	if m.RoomCode == "" || m.TargetUserID == "" || m.FromUserID == "" {
		return fmt.Errorf("%w: %s without room, target or sender", ErrMalformed, m.Type)
	}
	if m.Signal == nil {
		return fmt.Errorf("%w: %s without signal", ErrMalformed, m.Type)
	}

	switch m.Type {
	case TypeOffer, TypeAnswer:
		if m.Signal.Type != m.Type || m.Signal.SDP == "" {
			return fmt.Errorf("%w: %s carries %q signal", ErrMalformed, m.Type, m.Signal.Type)
		}
	case TypeICECandidate:
		if m.Signal.Type != SignalCandidate || m.Signal.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate without candidate", ErrMalformed)
		}
		if m.Signal.Candidate.Candidate == "" {
			return ErrEndOfCandidates
		}
	default:
		return fmt.Errorf("%w: %s is not a negotiation event", ErrMalformed, m.Type)
	}
	return nil
}
