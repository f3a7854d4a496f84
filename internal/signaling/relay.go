package signaling

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ChilliRoger/den-day/internal/metrics"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/ChilliRoger/den-day/internal/room"
)

// MaxChatLength is the longest chat message relayed, in characters.
const MaxChatLength = 1000

const chatTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Handle processes one inbound message from c. It never blocks on other
// connections: every delivery goes through Client.Send.
func (h *Hub) Handle(c *Client, msg *protocol.Message) {
	h.metrics.Received(msg.Type)

	switch msg.Type {
	case protocol.TypeCreateRoom:
		h.handleCreate(c, msg)

	case protocol.TypeJoinRoom:
		h.handleJoin(c, msg)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		h.handleNegotiation(c, msg)

	case protocol.TypeChatMessage:
		h.handleChat(c, msg)

	case protocol.TypeStartCakeCutting:
		h.handleCakeCutting(c, msg)

	case protocol.TypeLeaveRoom:
		// Leaving twice, or after the room closed, is not an error.
		if code, _ := c.identity(); code == "" {
			return
		}
		if code, ok := h.authorize(c, msg); ok {
			h.log.Debug("Leave requested", "room", code, "conn", c.ID)
			h.leave(c)
		}

	default:
		h.log.Warn("Unknown message type", "type", msg.Type, "conn", c.ID)
		h.metrics.Dropped(metrics.DropMalformed)
	}
}

// A connection speaks for one participant at a time. Switching rooms only
// leaves the old one after the new create or join succeeded; a request for
// the room the connection is already in fails without side effects.
func (h *Hub) handleCreate(c *Client, msg *protocol.Message) {
	prevCode, prevUser := c.identity()
	if prevCode != "" && prevCode == msg.RoomCode {
		h.log.Info("Room create failed", "room", msg.RoomCode, "error", room.ErrRoomExists)
		h.sendError(c, room.ErrRoomExists)
		return
	}

	userID := msg.UserID
	if userID == "" {
		userID = h.newID()
	}
	host := room.Participant[*Client]{UserID: userID, DisplayName: msg.UserName, Conn: c}

	snap, err := h.rooms.CreateRoom(msg.RoomCode, msg.HostName, msg.Topic, host)
	if err != nil {
		h.log.Info("Room create failed", "room", msg.RoomCode, "error", err)
		h.sendError(c, err)
		return
	}

	c.bind(snap.Code, userID)
	h.leaveRoom(prevCode, prevUser)
	h.metrics.RoomsActive.Set(float64(h.rooms.Len()))
	h.log.Info("Room created", "room", snap.Code, "host", userID, "clientType", c.ClientType)

	c.Send(&protocol.Message{
		Type:     protocol.TypeRoomCreated,
		RoomCode: snap.Code,
		UserID:   userID,
		RoomInfo: roomInfo(snap),
	})
}

func (h *Hub) handleJoin(c *Client, msg *protocol.Message) {
	prevCode, prevUser := c.identity()
	if prevCode != "" && prevCode == msg.RoomCode {
		h.log.Info("Room join failed", "room", msg.RoomCode, "error", room.ErrAlreadyInRoom)
		h.sendError(c, room.ErrAlreadyInRoom)
		return
	}

	userID := msg.UserID
	if userID == "" {
		userID = h.newID()
	}
	p := room.Participant[*Client]{UserID: userID, DisplayName: msg.UserName, Conn: c}

	// The newcomer's replies and the announcement to everyone else go out
	// under the room lock, so no other broadcast can slip in between.
	snap, err := h.rooms.JoinRoom(msg.RoomCode, p, func(snap room.Snapshot[*Client]) {
		c.bind(snap.Code, userID)
		c.Send(&protocol.Message{
			Type:     protocol.TypeRoomJoined,
			RoomCode: snap.Code,
			UserID:   userID,
			RoomInfo: roomInfo(snap),
		})
		c.Send(&protocol.Message{
			Type:         protocol.TypeExistingParticipants,
			RoomCode:     snap.Code,
			Participants: participantInfos(snap.Others(userID)),
		})
		for _, to := range snap.Others(userID) {
			to.Conn.Send(&protocol.Message{
				Type:             protocol.TypeUserJoined,
				RoomCode:         snap.Code,
				UserID:           userID,
				UserName:         p.DisplayName,
				ParticipantCount: snap.Count(),
			})
		}
	})
	if err != nil {
		h.log.Info("Room join failed", "room", msg.RoomCode, "error", err)
		h.sendError(c, err)
		return
	}

	h.leaveRoom(prevCode, prevUser)
	h.log.Info("Participant joined", "room", snap.Code, "user", userID, "count", snap.Count())
}

func (h *Hub) handleNegotiation(c *Client, msg *protocol.Message) {
	code, ok := h.authorize(c, msg)
	if !ok {
		return
	}
	_, userID := c.identity()

	msg.RoomCode = code
	msg.FromUserID = userID
	if err := msg.ValidateNegotiation(); errors.Is(err, protocol.ErrEndOfCandidates) {
		h.log.Debug("End of candidates", "room", code, "user", userID, "target", msg.TargetUserID)
		return
	} else if err != nil {
		h.log.Warn("Dropping negotiation message", "room", code, "error", err)
		h.metrics.Dropped(metrics.DropMalformed)
		return
	}

	err := h.rooms.Route(code, userID, msg.TargetUserID, func(from, to room.Participant[*Client]) {
		to.Conn.Send(&protocol.Message{
			Type:         msg.Type,
			RoomCode:     code,
			TargetUserID: to.UserID,
			FromUserID:   from.UserID,
			FromUserName: from.DisplayName,
			Signal:       msg.Signal,
		})
	})
	if err != nil {
		h.log.Debug("Negotiation not routed", "type", msg.Type, "room", code, "target", msg.TargetUserID, "error", err)
		h.sendError(c, err)
	}
}

func (h *Hub) handleChat(c *Client, msg *protocol.Message) {
	code, ok := h.authorize(c, msg)
	if !ok {
		return
	}
	_, userID := c.identity()

	content := strings.TrimSpace(msg.Text)
	if content == "" {
		h.metrics.Dropped(metrics.DropMalformed)
		return
	}
	if utf8.RuneCountInString(content) > MaxChatLength {
		content = string([]rune(content)[:MaxChatLength])
	}

	var chat *protocol.Message
	err := h.rooms.Broadcast(code, userID, false, func(cur room.Snapshot[*Client], to room.Participant[*Client]) {
		if chat == nil {
			chat = &protocol.Message{
				Type:     protocol.TypeChatMessage,
				RoomCode: code,
				Chat: &protocol.ChatMessage{
					ID:        h.newID(),
					Sender:    senderName(cur, userID),
					Content:   content,
					Timestamp: h.now().UTC().Format(chatTimeLayout),
					UserID:    userID,
				},
			}
		}
		to.Conn.Send(chat)
	})
	if err != nil {
		h.dropUnauthorized(c, code, err)
	}
}

func (h *Hub) handleCakeCutting(c *Client, msg *protocol.Message) {
	code, ok := h.authorize(c, msg)
	if !ok {
		return
	}
	_, userID := c.identity()

	err := h.rooms.Broadcast(code, userID, true, func(cur room.Snapshot[*Client], to room.Participant[*Client]) {
		to.Conn.Send(&protocol.Message{
			Type:     protocol.TypeCakeCuttingStarted,
			RoomCode: code,
			Topic:    cur.Topic,
		})
	})
	if err != nil {
		// Non-hosts are ignored without a reply.
		h.dropUnauthorized(c, code, err)
		return
	}
	h.log.Info("Cake cutting started", "room", code)
}

// leave removes c's participant from its room and tells whoever is left.
func (h *Hub) leave(c *Client) {
	code, userID := c.unbind()
	h.leaveRoom(code, userID)
}

// leaveRoom removes userID from code and tells whoever remains.
func (h *Hub) leaveRoom(code, userID string) {
	if code == "" {
		return
	}

	out, err := h.rooms.RemoveParticipant(code, userID)
	if err != nil {
		h.log.Debug("Leave found nothing to remove", "room", code, "user", userID, "error", err)
		return
	}

	if out.Closed {
		h.log.Info("Room closed", "room", code, "reason", out.Reason)
		for _, p := range out.Remaining {
			p.Conn.unbindIf(code)
			p.Conn.Send(&protocol.Message{
				Type:     protocol.TypeRoomClosed,
				RoomCode: code,
				Reason:   out.Reason,
			})
		}
	} else {
		h.log.Info("Participant left", "room", code, "user", userID, "count", out.Count)
		for _, p := range out.Remaining {
			p.Conn.Send(&protocol.Message{
				Type:             protocol.TypeUserLeft,
				RoomCode:         code,
				UserID:           userID,
				UserName:         out.Removed.DisplayName,
				ParticipantCount: out.Count,
			})
		}
	}
	h.metrics.RoomsActive.Set(float64(h.rooms.Len()))
}

// authorize checks that c is bound to a room and that any identity msg claims
// matches the binding. It returns the bound room code.
func (h *Hub) authorize(c *Client, msg *protocol.Message) (string, bool) {
	code, userID := c.identity()
	if code == "" {
		h.metrics.Dropped(metrics.DropUnauthorized)
		c.Send(protocol.NewError(protocol.CodeNotInRoom, "Join a room first"))
		return "", false
	}

	claimed := msg.FromUserID
	if claimed == "" {
		claimed = msg.UserID
	}
	if (msg.RoomCode != "" && msg.RoomCode != code) || (claimed != "" && claimed != userID) {
		h.log.Warn("Dropping message with foreign identity",
			"type", msg.Type, "room", code, "claimedRoom", msg.RoomCode, "claimedUser", claimed)
		h.metrics.Dropped(metrics.DropIdentity)
		return "", false
	}
	return code, true
}

func (h *Hub) dropUnauthorized(c *Client, code string, err error) {
	switch {
	case errors.Is(err, room.ErrUnauthorized), errors.Is(err, room.ErrNotMember):
		h.log.Warn("Dropping unauthorized message", "room", code, "conn", c.ID, "error", err)
		h.metrics.Dropped(metrics.DropUnauthorized)
	default:
		h.sendError(c, err)
	}
}

// sendError reports err to c only.
func (h *Hub) sendError(c *Client, err error) {
	var code protocol.ErrorCode
	var text string

	switch {
	case errors.Is(err, room.ErrInvalidCode):
		code, text = protocol.CodeInvalidCode, "Invalid room code format"
	case errors.Is(err, room.ErrRoomExists):
		code, text = protocol.CodeRoomExists, "Room already exists"
	case errors.Is(err, room.ErrRoomNotFound):
		code, text = protocol.CodeRoomNotFound, "Room does not exist"
	case errors.Is(err, room.ErrAlreadyInRoom):
		code, text = protocol.CodeAlreadyInRoom, "You are already in this room"
	case errors.Is(err, room.ErrPeerNotFound):
		code, text = protocol.CodePeerNotFound, "That participant is not in the room"
	case errors.Is(err, room.ErrUnauthorized):
		code, text = protocol.CodeUnauthorized, "Only the host can do that"
	case errors.Is(err, room.ErrNotMember):
		code, text = protocol.CodeNotInRoom, "You are not in this room"
	default:
		h.log.Error("Unmapped relay error", "error", err)
		return
	}
	c.Send(protocol.NewError(code, text))
}

func roomInfo(snap room.Snapshot[*Client]) *protocol.RoomInfo {
	return &protocol.RoomInfo{
		RoomCode:         snap.Code,
		ParticipantCount: snap.Count(),
		HostName:         snap.HostName,
		Topic:            snap.Topic,
		Participants:     participantInfos(snap.Participants),
	}
}

func participantInfos(ps []room.Participant[*Client]) []protocol.ParticipantInfo {
	out := make([]protocol.ParticipantInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, protocol.ParticipantInfo{UserID: p.UserID, UserName: p.DisplayName, IsHost: p.IsHost})
	}
	return out
}

func senderName(snap room.Snapshot[*Client], userID string) string {
	for _, p := range snap.Participants {
		if p.UserID == userID {
			return p.DisplayName
		}
	}
	return ""
}
