package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ChilliRoger/den-day/internal/mesh"
	"github.com/ChilliRoger/den-day/internal/protocol"
)

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Lavender)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// ParticipantsView renders the room's members. Peer links, when given, fill
// in the connection column; selfID marks the local participant.
func ParticipantsView(info protocol.RoomInfo, selfID string, peers []mesh.PeerSnapshot) string {
	if len(info.Participants) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	links := make(map[string]mesh.PeerSnapshot, len(peers))
	for _, p := range peers {
		links[p.ID] = p
	}

	rows := make([][]string, 0, len(info.Participants))
	for i, p := range info.Participants {
		name := truncate(p.UserName, 24)
		if p.IsHost {
			name = IconHost + " " + name
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), name, linkStatus(p.UserID, selfID, links)})
	}
	return newTable([]string{"#", "Name", "Video"}, rows).Render()
}

func linkStatus(userID, selfID string, links map[string]mesh.PeerSnapshot) string {
	if userID == selfID {
		return "you"
	}
	link, ok := links[userID]
	switch {
	case !ok:
		return "waiting"
	case link.Connecting():
		return "connecting..."
	default:
		return "live"
	}
}

// RoomSummaryView renders a room lookup from the server.
func RoomSummaryView(info protocol.RoomInfo) string {
	rows := [][]string{
		{"Room", info.RoomCode},
		{"Host", info.HostName},
		{"Birthday", orDash(info.Topic)},
		{"Guests", fmt.Sprintf("%d", info.ParticipantCount)},
	}
	return newTable([]string{"Field", "Value"}, rows).Render()
}

func RenderRoomSummary(info protocol.RoomInfo) {
	fmt.Fprintln(stdout, RoomSummaryView(info))
	if len(info.Participants) > 0 {
		fmt.Fprintln(stdout, ParticipantsView(info, "", nil))
	}
}

type RoomInfo struct {
	Code  string
	Link  string
	Topic string
}

func (r RoomInfo) View() string {
	title := IconParty + " Party Created!"
	if r.Topic != "" {
		title = fmt.Sprintf("%s Party for %s!", IconParty, r.Topic)
	}
	content := fmt.Sprintf("%s\n\n%s Room Code:  %s\n%s Party Link: %s",
		title,
		IconCopy, CodeStyle.Render(r.Code),
		IconWeb, MutedStyle.Render(r.Link),
	)
	return roomBoxStyle.Render(content)
}

func RenderRoomInfo(code, link, topic string) {
	fmt.Fprintln(stdout, RoomInfo{Code: code, Link: link, Topic: topic}.View())
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
