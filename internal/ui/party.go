package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ChilliRoger/den-day/internal/mesh"
	"github.com/ChilliRoger/den-day/internal/party"
	"github.com/ChilliRoger/den-day/internal/protocol"
)

const chatHistory = 50

// Party is what the live view drives. *party.Session satisfies it.
type Party interface {
	Events() <-chan party.Event
	SendChat(text string) error
	StartCakeCutting() error
	ToggleAudio() bool
	ToggleVideo() bool
	AudioEnabled() bool
	VideoEnabled() bool
	Info() protocol.RoomInfo
	Peers() []mesh.PeerSnapshot
	UserID() string
	IsHost() bool
}

type partyEventMsg party.Event

type partyEndedMsg struct{}

type partyModel struct {
	p    Party
	link string

	info    protocol.RoomInfo
	peers   []mesh.PeerSnapshot
	chat    []string
	status  string
	cake    string
	ended   string
	audioOn bool
	videoOn bool

	input   textinput.Model
	spinner spinner.Model
	width   int
}

func newPartyModel(p Party, link string) *partyModel {
	ti := textinput.New()
	ti.Placeholder = "say happy birthday..."
	ti.CharLimit = 1000
	ti.Prompt = IconChat + " "

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &partyModel{
		p:       p,
		link:    link,
		info:    p.Info(),
		peers:   p.Peers(),
		audioOn: p.AudioEnabled(),
		videoOn: p.VideoEnabled(),
		input:   ti,
		spinner: s,
	}
}

func (m *partyModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// listen waits for the next session event.
func (m *partyModel) listen() tea.Cmd {
	events := m.p.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return partyEndedMsg{}
		}
		return partyEventMsg(ev)
	}
}

func (m *partyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(10, msg.Width-6)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case partyEventMsg:
		if m.apply(party.Event(msg)) {
			return m, tea.Quit
		}
		return m, m.listen()

	case partyEndedMsg:
		if m.ended == "" {
			m.ended = "Session ended"
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m *partyModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.input.Focused() {
		switch msg.String() {
		case "esc":
			m.input.Blur()
			return m, nil
		case "enter":
			text := m.input.Value()
			m.input.Reset()
			if err := m.p.SendChat(text); err != nil && strings.TrimSpace(text) != "" {
				m.status = ErrorStyle.Render(err.Error())
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter", "i", "/":
		return m, m.input.Focus()
	case "m":
		m.audioOn = m.p.ToggleAudio()
		m.status = onOff("Microphone", m.audioOn)
	case "v":
		m.videoOn = m.p.ToggleVideo()
		m.status = onOff("Camera", m.videoOn)
	case "c":
		if err := m.p.StartCakeCutting(); err != nil {
			m.status = WarningStyle.Render(err.Error())
		}
	}
	return m, nil
}

// apply folds a session event into the view and reports whether the party
// is over.
func (m *partyModel) apply(ev party.Event) bool {
	switch ev.Kind {
	case party.EventChat:
		c := ev.Chat
		m.chat = append(m.chat, fmt.Sprintf("%s %s: %s",
			MutedStyle.Render(chatTime(c.Timestamp)), SenderStyle.Render(c.Sender), c.Content))
		if len(m.chat) > chatHistory {
			m.chat = m.chat[len(m.chat)-chatHistory:]
		}

	case party.EventCakeCutting:
		topic := ev.Topic
		if topic == "" {
			topic = m.info.Topic
		}
		m.cake = fmt.Sprintf("%s Time to cut the cake for %s! %s", IconCake, topic, IconParty)

	case party.EventParticipantJoined:
		m.info = m.p.Info()
		m.status = fmt.Sprintf("%s %s joined", IconPeer, ev.UserName)

	case party.EventParticipantLeft:
		m.info = m.p.Info()
		m.status = fmt.Sprintf("%s %s left", IconPeer, ev.UserName)

	case party.EventPeer:
		m.peers = m.p.Peers()
		if ev.Peer != nil && ev.Peer.Type == mesh.EventPeerRemoved && ev.Peer.Err != nil {
			m.status = WarningStyle.Render(fmt.Sprintf("Lost video with %s", ev.Peer.Peer.Name))
		}

	case party.EventRoomClosed:
		m.ended = ev.Reason
		return true

	case party.EventDisconnected:
		m.ended = "Disconnected from server"
		if ev.Reason != "" {
			m.ended += ": " + ev.Reason
		}
		return true
	}
	return false
}

func (m *partyModel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("%s %s", IconCake, m.info.RoomCode)
	if m.info.Topic != "" {
		title += " · " + m.info.Topic
	}
	b.WriteString(HeaderStyle.Render(title))
	b.WriteString("  ")
	b.WriteString(MutedStyle.Render(fmt.Sprintf("%d here", m.info.ParticipantCount)))
	b.WriteString("\n")
	if m.link != "" {
		b.WriteString(MutedStyle.Render(IconLink + " " + m.link))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(ParticipantsView(m.info, m.p.UserID(), m.peers))
	b.WriteString("\n")
	if n := connecting(m.peers); n > 0 {
		fmt.Fprintf(&b, "%s Connecting to %d %s...\n", m.spinner.View(), n, plural(n, "guest", "guests"))
	}

	if m.cake != "" {
		b.WriteString(CelebrationBoxStyle.Render(m.cake))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if len(m.chat) == 0 {
		b.WriteString(MutedStyle.Render("No messages yet"))
		b.WriteString("\n")
	}
	for _, line := range m.chat {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	if m.ended != "" {
		b.WriteString(WarningStyle.Render(m.ended))
		b.WriteString("\n")
	}

	b.WriteString(FooterStyle.Render(m.help()))
	b.WriteString("\n")
	return b.String()
}

func (m *partyModel) help() string {
	if m.input.Focused() {
		return "enter send • esc done"
	}
	mic, cam := IconMicOn, IconCamOn
	if !m.audioOn {
		mic = IconMicOff
	}
	if !m.videoOn {
		cam = IconCamOff
	}
	keys := fmt.Sprintf("enter chat • m mic %s • v camera %s", mic, cam)
	if m.p.IsHost() {
		keys += " • c cut the cake"
	}
	return keys + " • q leave"
}

// RunParty shows the live view until the user quits or the party ends. The
// caller still owns the session and must Leave it.
func RunParty(p Party, link string) (string, error) {
	m := newPartyModel(p, link)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		return "", err
	}
	return m.ended, nil
}

func connecting(peers []mesh.PeerSnapshot) int {
	n := 0
	for _, p := range peers {
		if p.Connecting() {
			n++
		}
	}
	return n
}

func onOff(what string, on bool) string {
	if on {
		return what + " on"
	}
	return what + " off"
}

func chatTime(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ""
	}
	return t.Local().Format("15:04")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
