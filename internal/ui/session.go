package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pairlink/pairlink/internal/session"
)

const historySize = 12

// EventMsg wraps a session event for delivery through tea.Program.Send.
type EventMsg session.Event

// SessionModel is the interactive view of one session: a status badge,
// the recent conversation and an input line whose contents are sent as a
// payload on enter.
type SessionModel struct {
	room  string
	role  string
	send  func([]byte) bool
	input textinput.Model
	spin  spinner.Model
	state session.State
	err   error
	lines []string

	Sent     int
	Received int
	quitting bool
}

func NewSessionModel(room, role string, send func([]byte) bool) *SessionModel {
	ti := textinput.New()
	ti.Placeholder = "type a message and press enter"
	ti.CharLimit = 4096
	ti.Width = 60
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &SessionModel{
		room:  room,
		role:  role,
		send:  send,
		input: ti,
		spin:  s,
		state: session.Connecting,
	}
}

// State returns the last state the view was told about, and its reason.
func (m *SessionModel) State() (session.State, error) { return m.state, m.err }

func (m *SessionModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m *SessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit()
			return m, nil
		}

	case EventMsg:
		return m, m.handleEvent(session.Event(msg))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *SessionModel) handleEvent(ev session.Event) tea.Cmd {
	switch ev.Kind {
	case session.Received:
		m.Received++
		m.push(PeerStyle.Render("peer> ") + string(ev.Payload))
	case session.StateChanged:
		m.state, m.err = ev.State, ev.Err
		line := "state: " + ev.State.String()
		if ev.Err != nil {
			line += " (" + ev.Err.Error() + ")"
		}
		m.push(MutedStyle.Render(line))
		if ev.State.Terminal() {
			m.quitting = true
			return tea.Quit
		}
	}
	return nil
}

func (m *SessionModel) submit() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return
	}
	if !m.send([]byte(text)) {
		m.push(WarningStyle.Render(fmt.Sprintf("%s not delivered, session is %s", IconWarning, m.state)))
		return
	}
	m.Sent++
	m.input.SetValue("")
	m.push(BoldStyle.Render("you> ") + text)
}

func (m *SessionModel) push(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > historySize {
		m.lines = m.lines[len(m.lines)-historySize:]
	}
}

func (m *SessionModel) badge() string {
	switch m.state {
	case session.ConnectedDirect:
		return DirectBadge.Render(IconConnect + " direct")
	case session.ConnectedRelayed:
		return RelayedBadge.Render(IconRelay + " relayed")
	case session.Failed:
		return FailedBadge.Render(IconError + " failed")
	case session.Closed:
		return ClosedBadge.Render("closed")
	}
	return ConnectingBadge.Render(m.spin.View() + " connecting")
}

func (m *SessionModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s Room %s  %s %s  %s\n\n",
		IconRoom, BoldStyle.Render(m.room), IconPeer, m.role, m.badge())
	for _, l := range m.lines {
		b.WriteString(l + "\n")
	}
	b.WriteString("\n" + m.input.View() + "\n")
	b.WriteString(FooterStyle.Render("enter to send, esc to leave"))
	return b.String()
}
