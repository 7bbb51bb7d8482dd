package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// SessionSummary is the per-session report printed when a session ends.
type SessionSummary struct {
	Room                string
	Role                string
	FinalState          string
	Attempts            int
	DirectSuccesses     int
	FallbackActivations int
	TimeToConnect       time.Duration
	Sent                int
	Received            int
}

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
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

func SessionSummaryView(s SessionSummary) string {
	ttc := "-"
	if s.TimeToConnect > 0 {
		ttc = s.TimeToConnect.Round(time.Millisecond).String()
	}
	rows := [][]string{
		{"Room", s.Room},
		{"Role", s.Role},
		{"Final State", s.FinalState},
		{"Attempts", fmt.Sprintf("%d", s.Attempts)},
		{"Direct Successes", fmt.Sprintf("%d", s.DirectSuccesses)},
		{"Fallbacks", fmt.Sprintf("%d", s.FallbackActivations)},
		{"Time To Connect", ttc},
		{"Sent", fmt.Sprintf("%d", s.Sent)},
		{"Received", fmt.Sprintf("%d", s.Received)},
	}
	return newTable([]string{"Metric", "Value"}, rows).Render()
}

func RenderSessionSummary(s SessionSummary) {
	fmt.Println(SessionSummaryView(s))
}

// RoomStatusView renders the result of a room lookup.
func RoomStatusView(roomID string, participants int, full bool) string {
	status := "open"
	if full {
		status = "full"
	} else if participants == 0 {
		status = "empty"
	}
	rows := [][]string{
		{"Room", roomID},
		{"Participants", fmt.Sprintf("%d/2", participants)},
		{"Status", status},
	}
	return newTable([]string{"Field", "Value"}, rows).Render()
}

type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:    %s\n%s Room Link:  %s\n\n%s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
		MutedStyle.Render("Share the ID with your peer: pairlink join "+r.RoomID),
	)

	return boxStyle.Render(content)
}
