package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/immxrtalbeast/meshconf/internal/api/http/converter"
	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	primary = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	failure = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")
)

var (
	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(primary)
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(success)
	joinStyle   = lipgloss.NewStyle().Foreground(success)
	leaveStyle  = lipgloss.NewStyle().Foreground(warning)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(failure)
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)
	bannerStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primary).Padding(0, 2)
)

func PrintError(msg string) {
	fmt.Println(errorStyle.Render("error: " + msg))
}

func printInfo(msg string) {
	fmt.Println(mutedStyle.Render(msg))
}

func printBanner(room, self string, others int) {
	body := fmt.Sprintf("room %s\nyou are %s\n%d already here",
		nameStyle.Render(room), selfStyle.Render(self), others)
	fmt.Println(bannerStyle.Render(body))
}

func printChat(at time.Time, name string, self bool, text string) {
	style := nameStyle
	if self {
		style = selfStyle
	}
	stamp := at.Local().Format("15:04:05")
	fmt.Printf("%s %s %s\n", mutedStyle.Render(stamp), style.Render(name+":"), text)
}

func printJoined(name string) {
	fmt.Println(joinStyle.Render("+ " + name + " joined"))
}

func printLeft(name string) {
	fmt.Println(leaveStyle.Render("- " + name + " left"))
}

func label(id, name string) string {
	if name == "" {
		return shortID(id)
	}
	return name + " (" + shortID(id) + ")"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderParticipants(out io.Writer, room string, participants []converter.ParticipantResponse) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("room " + room)
	t.AppendHeader(table.Row{"#", "Participant", "Name", "Joined"})
	for i, p := range participants {
		t.AppendRow(table.Row{i + 1, p.ParticipantID, p.DisplayName, p.JoinedAt.Local().Format(time.DateTime)})
	}
	t.AppendFooter(table.Row{"", "", "total", len(participants)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func renderStats(out io.Writer, rooms, members int) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Rooms", "Members"})
	t.AppendRow(table.Row{rooms, members})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
