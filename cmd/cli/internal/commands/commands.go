package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/wolfeidau/ding/internal/api"
	"github.com/wolfeidau/ding/internal/client"
	"github.com/wolfeidau/ding/internal/models"
)

type Globals struct {
	Debug   bool
	Version string
}

// ClientFlags are shared by every command that talks to the server.
type ClientFlags struct {
	Server   string        `help:"Server URL" default:"http://localhost:8080" env:"DING_SERVER"`
	Timeout  time.Duration `help:"Request timeout" default:"30s"`
	CacheDir string        `help:"Directory for cached QR images (empty keeps them in memory)" default:"" env:"DING_CACHE_DIR"`
}

func (f ClientFlags) newClient(globals *Globals) (*client.Client, error) {
	c, err := client.New(client.Config{
		ServerURL: f.Server,
		Timeout:   f.Timeout,
		CacheDir:  f.CacheDir,
		Debug:     globals.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

const timeFormat = "2006-01-02 15:04:05"

func printSession(w io.Writer, s api.Session) {
	fmt.Fprintf(w, "Session:   %s\n", s.SessionID)
	fmt.Fprintf(w, "Code:      %s\n", s.CodeID)
	fmt.Fprintf(w, "Owner:     %s\n", s.OwnerID)
	fmt.Fprintf(w, "State:     %s\n", s.State)
	fmt.Fprintf(w, "Created:   %s\n", s.CreatedAt.Local().Format(timeFormat))
	if s.Deadline != nil {
		fmt.Fprintf(w, "Deadline:  %s\n", s.Deadline.Local().Format(timeFormat))
	}
	if s.Visitor.DeviceID != "" || s.Visitor.Location != "" {
		fmt.Fprintf(w, "Visitor:   %s %s\n", s.Visitor.DeviceID, s.Visitor.Location)
	}
	if s.Response != nil {
		fmt.Fprintf(w, "Response:  %s", s.Response.Type)
		if s.Response.Message != "" {
			fmt.Fprintf(w, " (%s)", s.Response.Message)
		}
		fmt.Fprintln(w)
	}

	if len(s.Outcomes) == 0 {
		return
	}

	names := make([]string, 0, len(s.Outcomes))
	for name := range s.Outcomes {
		names = append(names, string(name))
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Channels:")
	for _, name := range names {
		outcome := s.Outcomes[models.ChannelName(name)]
		line := fmt.Sprintf("  %-12s %s", name, outcome.Outcome)
		if outcome.Error != "" {
			line += " - " + outcome.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printSessions(w io.Writer, ownerID string, sessions []api.Session) {
	fmt.Fprintf(w, "Sessions for %s:\n", ownerID)

	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}

	fmt.Fprintf(w, "%-40s %-10s %-20s %-10s\n", "Session ID", "State", "Created At", "Response")
	fmt.Fprintln(w, strings.Repeat("─", 84))

	for _, s := range sessions {
		response := "-"
		if s.Response != nil {
			response = string(s.Response.Type)
		}
		fmt.Fprintf(w, "%-40s %-10s %-20s %-10s\n",
			s.SessionID,
			s.State,
			s.CreatedAt.Local().Format(timeFormat),
			response)
	}

	fmt.Fprintf(w, "\nTotal sessions: %d\n", len(sessions))
}

func formatEvent(ev models.Event) string {
	ts := ev.Timestamp.Local().Format("15:04:05")

	switch ev.Type {
	case models.EventConnected:
		return fmt.Sprintf("[%s] connected as %s", ts, ev.OwnerID)
	case models.EventHeartbeat:
		return fmt.Sprintf("[%s] heartbeat", ts)
	case models.EventDingRequest:
		return fmt.Sprintf("[%s] DING %s: %s", ts, ev.SessionID, ev.Message)
	}

	return fmt.Sprintf("[%s] %s %s %s", ts, ev.Type, ev.SessionID, ev.State)
}
