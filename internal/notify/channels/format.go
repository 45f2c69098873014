// Package channels holds the concrete notification channel adapters.
package channels

import (
	"fmt"
	"strings"

	"github.com/wolfeidau/ding/internal/notify"
)

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// smsBody is the short text sent to SMS recipients.
func smsBody(msg notify.Message) string {
	s := msg.Session

	var b strings.Builder
	fmt.Fprintf(&b, "Ding alert for %s. ", orDefault(s.OwnerID, "door owner"))
	fmt.Fprintf(&b, "Session %s from %s. ", s.SessionID, orDefault(s.Visitor.DeviceID, "unknown device"))
	b.WriteString("Someone is at the door.")
	if s.Visitor.Location != "" {
		fmt.Fprintf(&b, " Location: %s.", s.Visitor.Location)
	}
	return b.String()
}

// webhookText is the markdown body posted to chat webhooks.
func webhookText(msg notify.Message) string {
	s := msg.Session

	lines := []string{
		"**New Ding Request**",
		"- Session: " + s.SessionID,
		"- Device: " + orDefault(s.Visitor.DeviceID, "unknown"),
	}
	if msg.Identity.Label != "" {
		lines = append(lines, "- Door: "+msg.Identity.Label)
	}
	if s.Visitor.Location != "" {
		lines = append(lines, "- Location: "+s.Visitor.Location)
	}
	lines = append(lines, "Respond in the Ding console to accept or decline.")

	return strings.Join(lines, "\n")
}
