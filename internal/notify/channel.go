// Package notify fans a ding out across the owner's enabled notification channels.
package notify

import (
	"context"
	"errors"

	"github.com/wolfeidau/ding/internal/models"
)

var (
	ErrChannelNotConfigured = errors.New("channel not configured")
	ErrChannelTimeout       = errors.New("channel send timed out")
	ErrChannelPanic         = errors.New("channel panicked")
)

// Channel delivers a single notification. Send should honour ctx, but the dispatcher
// does not rely on it to bound the wait.
type Channel interface {
	Name() models.ChannelName
	Send(ctx context.Context, msg Message) error
}

// Message is what every channel receives: a snapshot of the session and the identity it
// was scanned from.
type Message struct {
	Session  *models.Session
	Identity models.Identity
}

// OutcomeRecorder writes a final channel outcome back to the session. It is called exactly
// once per enabled channel.
type OutcomeRecorder func(channel models.ChannelName, outcome models.Outcome, detail string)
