package channels

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/notify"
)

// ErrNoLiveConnection means the owner had no connection that accepted the event.
// Nothing is queued for later delivery.
var ErrNoLiveConnection = errors.New("no live connection for owner")

// Publisher is the part of the hub the live channel needs.
type Publisher interface {
	Publish(ctx context.Context, ownerID string, ev models.Event) int
}

// Live pushes a ding.request event to the owner's open live connections.
type Live struct {
	hub Publisher
	now func() time.Time
}

var _ notify.Channel = (*Live)(nil)

func NewLive(hub Publisher) *Live {
	return &Live{hub: hub, now: time.Now}
}

func (l *Live) Name() models.ChannelName { return models.ChannelLiveSocket }

func (l *Live) Send(ctx context.Context, msg notify.Message) error {
	s := msg.Session

	ev := models.Event{
		Type:      models.EventDingRequest,
		SessionID: s.SessionID,
		OwnerID:   s.OwnerID,
		State:     s.State,
		Message:   "Someone is at your door and wants to talk!",
		Timestamp: l.now().UTC(),
		Data: map[string]any{
			"code_id":                    s.CodeID,
			"label":                      msg.Identity.Label,
			"visitor":                    s.Visitor,
			"estimated_response_seconds": s.EstimatedResponseSeconds,
		},
	}

	if l.hub.Publish(ctx, s.OwnerID, ev) == 0 {
		return ErrNoLiveConnection
	}
	return nil
}
