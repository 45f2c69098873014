package models

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ChannelName identifies a notification delivery mechanism.
type ChannelName string

const (
	ChannelSMS        ChannelName = "sms"         // push message via SMS gateway
	ChannelWebhook    ChannelName = "webhook"     // outbound webhook (Teams compatible)
	ChannelLiveSocket ChannelName = "live_socket" // push to the owner's live connections
)

// KnownChannels lists every channel name the dispatcher understands.
var KnownChannels = []ChannelName{ChannelSMS, ChannelWebhook, ChannelLiveSocket}

// ErrInvalidPreferences is returned when a registration carries bad notification preferences.
var ErrInvalidPreferences = errors.New("invalid notification preferences")

// Preferences holds the enabled channel set and the channel specific contact fields.
type Preferences struct {
	Channels      []ChannelName `json:"channels" yaml:"channels"`
	SMSRecipients []string      `json:"sms_recipients,omitempty" yaml:"sms_recipients"`
	WebhookURL    string        `json:"webhook_url,omitempty" yaml:"webhook_url"`
}

// Enabled reports whether the channel is in the enabled set.
func (p Preferences) Enabled(name ChannelName) bool {
	return slices.Contains(p.Channels, name)
}

// Normalize trims contact fields and removes duplicate channels, keeping the first occurrence order.
func (p Preferences) Normalize() Preferences {
	out := Preferences{WebhookURL: strings.TrimSpace(p.WebhookURL)}

	for _, ch := range p.Channels {
		ch = ChannelName(strings.TrimSpace(string(ch)))
		if ch == "" || slices.Contains(out.Channels, ch) {
			continue
		}
		out.Channels = append(out.Channels, ch)
	}

	for _, number := range p.SMSRecipients {
		if number = strings.TrimSpace(number); number != "" {
			out.SMSRecipients = append(out.SMSRecipients, number)
		}
	}

	return out
}

// Validate checks channel names and the webhook URL.
func (p Preferences) Validate() error {
	for _, ch := range p.Channels {
		if !slices.Contains(KnownChannels, ch) {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidPreferences, ch)
		}
	}

	if p.WebhookURL != "" {
		u, err := url.Parse(p.WebhookURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: webhook_url must be an absolute http(s) URL", ErrInvalidPreferences)
		}
	}

	return nil
}

// Identity binds a scannable code to a door owner and their notification preferences.
// It is immutable once registered.
type Identity struct {
	CodeID      string
	OwnerID     string
	Label       string
	Preferences Preferences
	CreatedAt   time.Time
}

// Clone returns a deep copy so callers never share slices with the registry.
func (i Identity) Clone() Identity {
	i.Preferences.Channels = slices.Clone(i.Preferences.Channels)
	i.Preferences.SMSRecipients = slices.Clone(i.Preferences.SMSRecipients)
	return i
}
