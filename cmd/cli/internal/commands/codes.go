package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/wolfeidau/ding/internal/api"
	"github.com/wolfeidau/ding/internal/models"
)

type RegisterCmd struct {
	ClientFlags   `embed:""`
	OwnerID       string               `arg:"" help:"Owner the code notifies"`
	Label         string               `help:"Human label for the code, e.g. front door"`
	Channels      []models.ChannelName `help:"Enabled channels (sms, webhook, live_socket)" default:"live_socket"`
	SMSRecipients []string             `name:"sms-recipients" help:"Phone numbers for the sms channel"`
	WebhookURL    string               `name:"webhook-url" help:"Target for the webhook channel"`
}

func (r *RegisterCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := r.newClient(globals)
	if err != nil {
		return err
	}

	resp, err := c.Register(ctx, api.RegisterRequest{
		OwnerID:       r.OwnerID,
		Label:         r.Label,
		Channels:      r.Channels,
		SMSRecipients: r.SMSRecipients,
		WebhookURL:    r.WebhookURL,
	})
	if err != nil {
		return fmt.Errorf("failed to register code: %w", err)
	}

	fmt.Printf("Code registered: %s\n", resp.CodeID)
	fmt.Printf("Owner:     %s\n", resp.OwnerID)
	fmt.Printf("Channels:  %v\n", resp.Channels)
	fmt.Printf("Scan URL:  %s\n", resp.ScanURL)
	fmt.Printf("Image:     %s%s\n", r.Server, resp.ImageURL)
	return nil
}

type QRCmd struct {
	ClientFlags `embed:""`
	CodeID      string `arg:"" help:"Code to download"`
	Output      string `short:"o" help:"Output file (defaults to <code_id>.png)"`
}

func (q *QRCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := q.newClient(globals)
	if err != nil {
		return err
	}

	png, err := c.QRImage(ctx, q.CodeID)
	if err != nil {
		return fmt.Errorf("failed to download QR image: %w", err)
	}

	output := q.Output
	if output == "" {
		output = q.CodeID + ".png"
	}
	if err := os.WriteFile(output, png, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	fmt.Printf("Wrote %s (%d bytes)\n", output, len(png))
	return nil
}
