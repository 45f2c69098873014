package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wolfeidau/ding/internal/api"
	"github.com/wolfeidau/ding/internal/models"
)

type ScanCmd struct {
	ClientFlags `embed:""`
	CodeID      string `arg:"" help:"Code that was scanned"`
	DeviceID    string `name:"device-id" help:"Scanner device identifier"`
	Location    string `help:"Scanner location"`
}

func (s *ScanCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := s.newClient(globals)
	if err != nil {
		return err
	}

	resp, err := c.Scan(ctx, api.ScanRequest{
		CodeID:          s.CodeID,
		ScannerDeviceID: s.DeviceID,
		ScannerLocation: s.Location,
	})
	if err != nil {
		return fmt.Errorf("failed to scan code: %w", err)
	}

	fmt.Println(resp.Message)
	fmt.Printf("Session:   %s\n", resp.SessionID)
	fmt.Printf("State:     %s\n", resp.State)
	fmt.Printf("Expect an answer within %ds\n", resp.EstimatedResponseSeconds)
	return nil
}

type RespondCmd struct {
	ClientFlags `embed:""`
	SessionID   string              `arg:"" help:"Session to answer"`
	Type        models.ResponseType `arg:"" help:"Response type" enum:"accept,reject,busy,custom"`
	Message     string              `help:"Message for custom responses"`
}

func (r *RespondCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := r.newClient(globals)
	if err != nil {
		return err
	}

	resp, err := c.Respond(ctx, api.RespondRequest{
		SessionID:     r.SessionID,
		ResponseType:  r.Type,
		CustomMessage: r.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to respond: %w", err)
	}

	fmt.Println(resp.Message)
	if resp.VideoSessionID != "" {
		fmt.Printf("Video session: %s\n", resp.VideoSessionID)
	}
	printSession(os.Stdout, resp.Session)
	return nil
}

type SessionCmd struct {
	ClientFlags `embed:""`
	SessionID   string `arg:"" optional:"" help:"Session to show"`
	Owner       string `help:"List every session for this owner instead"`
}

func (s *SessionCmd) Validate() error {
	if s.SessionID == "" && s.Owner == "" {
		return errors.New("either a session ID or --owner is required")
	}
	return nil
}

func (s *SessionCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := s.newClient(globals)
	if err != nil {
		return err
	}

	if s.SessionID == "" {
		sessions, err := c.ListSessions(ctx, s.Owner)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		printSessions(os.Stdout, s.Owner, sessions)
		return nil
	}

	session, err := c.GetSession(ctx, s.SessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	printSession(os.Stdout, *session)
	return nil
}
