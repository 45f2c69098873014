package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/ding/internal/client"
	"github.com/wolfeidau/ding/internal/logger"
	"github.com/wolfeidau/ding/internal/models"
)

type WatchCmd struct {
	ClientFlags    `embed:""`
	OwnerID        string        `arg:"" help:"Owner whose dings to watch"`
	MaxBackoff     time.Duration `help:"Longest wait between reconnect attempts" default:"30s"`
	GiveUpAfter    time.Duration `help:"Stop reconnecting after this long (0 never gives up)" default:"0s"`
	ShowHeartbeats bool          `help:"Print heartbeat frames"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	c, err := w.newClient(globals)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	fmt.Printf("Watching dings for %s on %s (press Ctrl+C to stop)...\n", w.OwnerID, w.Server)

	err = c.Watch(ctx, w.OwnerID, client.WatchOptions{
		MaxElapsedTime: w.GiveUpAfter,
		MaxBackoff:     w.MaxBackoff,
	}, func(ev models.Event) error {
		if ev.Type == models.EventHeartbeat && !w.ShowHeartbeats {
			return nil
		}
		fmt.Fprintln(os.Stdout, formatEvent(ev))
		return nil
	})
	if errors.Is(err, context.Canceled) {
		fmt.Println("Watch stopped")
		return nil
	}
	return err
}
