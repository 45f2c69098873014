package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/ding/cmd/server/internal/commands"
	"github.com/wolfeidau/ding/internal/config"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool             `help:"Enable debug mode." env:"DING_DEBUG"`
		Config  kong.ConfigFlag  `help:"Path to a YAML config file." env:"DING_CONFIG"`
		Version kong.VersionFlag
		Serve   commands.ServeCmd `cmd:"" default:"withargs" help:"Start the ding server (JSON API + owner websockets)"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("ding-server"),
		kong.Vars{
			"version": version,
		},
		kong.Configuration(config.YAML, "/etc/ding/server.yaml", "~/.config/ding/server.yaml"),
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
