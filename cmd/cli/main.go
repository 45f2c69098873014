package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/ding/cmd/cli/internal/commands"
	"github.com/wolfeidau/ding/internal/config"
)

var (
	version = "dev"
	cli     struct {
		Register commands.RegisterCmd `cmd:"" help:"Register a new door code"`
		QR       commands.QRCmd       `cmd:"" name:"qr" help:"Download a code's QR image"`
		Scan     commands.ScanCmd     `cmd:"" help:"Scan a door code as a visitor"`
		Respond  commands.RespondCmd  `cmd:"" help:"Answer a ding"`
		Session  commands.SessionCmd  `cmd:"" help:"Show a session or list an owner's sessions"`
		Watch    commands.WatchCmd    `cmd:"" help:"Watch an owner's dings live"`
		Debug    bool                 `help:"Enable debug mode."`
		Config   kong.ConfigFlag      `help:"Path to a YAML config file."`
		Version  kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("ding"),
		kong.Vars{
			"version": version,
		},
		kong.Configuration(config.YAML, "~/.config/ding/cli.yaml"),
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
