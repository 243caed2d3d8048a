package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkos-project/arkimage/internal/cmd"
	"github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/internal/version"
	"github.com/urfave/cli/v2"
)

// Build boot images for Ark OS.
func main() {
	app := cli.NewApp()
	app.Name = "arkimage"
	app.Usage = "build bootable disk images and initramfs archives for Ark OS"
	app.Version = version.GetVersion()
	app.Authors = []*cli.Author{{Name: "Ark OS authors"}}
	app.Copyright = "Ark OS authors"
	app.Flags = cmd.GlobalFlags
	app.Commands = cmd.Commands
	app.Before = func(c *cli.Context) error {
		utils.SetLogger(c.Bool("debug"))
		v := version.Get()
		utils.Log.Debug().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("arkimage")
		return nil
	}

	// Interrupting a run still unmounts and detaches, the steps see a cancelled context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
