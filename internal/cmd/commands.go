package cmd

import (
	"fmt"
	"strconv"

	"github.com/arkos-project/arkimage/internal/constants"
	"github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/internal/version"
	"github.com/arkos-project/arkimage/pkg/capability"
	"github.com/arkos-project/arkimage/pkg/dag"
	"github.com/arkos-project/arkimage/pkg/grub"
	"github.com/arkos-project/arkimage/pkg/schema"
	"github.com/arkos-project/arkimage/pkg/state"
	"github.com/spectrocloud-labs/herd"
	"github.com/urfave/cli/v2"
)

var dryRunFlag = &cli.BoolFlag{
	Name:    "dry-run",
	Usage:   "print the steps and exit",
	EnvVars: []string{"ARKIMAGE_DRY_RUN"},
}

var Commands = []*cli.Command{
	{
		Name:      "disk",
		Usage:     "build a partitioned FAT32 boot image with kernel, init and grub.cfg",
		ArgsUsage: "<kernel> <init> <output.img> [size_mb]",
		Description: `
Allocates the image, writes a msdos partition table, attaches it, formats the first
partition FAT32 and copies the kernel to /bzImage and init to /bin/init.bin next to
/boot/grub/grub.cfg. Defaults to 256 MiB.
`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "require-init", Usage: "fail if the init binary is missing", EnvVars: []string{"ARKIMAGE_REQUIRE_INIT"}},
			&cli.BoolFlag{Name: "strict-format", Usage: "fail if no formatting tool works", EnvVars: []string{"ARKIMAGE_STRICT_FORMAT"}},
			&cli.StringFlag{Name: "manifest", Usage: "YAML file listing extra files, kernel and init always come from the arguments"},
			&cli.StringSliceFlag{Name: "extra", Usage: "extra file as host[:path], repeatable"},
			dryRunFlag,
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				_ = cli.ShowSubcommandHelp(c)
				return fmt.Errorf("disk needs a kernel, an init binary and an output path")
			}
			size, err := sizeArg(c, 3, constants.DefaultDiskSizeMB)
			if err != nil {
				return err
			}
			artifacts, err := artifactsFromFlags(c)
			if err != nil {
				return err
			}
			artifacts.Kernel = fromArgs(artifacts.Kernel, c.Args().Get(0), "kernel")
			artifacts.Init = fromArgs(artifacts.Init, c.Args().Get(1), "init binary")

			s, err := newState(c, artifacts, c.Args().Get(2), size)
			if err != nil {
				return err
			}
			if err = run(c, s, dag.RegisterDiskImage); err != nil {
				return err
			}
			if !c.Bool("dry-run") {
				fmt.Print(s.Summary())
			}
			return nil
		},
	},
	{
		Name:      "flat",
		Usage:     "build an image with just a partition table, nothing mounted",
		ArgsUsage: "<kernel> <output.img> [size_mb]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "efi", Usage: "build a UEFI image"},
			dryRunFlag,
		},
		Action: func(c *cli.Context) error {
			if c.Bool("efi") {
				return constants.ErrNotImplemented
			}
			if c.NArg() < 2 {
				_ = cli.ShowSubcommandHelp(c)
				return fmt.Errorf("flat needs a kernel and an output path")
			}
			size, err := sizeArg(c, 2, constants.DefaultFlatSizeMB)
			if err != nil {
				return err
			}
			s, err := newState(c, schema.ArtifactSpec{Kernel: c.Args().Get(0)}, c.Args().Get(1), size)
			if err != nil {
				return err
			}
			if err = run(c, s, dag.RegisterFlatImage); err != nil {
				return err
			}
			if c.Bool("dry-run") {
				return nil
			}
			if img := s.Report.Image; img != nil && img.Table == schema.TableNone {
				utils.Log.Warn().Str("image", img.Path).Msg("No partition table, created a simple flat image instead")
			}
			fmt.Print(s.Summary())
			return nil
		},
	},
	{
		Name:      "initramfs",
		Usage:     "package init and extra files into a zip initramfs",
		ArgsUsage: "<init> [output.zip] [host[:path] ...]",
		Description: `
The archive always starts with a member named init. Extra files default to their
base name inside the archive. Pass the result to qemu with -initrd.
`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "manifest", Usage: "YAML file listing extra files"},
			dryRunFlag,
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				_ = cli.ShowSubcommandHelp(c)
				return fmt.Errorf("initramfs needs an init binary")
			}
			out := constants.DefaultInitramfs
			if c.NArg() > 1 {
				out = c.Args().Get(1)
			}
			artifacts, err := artifactsFromFlags(c)
			if err != nil {
				return err
			}
			artifacts.Init = fromArgs(artifacts.Init, c.Args().Get(0), "init binary")
			for _, extra := range c.Args().Slice()[min(2, c.NArg()):] {
				src, dst := utils.ParseMapping(extra)
				artifacts.Extras = append(artifacts.Extras, schema.Mapping{Source: src, Target: dst})
			}

			s, err := newState(c, artifacts, out, 0)
			if err != nil {
				return err
			}
			if err = run(c, s, dag.RegisterInitramfs); err != nil {
				return err
			}
			if s.Archive != nil {
				fmt.Print(s.Archive.Listing())
				fmt.Printf("\nTo run:\n  qemu-system-i386 -kernel bzImage -initrd %s\n", out)
			}
			return nil
		},
	},
	{
		Name:      "grub-config",
		Usage:     "write grub.cfg into a directory",
		ArgsUsage: "<output_dir>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				_ = cli.ShowSubcommandHelp(c)
				return fmt.Errorf("grub-config needs an output directory")
			}
			p, err := grub.WriteTo(c.Args().Get(0), grub.DefaultConfig())
			if err != nil {
				return err
			}
			utils.Log.Info().Str("where", p).Msg("GRUB config written")
			return nil
		},
	},
	{
		Name:  "version",
		Usage: "version",
		Action: func(c *cli.Context) error {
			v := version.Get()
			utils.Log.Info().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("arkimage")
			return nil
		},
	},
}

func sizeArg(c *cli.Context, idx int, def int64) (int64, error) {
	if c.NArg() <= idx {
		return def, nil
	}
	size, err := strconv.ParseInt(c.Args().Get(idx), 10, 64)
	if err != nil || size <= 0 || size > constants.MaxSizeMB {
		return 0, fmt.Errorf("%w: %q", constants.ErrInvalidSize, c.Args().Get(idx))
	}
	return size, nil
}

func artifactsFromFlags(c *cli.Context) (schema.ArtifactSpec, error) {
	var artifacts schema.ArtifactSpec
	if m := c.String("manifest"); m != "" {
		spec, err := schema.LoadArtifactSpec(m)
		if err != nil {
			return artifacts, err
		}
		artifacts = *spec
	}
	for _, extra := range c.StringSlice("extra") {
		src, dst := utils.ParseMapping(extra)
		artifacts.Extras = append(artifacts.Extras, schema.Mapping{Source: src, Target: dst})
	}
	return artifacts, nil
}

// fromArgs returns the positional value, warning when it replaces a different one from the manifest.
func fromArgs(manifest, arg, what string) string {
	if manifest != "" && manifest != arg {
		utils.Log.Warn().Str("manifest", manifest).Str("argument", arg).Msg("Using the " + what + " given as argument, the manifest one is ignored")
	}
	return arg
}

func newState(c *cli.Context, artifacts schema.ArtifactSpec, out string, size int64) (*state.State, error) {
	cfg, err := LoadConfig(c)
	if err != nil {
		return nil, err
	}
	cp, err := capability.New(cfg.Backend, utils.Console{Timeout: cfg.ToolTimeout})
	if err != nil {
		return nil, err
	}
	return state.New(cp, cfg, artifacts, out, size), nil
}

// run builds the graph, prints it and runs it unless this is a dry run.
func run(c *cli.Context, s *state.State, register func(*state.State, *herd.Graph) error) error {
	g := herd.DAG(herd.EnableInit)
	if err := register(s, g); err != nil {
		return err
	}

	if c.Bool("dry-run") {
		fmt.Print(s.WriteDAG(g))
		return nil
	}
	utils.Log.Debug().Str("run", s.Report.RunID).Msg("Steps:\n" + s.WriteDAG(g))

	runErr := g.Run(c.Context)
	utils.Log.Debug().Str("run", s.Report.RunID).Msg("Result:\n" + s.WriteDAG(g))
	if err := s.Report.Err(); err != nil {
		return err
	}
	return runErr
}
