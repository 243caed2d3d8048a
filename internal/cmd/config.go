package cmd

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/arkos-project/arkimage/internal/constants"
	"github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/pkg/schema"
	"github.com/urfave/cli/v2"
)

// env file keys, they match the EnvVars of the global flags
var envFileKeys = map[string]string{
	"backend":       "ARKIMAGE_BACKEND",
	"workdir":       "ARKIMAGE_WORKDIR",
	"mkfs":          "ARKIMAGE_MKFS",
	"mkfs-fallback": "ARKIMAGE_MKFS_FALLBACK",
	"tool-timeout":  "ARKIMAGE_TOOL_TIMEOUT",
}

// LoadConfig resolves the configuration. Flags and environment win over the env file, which wins over defaults.
func LoadConfig(c *cli.Context) (schema.Config, error) {
	fileValues := map[string]string{}
	if path := c.String("config"); path != "" {
		values, err := utils.ReadEnv(path)
		switch {
		case err == nil:
			fileValues = values
		case errors.Is(err, os.ErrNotExist) && !c.IsSet("config"):
			utils.Log.Debug().Str("config", path).Msg("No config file")
		default:
			return schema.Config{}, err
		}
	}

	get := func(flag string) string {
		if !c.IsSet(flag) {
			if v, ok := fileValues[envFileKeys[flag]]; ok {
				return v
			}
		}
		return c.String(flag)
	}

	timeout := c.Duration("tool-timeout")
	if v := get("tool-timeout"); !c.IsSet("tool-timeout") && v != "" {
		parsed, err := parseDuration(v)
		if err != nil {
			return schema.Config{}, err
		}
		timeout = parsed
	}

	cfg := schema.Config{
		Backend:        get("backend"),
		WorkDir:        get("workdir"),
		FormatTool:     get("mkfs"),
		FormatFallback: get("mkfs-fallback"),
		ToolTimeout:    timeout,
		StrictFormat:   c.Bool("strict-format"),
		RequireInit:    c.Bool("require-init"),
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = constants.DefaultToolTimeout
	}
	return cfg, nil
}

// parseDuration accepts Go durations and plain seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// GlobalFlags are shared by every command.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "env file with ARKIMAGE_* settings",
		Value:   constants.DefaultConfigFile,
		EnvVars: []string{"ARKIMAGE_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "backend",
		Usage:   "how to reach the image: host (losetup, mkfs, mount) or diskfs (in-process, no root needed)",
		Value:   constants.BackendHost,
		EnvVars: []string{"ARKIMAGE_BACKEND"},
	},
	&cli.StringFlag{
		Name:    "workdir",
		Usage:   "where temporary mount points are created",
		EnvVars: []string{"ARKIMAGE_WORKDIR"},
	},
	&cli.StringFlag{
		Name:    "mkfs",
		Value:   constants.PrimaryFormatTool,
		EnvVars: []string{"ARKIMAGE_MKFS"},
	},
	&cli.StringFlag{
		Name:    "mkfs-fallback",
		Value:   constants.AlternateFormatTool,
		EnvVars: []string{"ARKIMAGE_MKFS_FALLBACK"},
	},
	&cli.DurationFlag{
		Name:    "tool-timeout",
		Value:   constants.DefaultToolTimeout,
		EnvVars: []string{"ARKIMAGE_TOOL_TIMEOUT"},
	},
	&cli.BoolFlag{
		Name:    "debug",
		EnvVars: []string{"ARKIMAGE_DEBUG"},
	},
}
