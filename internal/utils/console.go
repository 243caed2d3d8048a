package utils

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Runner runs external tools. Tests swap it for a recording fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Console runs tools on the host with a bounded wait per invocation.
type Console struct {
	Timeout time.Duration
}

func (c Console) Run(ctx context.Context, name string, args ...string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	Log.Debug().Str("cmd", name).Strs("args", args).Msg("Running")
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return string(out), fmt.Errorf("failed to run %s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}

// RunAll runs every command in order and collects the failures, it does not stop at the first one.
func RunAll(ctx context.Context, r Runner, cmds [][]string) error {
	var errs error
	for _, c := range cmds {
		if len(c) == 0 {
			continue
		}
		out, err := r.Run(ctx, c[0], c[1:]...)
		if err != nil {
			Log.Debug().Str("output", out).Msg("Run all")
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
