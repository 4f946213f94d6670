// Package hook runs the user's shell commands around a backup.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/hints"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// Phase tells whether a hook runs before or after the pipeline.
type Phase string

const (
	Pre  Phase = "pre"
	Post Phase = "post"
)

// Environment variables handed to every hook command.
const (
	EnvMainFolder  = "PGL_DEDUP_MAIN_FOLDER"
	EnvTodayFolder = "PGL_DEDUP_TODAY_FOLDER"
	EnvTimestamp   = "PGL_DEDUP_TIMESTAMP_UTC"
	EnvStatus      = "PGL_DEDUP_STATUS"
)

// Plan describes the commands of one run.
type Plan struct {
	Enabled bool

	PreCommands  []string
	PostCommands []string

	MainFolder  string
	TodayFolder string

	DryRun bool
	// FailFast aborts the phase on the first failing command.
	FailFast bool
}

type Executor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewExecutor creates an Executor. A nil commandContext selects exec.CommandContext.
func NewExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Executor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Executor{commandContext: commandContext}
}

// Run executes the commands of the given phase in order. status is exported to
// the commands as PGL_DEDUP_STATUS and is typically "ok" or "failed".
func (e *Executor) Run(ctx context.Context, phase Phase, p *Plan, status string, timestampUTC time.Time) error {
	if !p.Enabled {
		return ErrDisabled
	}

	commands := p.PreCommands
	if phase == Post {
		commands = p.PostCommands
	}
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s-backup hook commands", phase), "count", len(commands))

	env := []string{
		EnvMainFolder + "=" + p.MainFolder,
		EnvTodayFolder + "=" + p.TodayFolder,
		EnvTimestamp + "=" + timestampUTC.UTC().Format(time.RFC3339),
		EnvStatus + "=" + status,
	}

	var failed []error
	for _, command := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.DryRun {
			plog.Notice("[DRY RUN] EXECUTE", "command", command)
			continue
		}
		plog.Info("Executing command", "command", command)

		cmd := e.createCommand(ctx, command)
		cmd.Env = append(cmd.Environ(), env...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// A cancelled context kills the process group; report the cancellation instead.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err = fmt.Errorf("command '%s' failed: %w", command, err)
			if p.FailFast {
				return err
			}
			plog.Warn("Hook command failed", "command", command, "error", err)
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}
