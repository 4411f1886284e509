package pipeline

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/floegence/previewdev/deverrors"
	"github.com/rs/zerolog"
)

// SkippedBuildMessage is printed when no build command is configured.
const SkippedBuildMessage = "No build command configured. Skipping build."

// Builder produces the script artifact before a dev run.
type Builder interface {
	Build(ctx context.Context) error
}

// CommandBuilder runs an external build command.
type CommandBuilder struct {
	// Command is the program and its arguments. Empty skips the build.
	Command []string
	// Dir is the working directory. Empty uses the current one.
	Dir string

	Stdout io.Writer
	Stderr io.Writer
	Logger *zerolog.Logger
}

// Build runs the command and waits for it. A non-zero exit is a build-stage
// error; canceling ctx kills the command.
func (b *CommandBuilder) Build(ctx context.Context) error {
	stdout := b.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := b.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	if len(b.Command) == 0 || strings.TrimSpace(b.Command[0]) == "" {
		_, _ = fmt.Fprintln(stdout, SkippedBuildMessage)
		return nil
	}
	logger := zerolog.Nop()
	if b.Logger != nil {
		logger = *b.Logger
	}

	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = b.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	logger.Info().Strs("command", b.Command).Str("dir", b.Dir).Msg("running build")
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return deverrors.Wrap(deverrors.StageBuild, deverrors.CodeCanceled, ctxErr)
		}
		return deverrors.Wrap(deverrors.StageBuild, deverrors.CodeCommandFailed, fmt.Errorf("%s: %w", b.Command[0], err))
	}
	return nil
}
