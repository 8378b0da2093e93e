package cliapp

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/nijaru/sy/internal/engine"
	"github.com/nijaru/sy/internal/events"
)

// runHook executes a user-supplied shell command through the platform
// shell, exposing sync context as environment variables the way test
// runners and CI wrappers commonly do, rather than inventing a template
// language for a feature spec.md leaves entirely to external tooling.
// summary is nil for the pre-hook (nothing has run yet).
func runHook(ctx context.Context, command string, cfg engine.Config, summary *events.Summary) {
	if command == "" {
		return
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(),
		"SY_SOURCE="+cfg.SourceRoot,
		"SY_DEST="+cfg.DestinationRoot,
	)
	if summary != nil {
		cmd.Env = append(cmd.Env, fmt.Sprintf("SY_FILES_TRANSFERRED=%d", summary.FilesTransferred))
	}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "sy: hook failed:", err)
	}
}
