package cliapp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/nijaru/sy/internal/engine"
	"github.com/nijaru/sy/internal/events"
)

// runWithProgress always turns the core's event stream on (spec §6 says
// the core produces it unconditionally; --json only decides whether raw
// NDJSON reaches stdout). When the caller asked for --json, stdout gets
// the raw stream verbatim. Otherwise, if stdout is a terminal, the same
// stream drives a schollz/progressbar instead of being printed, and a
// colorized one-line summary follows.
func runWithProgress(ctx context.Context, cfg engine.Config, stdout io.Writer) (events.Summary, int) {
	rawJSON := cfg.JSONEvents
	cfg.JSONEvents = true

	if rawJSON {
		return engine.Sync(ctx, cfg, stdout)
	}

	pr, pw := io.Pipe()
	defer pr.Close()

	interactive := isatty.IsTerminal(os.Stdout.Fd())
	var bar *progressbar.ProgressBar
	if interactive {
		bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("sy"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			var ev events.Event
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				continue
			}
			if bar == nil {
				continue
			}
			switch ev.Type {
			case events.TypeCreate, events.TypeUpdate:
				bar.Add64(ev.Bytes)
			}
		}
	}()

	summary, exitCode := engine.Sync(ctx, cfg, pw)
	pw.Close()
	<-done
	if bar != nil {
		bar.Finish()
	}

	printSummary(stdout, summary)
	return summary, exitCode
}

func printSummary(w io.Writer, s events.Summary) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()

	line := fmt.Sprintf("%d transferred, %d skipped, %d deleted, %s",
		s.FilesTransferred, s.FilesSkipped, s.FilesDeleted, humanBytes(s.BytesTransferred))

	switch {
	case s.ExitCode == engine.ExitSuccess:
		fmt.Fprintln(w, ok(line))
	case s.ExitCode == engine.ExitPartialFailure:
		fmt.Fprintln(w, warn(fmt.Sprintf("%s (%d errors)", line, s.Errors)))
	default:
		fmt.Fprintln(w, fail(line))
	}
}
