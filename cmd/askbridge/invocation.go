package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/askbridge/internal/ledger"
	"github.com/mattjoyce/askbridge/internal/storage"
)

func runInvocationNoun(args []string) int {
	if len(args) < 1 {
		printInvocationNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printInvocationNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: askbridge invocation list [--config PATH] [--limit N] [--json]")
			return 0
		}
		return runInvocationList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: askbridge invocation inspect <id> [--config PATH] [--json]")
			return 0
		}
		return runInvocationInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown invocation action: %s\n", action)
		return 1
	}
}

func printInvocationNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: askbridge invocation <action>")
	fmt.Fprintln(w, "Actions: list, inspect")
}

// openLedger opens the configured ledger for reading.
func openLedger(configPath string) (*ledger.Ledger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Ledger.Path == "" {
		return nil, nil, errors.New("ledger is disabled (ledger.path is empty)")
	}
	db, err := storage.OpenSQLite(context.Background(), cfg.Ledger.Path)
	if err != nil {
		return nil, nil, err
	}
	return ledger.New(db), func() { _ = db.Close() }, nil
}

func runInvocationList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of invocations to show")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	l, closeFn, err := openLedger(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ledger error: %v\n", err)
		return 1
	}
	defer closeFn()

	entries, err := l.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ledger error: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []ledger.Entry{}
		}
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No invocations recorded.")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMPLETED\tSTATUS\tKIND\tEXIT\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.CompletedAt.Local().Format(time.DateTime),
			e.Status,
			dash(e.Kind),
			exitText(e.ExitCode, e.Signal),
			e.Duration,
		)
	}
	_ = tw.Flush()
	return 0
}

func runInvocationInspect(args []string) int {
	// Allow the id before or after flags.
	var id string
	var rest []string
	for _, a := range args {
		if id == "" && len(a) > 0 && a[0] != '-' && (len(rest) == 0 || rest[len(rest)-1] != "--config") {
			id = a
			continue
		}
		rest = append(rest, a)
	}

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: askbridge invocation inspect <id> [--config PATH] [--json]")
		return 1
	}

	l, closeFn, err := openLedger(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ledger error: %v\n", err)
		return 1
	}
	defer closeFn()

	e, err := l.Get(context.Background(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Invocation %s not found\n", id)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ledger error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(e)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	row := func(k, v string) { fmt.Fprintf(tw, "%s:\t%s\n", k, v) }
	row("id", e.ID)
	row("request_id", dash(e.RequestID))
	row("status", e.Status)
	row("kind", dash(e.Kind))
	row("exit_code", exitText(e.ExitCode, ""))
	row("signal", dash(e.Signal))
	row("pid", strconv.Itoa(e.PID))
	row("started_at", e.StartedAt.Format(time.RFC3339Nano))
	row("completed_at", e.CompletedAt.Format(time.RFC3339Nano))
	row("duration", e.Duration.String())
	row("message_bytes", strconv.Itoa(e.MessageBytes))
	row("stdout_bytes", strconv.FormatInt(e.StdoutBytes, 10))
	row("stderr_bytes", strconv.FormatInt(e.StderrBytes, 10))
	row("truncated", strconv.FormatBool(e.Truncated))
	row("error", dash(e.Error))
	_ = tw.Flush()
	return 0
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// exitText shows the signal for workers killed by one, else the exit code.
func exitText(code *int, signal string) string {
	if signal != "" {
		return signal
	}
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}
