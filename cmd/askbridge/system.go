package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/askbridge/internal/api"
	"github.com/mattjoyce/askbridge/internal/bridge"
	"github.com/mattjoyce/askbridge/internal/config"
	"github.com/mattjoyce/askbridge/internal/events"
	"github.com/mattjoyce/askbridge/internal/ledger"
	"github.com/mattjoyce/askbridge/internal/lock"
	"github.com/mattjoyce/askbridge/internal/log"
	"github.com/mattjoyce/askbridge/internal/storage"
	"github.com/mattjoyce/askbridge/internal/tui/watch"
)

const (
	pruneInterval = time.Hour
	// writeTimeoutSlack covers request decoding and response encoding on top
	// of the worker's own deadline.
	writeTimeoutSlack = 30 * time.Second
	lockFileName      = "askbridge.lock"
)

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: askbridge system start [--config PATH]")
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: askbridge system status [--config PATH] [--json]")
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: askbridge system watch [--config PATH] [--url URL]")
			fmt.Println("Live view of invocations from a running gateway's event stream.")
			return 0
		}
		return runSystemWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func printSystemNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: askbridge system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

// lockPath places the instance lock beside the ledger it protects.
func lockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Ledger.Path), lockFileName)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("askbridge starting", "version", version, "config", cfg.SourcePath)

	b, exe, err := newBridge(cfg)
	if err != nil {
		logger.Error("worker unavailable", "error", err)
		return 1
	}
	logger.Info("worker resolved",
		"executable", exe,
		"args", cfg.Worker.Args,
		"dir", cfg.Worker.Dir,
		"timeout", b.Timeout(),
		"termination_grace", b.TerminationGrace(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var recorder api.Recorder
	if cfg.Ledger.Path != "" {
		pidLock, err := lock.Acquire(lockPath(cfg))
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may own this ledger)", "path", lockPath(cfg), "error", err)
			return 1
		}
		defer pidLock.Release()

		db, err := storage.OpenSQLite(ctx, cfg.Ledger.Path)
		if err != nil {
			logger.Error("failed to open ledger", "path", cfg.Ledger.Path, "error", err)
			return 1
		}
		defer db.Close()

		l := ledger.New(db)
		go pruneLoop(ctx, l, cfg.Ledger.Retention)
		recorder = l
		logger.Info("ledger opened", "path", cfg.Ledger.Path, "retention", cfg.Ledger.Retention)
	}

	server := api.New(api.Config{
		Listen:         cfg.API.Listen,
		MaxBodyBytes:   cfg.API.MaxBodyBytes,
		AllowedOrigins: cfg.API.CORS.AllowedOrigins,
		WriteTimeout:   gatewayWriteTimeout(b),
	}, b, recorder, events.NewHub(256), log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	case err := <-errCh:
		logger.Error("API server stopped", "error", err)
		return 1
	}

	logger.Info("askbridge stopped")
	return 0
}

// gatewayWriteTimeout lets a response outlast the worker deadline plus its
// termination grace.
func gatewayWriteTimeout(b *bridge.Bridge) time.Duration {
	return b.Timeout() + b.TerminationGrace() + writeTimeoutSlack
}

// pruneLoop deletes ledger entries older than retention at startup and
// then every pruneInterval.
func pruneLoop(ctx context.Context, l *ledger.Ledger, retention time.Duration) {
	if retention <= 0 {
		return
	}
	logger := log.WithComponent("ledger")
	prune := func() {
		n, err := l.Prune(ctx, retention)
		if err != nil {
			logger.Warn("ledger prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("ledger pruned", "deleted", n)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

type statusCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	ActivePID int    `json:"active_pid,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Running bool          `json:"running"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	report := collectStatus(*configPath)

	if *jsonOut {
		printJSON(report)
	} else {
		for _, c := range report.Checks {
			state := "OK"
			if !c.OK {
				state = "FAIL"
			}
			if c.Message != "" {
				fmt.Printf("%s: %s (%s)\n", c.Name, state, c.Message)
			} else {
				fmt.Printf("%s: %s\n", c.Name, state)
			}
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func collectStatus(configPath string) statusReport {
	report := statusReport{}
	add := func(c statusCheck) { report.Checks = append(report.Checks, c) }

	cfg, _, err := config.LoadOrDefault(configPath)
	if err != nil {
		add(statusCheck{Name: "config_load", Message: err.Error()})
		add(statusCheck{Name: "worker", Message: "skipped: config not loaded"})
		add(statusCheck{Name: "ledger", Message: "skipped: config not loaded"})
		add(statusCheck{Name: "gateway", Message: "skipped: config not loaded"})
		return report
	}
	source := cfg.SourcePath
	if source == "" {
		source = "built-in defaults"
	}
	add(statusCheck{Name: "config_load", OK: true, Message: source})

	if exe, err := config.ResolveWorker(cfg.Worker); err != nil {
		add(statusCheck{Name: "worker", Message: err.Error()})
	} else {
		add(statusCheck{Name: "worker", OK: true, Message: exe})
	}

	switch {
	case cfg.Ledger.Path == "":
		add(statusCheck{Name: "ledger", OK: true, Message: "disabled"})
	default:
		add(ledgerCheck(cfg.Ledger.Path))
	}

	gw := gatewayCheck(cfg)
	report.Running = gw.OK
	add(gw)

	report.Healthy = true
	for _, c := range report.Checks {
		if c.Name != "gateway" && !c.OK {
			report.Healthy = false
		}
	}
	return report
}

// ledgerCheck inspects the ledger without creating it. A ledger that does not
// exist yet is healthy; the gateway creates it on start.
func ledgerCheck(path string) statusCheck {
	c := statusCheck{Name: "ledger"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := storage.OpenSQLiteReadOnly(ctx, path)
	if storage.IsMissing(err) {
		c.OK = true
		c.Message = path + " (not created yet)"
		return c
	}
	if err != nil {
		c.Message = err.Error()
		return c
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations;`).Scan(&n); err != nil {
		c.Message = fmt.Sprintf("read %s: %v", path, err)
		return c
	}
	c.OK = true
	c.Message = fmt.Sprintf("%s (%d invocations)", path, n)
	return c
}

// gatewayCheck probes the health endpoint of a running instance. A stopped
// gateway is reported but does not make the installation unhealthy.
func gatewayCheck(cfg *config.Config) statusCheck {
	c := statusCheck{Name: "gateway"}
	if cfg.Ledger.Path != "" {
		if pid, err := lock.ReadPID(lockPath(cfg)); err == nil {
			c.ActivePID = pid
		}
	}

	base, err := gatewayURL(cfg)
	if err != nil {
		c.Message = err.Error()
		return c
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(base + "/health")
	if err != nil {
		c.Message = "not running"
		return c
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.Message = fmt.Sprintf("health returned %s", resp.Status)
		return c
	}
	c.OK = true
	c.Message = "listening on " + cfg.API.Listen
	return c
}

// gatewayURL is the loopback base URL of the gateway described by cfg.
func gatewayURL(cfg *config.Config) (string, error) {
	host, port, err := net.SplitHostPort(cfg.API.Listen)
	if err != nil {
		return "", err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

func runSystemWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	url := fs.String("url", "", "Gateway base URL (default: derived from api.listen)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	base := *url
	if base == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		if base, err = gatewayURL(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid api.listen: %v\n", err)
			return 1
		}
	}

	p := tea.NewProgram(watch.New(base), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
