package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattjoyce/askbridge/internal/api"
	"github.com/mattjoyce/askbridge/internal/bridge"
	"github.com/mattjoyce/askbridge/internal/log"
)

// runAsk performs one invocation outside the gateway. The response text is
// printed to stdout and logs go to stderr. The exit code is 0 only when the
// worker produced an answer.
func runAsk(args []string) int {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	message, err := askMessage(fs.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read message: %v\n", err)
		return 1
	}
	if strings.TrimSpace(message) == "" {
		fmt.Println(api.MsgNoMessage)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)

	b, _, err := newBridge(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Worker unavailable: %v\n", err)
		return 1
	}

	// Ctrl-C terminates the worker instead of orphaning it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, execErr := b.Execute(ctx, message)
	fmt.Println(api.ResponseText(res, execErr))

	if execErr != nil || res.Kind != bridge.KindAnswer {
		return 1
	}
	return 0
}

// askMessage joins the positional arguments, or reads stdin when the only
// argument is "-" or there are none.
func askMessage(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}
