package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/askbridge/internal/bridge"
	"github.com/mattjoyce/askbridge/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "invocation":
		return runInvocationNoun(args)
	case "ask":
		if hasHelpFlag(args) {
			printAskHelp()
			return 0
		}
		return runAsk(args)

	// Root aliases.
	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: askbridge version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("askbridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

// loadConfig loads the explicit or discovered config, falling back to
// defaults rooted at the working directory.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, usedDefaults, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if usedDefaults {
		fmt.Fprintln(os.Stderr, "No config file found; using built-in defaults")
	}
	return cfg, nil
}

// newBridge resolves the worker executable and builds the bridge for cfg.
func newBridge(cfg *config.Config) (*bridge.Bridge, string, error) {
	exe, err := config.ResolveWorker(cfg.Worker)
	if err != nil {
		return nil, "", err
	}
	opts, err := bridge.OptionsFromConfig(exe, cfg.Worker)
	if err != nil {
		return nil, "", err
	}
	return bridge.New(opts), exe, nil
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `askbridge - HTTP gateway that answers each request with a fresh worker process

Usage:
  askbridge <noun> <action> [flags]

System Commands:
  system start        Start the gateway in the foreground
  system status       Show config, worker, ledger and gateway health
  system watch        Live view of invocations on a running gateway

Config Commands:
  config check        Validate configuration against this host
  config lock         Pin config and worker files with BLAKE3 hashes
  config show         Print the effective configuration

Invocation Commands:
  invocation list     Show recent invocations from the ledger
  invocation inspect  Show one invocation by id

Other:
  ask <message...>    Run the worker once and print its response
  version             Show version information
  help                Show this help message

Every command accepts --config <path>. Without it the config is discovered
from $ASKBRIDGE_CONFIG, ~/.config/askbridge, /etc/askbridge, or ./config.yaml.
`)
}

func printAskHelp() {
	fmt.Println("Usage: askbridge ask [--config PATH] <message...>")
	fmt.Println("Runs the worker once with the joined message (or stdin when the message is '-')")
	fmt.Println("and prints the same response text the gateway would return.")
}
