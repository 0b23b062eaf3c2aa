package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/askbridge/internal/config"
	"github.com/mattjoyce/askbridge/internal/doctor"
)

const redacted = "********"

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: askbridge config check [--config PATH] [--json] [--strict]")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: askbridge config lock [--config PATH] [--dry-run] [-v]")
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: askbridge config show [--config PATH] [--json] [--reveal]")
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: askbridge config <action>")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		// Load failures (syntax, validation, integrity) are reported in the
		// same shape as doctor findings.
		res := &doctor.Result{Errors: []doctor.Issue{{Category: "load", Message: err.Error()}}}
		return printValidation(res, *jsonOut)
	}

	res := doctor.New(cfg).Validate()
	if *strict {
		res.Strict()
	}
	return printValidation(res, *jsonOut)
}

func printValidation(res *doctor.Result, jsonOut bool) int {
	if jsonOut {
		out, err := doctor.FormatJSON(res)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(res))
	}
	if !res.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Compute hashes without writing the manifest")
	var verbose bool
	fs.BoolVar(&verbose, "verbose", false, "List every hashed file")
	fs.BoolVar(&verbose, "v", false, "List every hashed file (shorthand)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Lock requires a config file: %v\n", err)
			return 1
		}
		path = discovered
	}

	// Loading verifies any existing manifest; a lock after an intentional
	// edit has to skip that.
	cfg, err := config.LoadUnverified(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	report, err := config.GenerateChecksums(cfg, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	if verbose || *dryRun {
		for _, f := range report.Files {
			fmt.Printf("  %s  %s\n", f.Hash[:16], f.Key)
		}
	}
	if *dryRun {
		fmt.Printf("Dry-run: would write %d hash(es) to %s\n", len(report.Files), report.ChecksumPath)
		return 0
	}
	fmt.Printf("Locked %d file(s) in %s\n", len(report.Files), report.ChecksumPath)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	reveal := fs.Bool("reveal", false, "Show worker.env values instead of masking them")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	shown := *cfg
	if !*reveal {
		shown.Worker.Env = maskValues(cfg.Worker.Env)
	}

	if *jsonOut {
		return printJSON(shown)
	}
	out, err := yaml.Marshal(&shown)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

// maskValues returns a copy of env with every value replaced.
func maskValues(env map[string]string) map[string]string {
	if len(env) == 0 {
		return env
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(env))
	for _, k := range keys {
		out[k] = redacted
	}
	return out
}
