package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/muster/internal/api"
	"github.com/mattjoyce/muster/internal/batch"
	"github.com/mattjoyce/muster/internal/bridge"
	"github.com/mattjoyce/muster/internal/config"
	"github.com/mattjoyce/muster/internal/dispatch"
	"github.com/mattjoyce/muster/internal/doctor"
	"github.com/mattjoyce/muster/internal/events"
	"github.com/mattjoyce/muster/internal/lock"
	"github.com/mattjoyce/muster/internal/log"
	"github.com/mattjoyce/muster/internal/record"
	"github.com/mattjoyce/muster/internal/store"
	"github.com/mattjoyce/muster/internal/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultConfigPath = "./config.yaml"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "exec-host":
		return runExecHost(args)

	// Root aliases.
	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runSystemNoun(args []string) int {
	if len(args) < 1 || args[0] == "help" {
		printSystemNounHelp()
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	switch args[0] {
	case "start":
		return runStart(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n\n", args[0])
		printSystemNounHelp()
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || args[0] == "help" {
		printConfigNounHelp()
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n\n", args[0])
		printConfigNounHelp()
		return 1
	}
}

// runStart runs the daemon in the foreground until a shutdown signal.
func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("muster starting", "version", version, "config", *configPath)

	if result := doctor.New(cfg).Validate(); !result.Valid {
		fmt.Fprint(os.Stderr, doctor.FormatHuman(result))
		return 1
	}

	instLock, err := lock.Acquire(cfg.Service.LockPath, cfg.Service.Name)
	if err != nil {
		logger.Error("failed to acquire instance lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer instLock.Release()
	logger.Info("acquired instance lock", "path", instLock.Path(), "owner", instLock.Owner())

	db, err := store.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)
	st := store.New(db)

	hub := events.NewHub(256)
	runner := bridge.NewExecRunner(cfg.Bridge.Binary)

	registry := record.NewRegistry(runner, record.Config{
		SegmentCap:    cfg.Recording.SegmentCap,
		SegmentMargin: cfg.Recording.SegmentMargin,
		StopGrace:     cfg.Recording.StopGrace,
		ArtifactDir:   cfg.Recording.ArtifactDir,
	}, hub, st)

	pool := dispatch.New(cfg.Pool.Size, cfg.Pool.QueueDepth)
	pool.Start()

	executor := batch.NewPooledEngine(pool,
		batch.NewExecutor(runner, cfg.Batch.MaxInFlight, cfg.Batch.CommandTimeout))

	watcher := watch.NewWatcher(hub, registry)
	watcher.Start()
	tracker := watch.NewTracker(runner, hub, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go tracker.Run(ctx)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:      cfg.API.Listen,
			Key:         cfg.API.Key,
			PoolWorkers: pool.Size(),
		}, executor, registry, runner, st, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("muster running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exitCode = 1
	}
	cancel()

	// Active recordings are stopped and their artifacts pulled before the
	// process exits.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	registry.Drain(drainCtx)
	drainCancel()

	watcher.Stop()
	pool.Stop()

	logger.Info("muster stopped")
	return exitCode
}

// runConfigCheck validates the configuration and environment.
func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output validation result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

// runExecHost services one wire-envelope batch on stdin/stdout. This is the
// subprocess side the RemoteExecutor and external harnesses talk to.
func runExecHost(args []string) int {
	fs := flag.NewFlagSet("exec-host", flag.ExitOnError)
	maxInFlight := fs.Int("max-in-flight", 8, "Concurrent command cap")
	timeout := fs.Duration("timeout", 30*time.Second, "Per-command timeout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	log.Setup("error") // stdout carries the envelope; only failures get logged

	exec := batch.NewExecutor(bridge.NewHostRunner(), *maxInFlight, *timeout)
	if err := batch.RunHost(context.Background(), os.Stdin, os.Stdout, exec); err != nil {
		fmt.Fprintf(os.Stderr, "exec-host: %v\n", err)
		return 1
	}
	return 0
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
		fmt.Fprintln(os.Stderr, "Usage: muster version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("muster %s\n", info.Version)
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

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`muster - Fleet command executor and capture supervisor

Usage:
  muster <noun> <action> [flags]

System Commands:
  system start      Start the daemon in foreground

Config Commands:
  config check      Validate configuration and environment

Batch Envelope:
  exec-host         Service one batch request on stdin/stdout

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'muster <noun> help' for resource-specific actions.
`)
}

func printSystemNounHelp() {
	fmt.Print(`muster system - Daemon lifecycle

Actions:
  start [--config path]   Start the daemon in foreground
`)
}

func printConfigNounHelp() {
	fmt.Print(`muster config - Configuration management

Actions:
  check [--config path] [--json]   Validate configuration and environment
`)
}
