// Command orchd runs the ticket orchestrator against a plan file,
// spawning agents and driving tickets from Todo to Done until stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petestewart/orch-sub001/agent"
	"github.com/petestewart/orch-sub001/config"
	"github.com/petestewart/orch-sub001/eventbus"
	"github.com/petestewart/orch-sub001/orchestrator"
	"github.com/petestewart/orch-sub001/plan"
	"github.com/petestewart/orch-sub001/validate"
	"github.com/petestewart/orch-sub001/worktree"
)

func main() {
	var (
		configPath = flag.String("config", "orch.config.json", "Path to the JSON config file")
		rcPath     = flag.String("rc", ".orchrc", "Path to the local override file")
		repoRoot   = flag.String("repo", "", "Repository root (overrides config)")
		planPath   = flag.String("plan", "", "Plan file path (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, *rcPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchd: config error: %v\n", err)
		os.Exit(1)
	}
	if *repoRoot != "" {
		cfg.RepoRoot = *repoRoot
	}
	if *planPath != "" {
		cfg.PlanPath = *planPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	bus := eventbus.New()
	bus.Subscribe(eventbus.TagLogEntry, logToSlog(logger))

	planStore := plan.NewStore(cfg.PlanPath, bus)

	agentMgr := agent.New(agent.Config{
		MaxAgents:              cfg.MaxAgents,
		StopGrace:              5 * time.Second,
		CostRates:              agent.DefaultCostRates,
		MaxRetries:             cfg.MaxRetries,
		StrictCompletionMarker: cfg.StrictCompletionMarker,
		CostLimitPerTicket:     cfg.CostLimitPerTicket,
		CostLimitPerSession:    cfg.CostLimitPerSession,
		CostLimitAction:        cfg.CostLimitAction,
	}, bus)

	worktreeMgr := worktree.New(worktree.Config{
		RepoRoot:            cfg.RepoRoot,
		MainBranch:          cfg.MainBranch,
		MaxWorktreesPerEpic: cfg.MaxWorktreesPerEpic,
		AutoCreateWorktrees: cfg.AutoCreateWorktrees,
	}, bus)

	validator := validate.NewRunner(cfg.ValidationCommandTimeout, 0)

	orch := orchestrator.New(cfg, planStore, agentMgr, worktreeMgr, validator, bus)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\norchd: shutting down...")
		orch.Stop()
		cancel()
	}()

	fmt.Printf("orchd: starting (repo=%s plan=%s maxAgents=%d)\n", cfg.RepoRoot, cfg.PlanPath, cfg.MaxAgents)
	fmt.Println("Press Ctrl+C to stop")

	if err := orch.Start(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "orchd: %v\n", err)
		os.Exit(1)
	}

	printShutdownSummary(planStore)
}

// printShutdownSummary emits the per-status ticket tally named by the
// Shutdown component in §2 ("stop all agents; emit summary").
func printShutdownSummary(planStore *plan.Store) {
	counts := make(map[plan.Status]int)
	for _, t := range planStore.Snapshot().Tickets {
		counts[t.Status]++
	}
	fmt.Println("orchd: shutdown summary")
	for _, status := range []plan.Status{
		plan.StatusTodo, plan.StatusInProgress, plan.StatusReview,
		plan.StatusQA, plan.StatusDone, plan.StatusFailed,
	} {
		fmt.Printf("  %-10s %d\n", status, counts[status])
	}
}

// logToSlog bridges bus-native log:entry events into the slog handler,
// the same sink orchestrator.go threads through every component rather
// than letting each one own its own writer.
func logToSlog(logger *slog.Logger) eventbus.Handler {
	return func(ev eventbus.OrchEvent) {
		e, ok := ev.(eventbus.LogEntry)
		if !ok {
			return
		}
		args := make([]any, 0, len(e.Fields)*2)
		for k, v := range e.Fields {
			args = append(args, k, v)
		}
		switch e.Level {
		case eventbus.LevelDebug:
			logger.Debug(e.Message, args...)
		case eventbus.LevelWarn:
			logger.Warn(e.Message, args...)
		case eventbus.LevelError:
			logger.Error(e.Message, args...)
		default:
			logger.Info(e.Message, args...)
		}
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
