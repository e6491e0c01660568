// handlers.go contains the command implementations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/haasonsaas/mcptap/internal/bus"
	"github.com/haasonsaas/mcptap/internal/chaos"
	"github.com/haasonsaas/mcptap/internal/config"
	"github.com/haasonsaas/mcptap/internal/diff"
	"github.com/haasonsaas/mcptap/internal/journal"
	"github.com/haasonsaas/mcptap/internal/observability"
	"github.com/haasonsaas/mcptap/internal/proxy"
	"github.com/haasonsaas/mcptap/internal/server"
	"github.com/haasonsaas/mcptap/internal/stress"
)

func openStore(path string) (*journal.Store, error) {
	store, err := journal.Open(path, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return store, nil
}

func runProxy(ctx context.Context, target, agentID, chaosPath, dbPath, tracePath string) error {
	var chaosCfg *chaos.Config
	if chaosPath != "" {
		var err error
		chaosCfg, err = chaos.LoadConfig(chaosPath)
		if err != nil {
			return err
		}
	}

	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := observability.NewMetrics()
	p := proxy.New(store, metrics, slog.Default())

	run, err := p.Run(ctx, proxy.Options{
		Target:  target,
		AgentID: agentID,
		Chaos:   chaosCfg,
	})
	if err != nil {
		return err
	}

	if tracePath != "" {
		if err := store.ExportTraceFile(ctx, tracePath, run.ID); err != nil {
			return err
		}
		slog.Info("trace exported", "run_id", run.ID, "path", tracePath)
	}
	return nil
}

func runStress(ctx context.Context, target, agentID, dbPath string, timeoutMs int) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := observability.NewMetrics()
	runner := stress.NewRunner(store, metrics, slog.Default())
	if timeoutMs > 0 {
		runner.ProbeTimeout = time.Duration(timeoutMs) * time.Millisecond
	}

	run, err := runner.Sweep(ctx, target, agentID)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: score %d/100 (%d passed, %d graceful, %d crashed)\n",
		run.ID, run.Counters.StressScore,
		run.Counters.StressPassed, run.Counters.StressGraceful, run.Counters.StressCrashed)
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	})))

	store, err := openStore(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := bus.New(cfg.Bus.QueueSize, slog.Default())
	store.SetObserver(hub)

	metrics := observability.NewMetrics()
	runner := stress.NewRunner(store, metrics, slog.Default())

	srv := server.New(cfg, store, hub, runner, metrics, slog.Default())
	if err := srv.Start(); err != nil {
		return err
	}

	// The root command's context is canceled on SIGINT/SIGTERM.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadRunEvents resolves a diff argument: a trace file path when the
// file exists, otherwise a run id in the journal.
func loadRunEvents(ctx context.Context, store *journal.Store, arg string) ([]*journal.Event, error) {
	if _, err := os.Stat(arg); err == nil {
		trace, err := journal.ReadTraceFile(arg)
		if err != nil {
			return nil, err
		}
		return trace.Events, nil
	}
	if store == nil {
		return nil, fmt.Errorf("%s: not a trace file and no journal available", arg)
	}
	return store.GetEvents(ctx, arg, 0, 0)
}

func runDiff(ctx context.Context, dbPath, baselineArg, currentArg string) error {
	var store *journal.Store
	if _, err := os.Stat(dbPath); err == nil {
		store, err = openStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	baseline, err := loadRunEvents(ctx, store, baselineArg)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	current, err := loadRunEvents(ctx, store, currentArg)
	if err != nil {
		return fmt.Errorf("current: %w", err)
	}

	report := diff.CompareEvents(baseline, current)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runProjectCreate(ctx context.Context, dbPath, name, description string) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	project, err := store.CreateProject(ctx, name, description)
	if err != nil {
		return err
	}
	return printJSON(project)
}

func runProjectList(ctx context.Context, dbPath string) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	projects, err := store.ListProjects(ctx)
	if err != nil {
		return err
	}
	return printJSON(projects)
}

func runProjectDelete(ctx context.Context, dbPath, id string) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.DeleteProject(ctx, id)
}

func runAgentCreate(ctx context.Context, dbPath, projectID, name, target, chaosPath string) error {
	var chaosRaw json.RawMessage
	if chaosPath != "" {
		cfg, err := chaos.LoadConfig(chaosPath)
		if err != nil {
			return err
		}
		chaosRaw = chaos.Snapshot(cfg)
	}

	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	agent, err := store.CreateAgent(ctx, projectID, name, target, chaosRaw)
	if err != nil {
		return err
	}
	return printJSON(agent)
}

func runAgentList(ctx context.Context, dbPath, projectID string) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	agents, err := store.ListAgents(ctx, projectID)
	if err != nil {
		return err
	}
	return printJSON(agents)
}

func runAgentDelete(ctx context.Context, dbPath, id string) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.DeleteAgent(ctx, id)
}

func runRunList(ctx context.Context, dbPath, agentID, kind, status string, limit int) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, journal.RunFilter{
		AgentID: agentID,
		Kind:    journal.RunKind(kind),
		Status:  journal.RunStatus(status),
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func runRunShow(ctx context.Context, dbPath, id string) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	events, err := store.GetEvents(ctx, id, 0, 0)
	if err != nil {
		return err
	}
	return printJSON(&journal.Trace{Run: run, Events: events})
}

func runRunExport(ctx context.Context, dbPath, id, out string) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if out == "" {
		out = id + ".json"
	}
	if err := store.ExportTraceFile(ctx, out, id); err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runRunDelete(ctx context.Context, dbPath, id string) error {
	store, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.DeleteRun(ctx, id)
}
