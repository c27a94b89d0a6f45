package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"regcollab/internal/config"
	"regcollab/internal/group"
	"regcollab/internal/identity"
	"regcollab/internal/natsbus"
	"regcollab/internal/pipeline"
	"regcollab/internal/remote"
	"regcollab/internal/roles"
	"regcollab/internal/scheduler"
	"regcollab/internal/search"
	"regcollab/internal/store"
	"regcollab/internal/turn"
	"regcollab/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("regcollab %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: regcollab <command>\n\nCommands:\n  gateway    Start the regcollab gateway service\n  backup     Archive local state (-f <output.tar.zst>)\n  restore    Restore local state from an archive (-f <backup.tar.zst>)\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting regcollab gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	nc, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	// Remote assistants service and the identity store on top of it
	svc := remote.NewClient(cfg.Remote)
	agents, err := identity.NewStore(cfg.Identity, svc, cfg.Remote.Model)
	if err != nil {
		return fmt.Errorf("init identity store: %w", err)
	}

	exec := turn.NewExecutor(svc, cfg.Remote.PollInterval)

	// Seed the team and assemble the group orchestrator
	members, picker, err := seedAgents(ctx, cfg, agents)
	if err != nil {
		return fmt.Errorf("seed agents: %w", err)
	}
	slog.Info("agents ready", "count", len(agents.List()))

	var orch *group.Orchestrator
	if len(members) > 0 {
		var selector group.Selector
		if picker != nil {
			descriptions := make(map[string]string, len(members))
			for _, m := range members {
				descriptions[m.Record.Name] = m.Role
			}
			selector = group.NewModelSelector(exec, picker, descriptions)
		} else {
			selector = &group.RoundRobin{}
		}

		condition := group.AnyCondition{
			group.TokenCondition{Token: cfg.Session.TerminationToken},
			group.MaxMessagesCondition{Max: cfg.Session.MaxMessages},
		}
		markers := group.Markers{Start: cfg.Session.StartMarker, End: cfg.Session.EndMarker}

		orch, err = group.NewOrchestrator(exec, members, selector, condition, markers)
		if err != nil {
			return fmt.Errorf("init orchestrator: %w", err)
		}
		orch.OnTurn(func(sessionID, speaker, content string) {
			if err := db.SaveSessionMessage(&store.SessionMessage{
				SessionID: sessionID,
				Speaker:   speaker,
				Content:   content,
			}); err != nil {
				slog.Error("save session message", "session", sessionID, "error", err)
			}
			if err := nc.PublishEvent(natsbus.TopicSessionEvents(sessionID), "turn", map[string]any{
				"session_id": sessionID,
				"speaker":    speaker,
				"content":    content,
			}); err != nil {
				slog.Error("publish turn event", "session", sessionID, "error", err)
			}
		})
	} else {
		slog.Warn("no agents configured, group sessions disabled")
	}

	// Task pipeline over SME and analyst, with optional search grounding
	driver := pipeline.NewDriver(agents, exec,
		roles.SMEName, roles.SMERole,
		roles.AnalystName, roles.AnalystRole)
	if cfg.Search.Endpoint != "" {
		provider := search.NewProvider(search.NewClient(cfg.Search), cfg.Search.MaxResults)
		driver = driver.WithContext(provider, cfg.Search.ContextPaths)
		if orch != nil {
			orch = orch.WithContext(provider, cfg.Search.ContextPaths)
		}
		slog.Info("search grounding enabled", "index", cfg.Search.Index)
	}

	// Scheduler
	sched := scheduler.New(db, driver, bus, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Web API
	if cfg.Web.Enabled {
		var launcher web.GroupLauncher
		if orch != nil {
			launcher = orch
		}
		srv := web.NewServer(db, bus, agents, exec, launcher, driver, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}

// seedAgents ensures every configured agent exists remotely and returns the
// group roster plus the planner record when one is declared. With no agents
// configured it falls back to the standing team in the roles package.
func seedAgents(ctx context.Context, cfg *config.Config, agents *identity.Store) ([]group.Member, *identity.Record, error) {
	defs := cfg.Agents
	if len(defs) == 0 {
		defs = map[string]config.AgentDefinition{
			roles.SMEName:     {Role: roles.SMERole},
			roles.AnalystName: {Role: roles.AnalystRole},
			roles.TechName:    {Role: roles.TechRole},
			roles.PlannerName: {Planner: true},
		}
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	roster := make(map[string]string, len(defs))
	var members []group.Member
	var plannerName string
	for _, name := range names {
		def := defs[name]
		if def.Planner {
			if plannerName != "" {
				return nil, nil, fmt.Errorf("multiple planners declared: %s and %s", plannerName, name)
			}
			plannerName = name
			continue
		}
		rec, err := agents.Ensure(ctx, name, def.Role, def.Documents)
		if err != nil {
			return nil, nil, fmt.Errorf("ensure agent %s: %w", name, err)
		}
		members = append(members, group.Member{Record: rec, Role: def.Role})
		roster[name] = def.Role
	}

	var picker *identity.Record
	if plannerName != "" {
		def := defs[plannerName]
		role := def.Role
		if role == "" {
			role = roles.PlannerRole(roster, cfg.Session.StartMarker, cfg.Session.EndMarker)
		}
		rec, err := agents.Ensure(ctx, plannerName, role, def.Documents)
		if err != nil {
			return nil, nil, fmt.Errorf("ensure planner %s: %w", plannerName, err)
		}
		picker = rec
	}

	return members, picker, nil
}
