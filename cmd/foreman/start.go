package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewline/foreman/pkg/api"
	"github.com/crewline/foreman/pkg/blocker"
	"github.com/crewline/foreman/pkg/config"
	"github.com/crewline/foreman/pkg/lead"
	"github.com/crewline/foreman/pkg/log"
	"github.com/crewline/foreman/pkg/manifest"
	"github.com/crewline/foreman/pkg/orchestrator"
	"github.com/crewline/foreman/pkg/state"
	"github.com/crewline/foreman/pkg/status"
	"github.com/crewline/foreman/pkg/subagent"
	"github.com/crewline/foreman/pkg/ticket"
)

var (
	startManifest string
	startConfig   string
)

func init() {
	startCmd.Flags().StringVarP(&startManifest, "manifest", "m", "", "Task manifest file (required)")
	startCmd.Flags().StringVarP(&startConfig, "config", "c", "", "Configuration file")
	_ = startCmd.MarkFlagRequired("manifest")
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Execute a task manifest",
	Long: `Start executes every task in the manifest, one Team Lead per
service. When a checkpoint for the manifest's project already exists,
the run resumes: finished tasks are skipped, interrupted tasks are
requeued, and unanswered blockers are reconciled against their tickets.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(startConfig)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("foreman")

	m, err := manifest.Load(startManifest)
	if err != nil {
		return err
	}
	fmt.Printf("Project %s: %d services, %d tasks\n", m.ProjectID, len(m.Services), m.TaskCount())

	// Ticket system is optional; without it blockers resolve via the API
	var ticketer ticket.Ticketer
	if cfg.Linear.APIKey != "" {
		ticketer = ticket.NewLinearClient(cfg.Linear.APIKey, cfg.Linear.APIURL)
		fmt.Println("✓ Linear ticket client configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load or create the execution state
	var es *state.ExecutionState
	services := m.Services
	if state.Exists(cfg.ProjectsDir(), m.ProjectID) {
		es, err = state.Recover(ctx, cfg.ProjectsDir(), m.ProjectID, ticketer)
		if err != nil {
			return fmt.Errorf("failed to recover project %s: %v", m.ProjectID, err)
		}
		services = orchestrator.RemainingWork(es, m.Services)
		_, succeeded, failed, pending := es.Counters()
		fmt.Printf("✓ Recovered checkpoint: %d succeeded, %d failed, %d remaining\n", succeeded, failed, pending)
		if len(services) == 0 {
			fmt.Println("Nothing left to do.")
			return nil
		}
	} else {
		es = state.New(cfg.ProjectsDir(), m.ProjectID, m.Services)
		if err := es.Save(); err != nil {
			return fmt.Errorf("failed to write initial checkpoint: %v", err)
		}
		fmt.Println("✓ Execution state initialized")
	}

	bus := status.NewBroker()
	defer bus.Close()

	blockers := blocker.NewRegistry(ticketer, cfg.Linear.TeamID, bus)
	if n := blockers.RestoreFromState(es); n > 0 {
		fmt.Printf("✓ Restored %d unanswered blockers\n", n)
	}

	// Webhook deliveries resolve blockers from ticket comments
	webhook := ticket.NewWebhookHandler(cfg.Linear.WebhookSecret)
	webhook.On(ticket.ActionCreate, ticket.ResourceComment, func(p ticket.WebhookPayload) {
		var comment ticket.CommentData
		if err := json.Unmarshal(p.Data, &comment); err != nil {
			logger.Warn().Err(err).Msg("malformed comment payload")
			return
		}
		blockers.ResolveByTicket(comment.IssueID, comment.Body, es)
	})

	dispatcher := subagent.NewDispatcher(buildRuntime(cfg), cfg.Worker.MaxTurns)

	orch := orchestrator.New(orchestrator.Config{
		ProjectID:          m.ProjectID,
		MaxConcurrentLeads: cfg.Worker.MaxConcurrentLeads,
		Bus:                bus,
		State:              es,
	})

	for _, svc := range services {
		sandbox := cfg.SandboxDir(m.ProjectID, svc.Name)
		if err := os.MkdirAll(sandbox, 0755); err != nil {
			return fmt.Errorf("failed to create sandbox for %s: %v", svc.Name, err)
		}
		l := lead.New(lead.Config{
			ProjectID:    m.ProjectID,
			ServiceName:  svc.Name,
			Sandbox:      sandbox,
			Conventions:  m.Conventions,
			BusinessSpec: m.BusinessSpec,
			Tasks:        svc.Tasks,
			RetryCount:   cfg.Worker.RetryCount,
			Dispatcher:   dispatcher,
			Blockers:     blockers,
			State:        es,
			Events:       orch,
		})
		if err := orch.Add(l); err != nil {
			return err
		}
	}

	server := api.NewServer(orch, blockers, es, webhook)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ListenAddr)
	}()
	fmt.Printf("✓ Control plane listening on %s\n", cfg.ListenAddr)

	if err := orch.Start(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- orch.Wait() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
		orch.Shutdown()
		cancel()
		runErr = <-done
	case runErr = <-done:
	case err := <-serverErr:
		logger.Error().Err(err).Msg("control plane failed")
		orch.Shutdown()
		cancel()
		runErr = <-done
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	if runErr != nil {
		return fmt.Errorf("execution aborted: %v", runErr)
	}

	snap := es.Snapshot()
	fmt.Printf("✓ Done: %d/%d succeeded, %d failed, %d outstanding\n",
		snap.Succeeded, snap.TotalTasks, snap.Failed, snap.Pending)
	return nil
}

// buildRuntime picks the sub-agent backend: the Anthropic API when a
// key is configured, otherwise the local agent CLI if installed.
func buildRuntime(cfg *config.Config) subagent.AgentRuntime {
	if cfg.Agent.APIKey != "" {
		fmt.Printf("✓ Using API agent runtime (model %s)\n", cfg.Agent.Model)
		return subagent.NewAPIRuntime(cfg.Agent.APIKey, cfg.Agent.Model, cfg.Agent.MaxTokens)
	}
	cli := subagent.NewCLIRuntime(cfg.Agent.CLIPath)
	if cli.Available() {
		fmt.Println("✓ Using CLI agent runtime")
		return cli
	}
	fmt.Fprintln(os.Stderr, "Warning: no agent runtime available; stages will fail")
	return nil
}
