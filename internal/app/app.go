// Package app assembles the policy-gated database agent's singletons from
// environment configuration, grounded on the teacher's
// services/escrow-gateway/main.go wiring order: load config, open the
// store, build the authenticator, build the server, hand both back to
// main for the HTTP listener and signal-driven shutdown to own.
package app

import (
	"context"
	"fmt"

	"private-db-agent/internal/a2a"
	"private-db-agent/internal/attestation"
	"private-db-agent/internal/audit"
	"private-db-agent/internal/auth"
	"private-db-agent/internal/dbadapter"
	"private-db-agent/internal/executor"
	"private-db-agent/internal/mutation"
	"private-db-agent/internal/pipeline"
	"private-db-agent/internal/policy"
	"private-db-agent/internal/receipt"
	"private-db-agent/internal/replay"
	"private-db-agent/internal/server"
	"private-db-agent/internal/telemetry"
	"private-db-agent/internal/templates"
)

// Application owns every long-lived collaborator the service needs, built
// once at startup and never reconstructed afterward.
type Application struct {
	Adapter     dbadapter.Adapter
	Workers     *a2a.WorkerPool
	Pipeline    *pipeline.Pipeline
	Server      *server.Server
	Metrics     *telemetry.Metrics
	persistence *replay.Persistence
}

// New wires every collaborator cfg describes and returns the assembled
// Application. The caller owns Close (via Adapter.Close and Workers.Stop)
// and the HTTP listener around Server.
func New(cfg Config) (*Application, error) {
	adapter, err := cfg.openAdapter()
	if err != nil {
		return nil, fmt.Errorf("app: open adapter: %w", err)
	}

	registry, err := templates.NewRegistry(templates.DefaultTemplates())
	if err != nil {
		return nil, fmt.Errorf("app: build template registry: %w", err)
	}

	capRules, err := cfg.capabilityRules()
	if err != nil {
		return nil, fmt.Errorf("app: build capability rules: %w", err)
	}
	grants := policy.NewGrantStore()

	var persistence *replay.Persistence
	if cfg.ReplayPersistencePath != "" {
		persistence, err = replay.OpenPersistence(cfg.ReplayPersistencePath)
		if err != nil {
			return nil, fmt.Errorf("app: open replay persistence: %w", err)
		}
	}
	guard := replay.NewGuard(replay.Options{
		NonceTTL:      cfg.AuthNonceTTL,
		MaxFutureSkew: cfg.AuthMaxFutureSkew,
		Persistence:   persistence,
	})
	authenticator := auth.NewAuthenticator(auth.Options{
		Guard:         guard,
		AllowUnsigned: !cfg.AuthEnabled,
	})

	exec := executor.New(registry, adapter)
	mutations := mutation.NewService(grants, adapter)
	receipts := receipt.NewService(true)
	audits := audit.NewSink(adapter, nil)

	tasks := a2a.NewTaskStore()
	idempotency := a2a.NewIdempotencyStore()
	workers := a2a.NewWorkerPool(tasks, runTask(exec), a2a.WithIdempotencyStore(idempotency))
	workers.Start()

	metrics := telemetry.New()

	agents := cfg.agentSigners()

	p := pipeline.New(pipeline.Config{
		ServiceName:    cfg.ServiceName,
		Authenticator:  authenticator,
		Capabilities:   capRules,
		Executor:       exec,
		Mutations:      mutations,
		Receipts:       receipts,
		Audits:         audits,
		Metrics:        metrics,
		AttestationCfg: cfg.AttestationCfg,
		Dialect:        adapter.Dialect(),
		Agents:         agents,
		Tasks:          tasks,
		Idempotency:    idempotency,
		Workers:        workers,
	})

	srv := server.New(server.Config{
		Pipeline:       p,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		AttestationCfg: cfg.AttestationCfg,
		Metrics:        metrics,
	})

	return &Application{
		Adapter:     adapter,
		Workers:     workers,
		Pipeline:    p,
		Server:      srv,
		Metrics:     metrics,
		persistence: persistence,
	}, nil
}

// Close releases the application's long-lived resources: the worker pool
// first (so no in-flight task reaches for a closed adapter), then the
// database adapter and the optional replay-persistence store.
func (a *Application) Close(ctx context.Context) error {
	a.Workers.Stop()
	if a.persistence != nil {
		_ = a.persistence.Close()
	}
	return a.Adapter.Close()
}

// runTask builds the a2a.Executor every accepted task runs through: a task's
// input must name a capability and queryTemplate exactly like a /v1/query
// request, since a peer agent's task is just a query executed out of band.
// Tasks that omit either field fail fast rather than silently no-op.
func runTask(exec *executor.Executor) a2a.Executor {
	return func(ctx context.Context, task a2a.Task) (map[string]interface{}, error) {
		capability, _ := task.Input["capability"].(string)
		queryTemplate, _ := task.Input["queryTemplate"].(string)
		if capability == "" || queryTemplate == "" {
			return nil, fmt.Errorf("task %s: input must include capability and queryTemplate", task.TaskID)
		}
		params, _ := task.Input["queryParams"].(map[string]interface{})

		result, failure := exec.Run(ctx, capability, queryTemplate, params)
		if failure != nil {
			return nil, fmt.Errorf("%s: %s", failure.Code, failure.Message)
		}
		return map[string]interface{}{
			"rows":     result.Rows,
			"rowCount": result.RowCount,
		}, nil
	}
}
