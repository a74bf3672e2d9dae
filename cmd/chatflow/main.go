// Command chatflow runs, validates, and renders workflow definitions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/TIZ36/chatflow/internal/engine"
	"github.com/TIZ36/chatflow/internal/expressions"
	"github.com/TIZ36/chatflow/internal/llm"
	"github.com/TIZ36/chatflow/internal/logging"
	"github.com/TIZ36/chatflow/internal/nodes"
	"github.com/TIZ36/chatflow/internal/registry"
	"github.com/TIZ36/chatflow/internal/scheduler"
	"github.com/TIZ36/chatflow/internal/store"
	"github.com/TIZ36/chatflow/internal/streaming"
	"github.com/TIZ36/chatflow/internal/tools"
	"github.com/TIZ36/chatflow/internal/validation"
	"github.com/TIZ36/chatflow/pkg/builder"
	"github.com/TIZ36/chatflow/pkg/schema"
)

const usage = `usage: chatflow <command> [args]

commands:
  run <workflow.json> [inputs.json]   execute a workflow definition
  validate <workflow.json>            check a definition without running it
  graph <workflow.json>               render a definition as mermaid
  version                             print the build version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "version":
		printVersion()
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "graph":
		err = cmdGraph(os.Args[2:])
	case "run":
		err = cmdRun(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func cmdValidate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("validate expects exactly one workflow file")
	}
	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	validator, _, cleanup, err := buildValidator()
	if err != nil {
		return err
	}
	defer cleanup()

	result := validator.Validate(def)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s: %s\n", w.Path, w.Message)
	}
	for _, e := range result.Errors {
		fmt.Printf("error: %s: %s (%s)\n", e.Path, e.Message, e.Code)
	}
	if !result.Valid() {
		return fmt.Errorf("workflow %q is invalid", def.Name)
	}
	fmt.Printf("workflow %q is valid (%d nodes, %d edges)\n", def.Name, len(def.Nodes), len(def.Edges))
	return nil
}

func cmdGraph(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("graph expects exactly one workflow file")
	}
	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	fmt.Print(builder.Mermaid(def))
	return nil
}

func cmdRun(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("run expects a workflow file and optionally an inputs file")
	}
	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	var inputs map[string]any
	if len(args) == 2 {
		raw, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read inputs file: %w", err)
		}
		if err := json.Unmarshal(raw, &inputs); err != nil {
			return fmt.Errorf("parse inputs file: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	exec, err := app.pool.ExecuteAnonymous(ctx, def, inputs)
	if exec == nil {
		return err
	}

	out, merr := json.MarshalIndent(exec, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Println(string(out))

	if exec.Status != schema.ExecutionStatusCompleted {
		return fmt.Errorf("execution %s finished with status %s", exec.ID, exec.Status)
	}
	return nil
}

// app wires the full engine stack for one process.
type app struct {
	cfg      Config
	logger   *slog.Logger
	db       *store.LibSQLStore
	invoker  *tools.MCPInvoker
	executor *engine.Executor
	pool     *registry.Registry
	sched    *scheduler.Scheduler
}

func buildApp(ctx context.Context) (*app, error) {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	if cfg.DBPath != "" && cfg.DBPath != "memory" {
		if err := os.MkdirAll(chatflowDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		db, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		a.db = db
	}

	engines, err := newEngineSet()
	if err != nil {
		a.close()
		return nil, err
	}
	a.invoker = tools.NewMCPInvoker(cfg.MCPServers, logger)

	deps := nodes.Deps{
		Model:  llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.DefaultModel),
		Tools:  a.invoker,
		CEL:    engines.cel,
		Expr:   engines.expr,
		Interp: engines.interp,
	}
	nodeRegistry := nodes.NewRegistry(deps)

	validator, err := validation.NewWorkflowValidator(nodeRegistry)
	if err != nil {
		a.close()
		return nil, err
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.MaxConcurrentNodes = cfg.MaxConcurrentNodes
	engineCfg.CircuitBreaker = &engine.CircuitBreakerConfig{}
	*engineCfg.CircuitBreaker = engine.DefaultCircuitBreakerConfig()
	if d, err := time.ParseDuration(cfg.DefaultNodeTimeout); err == nil {
		engineCfg.DefaultNodeTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ExecutionRetention); err == nil {
		engineCfg.ExecutionRetention = d
	}

	execOpts := []engine.Option{engine.WithLogger(logger)}
	poolOpts := []registry.Option{registry.WithLogger(logger)}
	hub := streaming.NewMemoryHub()
	execOpts = append(execOpts, engine.WithHub(hub))
	poolOpts = append(poolOpts, registry.WithHub(hub))
	if a.db != nil {
		execOpts = append(execOpts, engine.WithStore(a.db))
		poolOpts = append(poolOpts, registry.WithStore(a.db))
	}

	a.executor = engine.NewExecutor(nodeRegistry, engineCfg, execOpts...)
	a.pool = registry.New(a.executor, validator, poolOpts...)
	if err := a.pool.LoadFromStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	if cfg.Scheduler && a.db != nil {
		a.sched = scheduler.NewScheduler(a.db, a.pool, logger)
		if err := a.sched.Start(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) close() {
	if a.sched != nil {
		_ = a.sched.Stop()
	}
	if a.executor != nil {
		a.executor.Close()
	}
	if a.invoker != nil {
		a.invoker.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// buildValidator wires only what validation needs: the node registry for type
// lookups. The model client and tool invoker are never called.
func buildValidator() (*validation.WorkflowValidator, *nodes.Registry, func(), error) {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	engines, err := newEngineSet()
	if err != nil {
		return nil, nil, nil, err
	}
	invoker := tools.NewMCPInvoker(cfg.MCPServers, logger)
	nodeRegistry := nodes.NewRegistry(nodes.Deps{
		Model:  llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.DefaultModel),
		Tools:  invoker,
		CEL:    engines.cel,
		Expr:   engines.expr,
		Interp: engines.interp,
	})
	validator, err := validation.NewWorkflowValidator(nodeRegistry)
	if err != nil {
		invoker.Close()
		return nil, nil, nil, err
	}
	return validator, nodeRegistry, invoker.Close, nil
}

// engineSet bundles the expression engines every node registry needs.
type engineSet struct {
	cel    *expressions.CELEngine
	expr   *expressions.ExprEngine
	interp *expressions.Interpolator
}

func newEngineSet() (*engineSet, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("init cel engine: %w", err)
	}
	return &engineSet{
		cel:    cel,
		expr:   expressions.NewExprEngine(),
		interp: expressions.NewInterpolator(),
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}

func loadDefinition(path string) (*schema.WorkflowDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	def := &schema.WorkflowDefinition{}
	if err := json.Unmarshal(raw, def); err != nil {
		return nil, fmt.Errorf("parse workflow file: %w", err)
	}
	return def, nil
}
