package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/TIZ36/chatflow/internal/expressions"
	"github.com/TIZ36/chatflow/internal/logging"
	"github.com/TIZ36/chatflow/internal/nodes"
	"github.com/TIZ36/chatflow/internal/store"
	"github.com/TIZ36/chatflow/internal/streaming"
	"github.com/TIZ36/chatflow/pkg/schema"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxConcurrentNodes = 5
	DefaultNodeTimeout        = 5 * time.Minute
	DefaultExecutionRetention = time.Hour
)

// Config tunes the executor.
type Config struct {
	// MaxConcurrentNodes bounds how many nodes run simultaneously within one
	// execution. It is also the worker pool size.
	MaxConcurrentNodes int
	// DefaultMaxRetries applies to nodes without a retry policy.
	DefaultMaxRetries int
	// DefaultRetryDelay applies to retrying nodes whose policy has no delay.
	DefaultRetryDelay time.Duration
	// DefaultNodeTimeout is the per-attempt timeout for nodes without one.
	DefaultNodeTimeout time.Duration
	// ExecutionRetention is how long terminal executions stay in the
	// in-memory table before the reaper evicts them.
	ExecutionRetention time.Duration
	// CircuitBreaker enables per-node-type circuit breaking when non-nil.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentNodes: DefaultMaxConcurrentNodes,
		DefaultNodeTimeout: DefaultNodeTimeout,
		ExecutionRetention: DefaultExecutionRetention,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentNodes <= 0 {
		c.MaxConcurrentNodes = DefaultMaxConcurrentNodes
	}
	if c.DefaultNodeTimeout <= 0 {
		c.DefaultNodeTimeout = DefaultNodeTimeout
	}
	if c.ExecutionRetention <= 0 {
		c.ExecutionRetention = DefaultExecutionRetention
	}
	return c
}

// Option configures optional executor collaborators.
type Option func(*Executor)

// WithHub attaches a streaming hub for real-time lifecycle events.
func WithHub(h streaming.EventHub) Option {
	return func(e *Executor) { e.hub = h }
}

// WithStore attaches persistence for execution snapshots and the event log.
func WithStore(s store.Store) Option {
	return func(e *Executor) { e.store = s }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// Executor runs workflow definitions. Scheduling is a ready-queue variant of
// Kahn's algorithm: nodes whose dependencies are all complete enter the queue,
// a bounded worker pool drains it, and each completion unlocks dependents.
type Executor struct {
	registry   *nodes.Registry
	transforms *expressions.GoJQEngine
	hub        streaming.EventHub
	store      store.Store
	logger     *slog.Logger
	cfg        Config
	pool       *WorkerPool
	breakers   *CircuitBreakerRegistry

	mu         sync.RWMutex
	executions map[string]*executionRun
	closed     bool
	stop       chan struct{}
	reaperWG   sync.WaitGroup
}

// executionRun is the live state of one execution inside the table.
type executionRun struct {
	mu     sync.Mutex
	exec   *schema.Execution
	def    *schema.WorkflowDefinition
	scope  *expressions.ScopeBuilder
	cancel context.CancelFunc
}

// NewExecutor creates an executor backed by the given node registry.
func NewExecutor(registry *nodes.Registry, cfg Config, opts ...Option) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		registry:   registry,
		transforms: expressions.NewGoJQEngine(),
		logger:     slog.Default(),
		cfg:        cfg,
		pool:       NewWorkerPool(cfg.MaxConcurrentNodes),
		executions: make(map[string]*executionRun),
		stop:       make(chan struct{}),
	}
	if cfg.CircuitBreaker != nil {
		e.breakers = NewCircuitBreakerRegistry(*cfg.CircuitBreaker)
	}
	for _, opt := range opts {
		opt(e)
	}

	e.reaperWG.Add(1)
	go e.reapLoop()

	return e
}

// Close stops the reaper and waits for in-flight node work to finish.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.stop)
	e.mu.Unlock()

	e.pool.Shutdown()
	e.reaperWG.Wait()
}

// Execute runs a definition to completion and returns the terminal execution
// snapshot. Validation failures (INVALID_DEFINITION, CYCLE_DETECTED) are
// returned before any node runs and leave no execution record.
func (e *Executor) Execute(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (*schema.Execution, error) {
	run, g, built, err := e.prepare(ctx, def, inputs)
	if err != nil {
		return nil, err
	}
	return e.runToCompletion(ctx, run, g, built)
}

// ExecuteAsync validates and starts a run, returning its execution ID
// immediately. Progress is observable via GetExecution and the event hub.
func (e *Executor) ExecuteAsync(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (string, error) {
	run, g, built, err := e.prepare(ctx, def, inputs)
	if err != nil {
		return "", err
	}
	// Detach from the caller's context so returning from the calling request
	// does not cancel the run. Cancellation stays available via Cancel.
	bg := logging.WithIDs(context.Background(), run.exec.WorkflowID, run.exec.ID, "")
	go func() {
		_, _ = e.runToCompletion(bg, run, g, built)
	}()
	return run.exec.ID, nil
}

// Cancel requests cooperative cancellation of a running execution. Returns
// true if the execution was running and is now cancelled, false if it is
// unknown or already terminal.
func (e *Executor) Cancel(executionID string) bool {
	e.mu.RLock()
	run, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if run.exec.Status.Terminal() {
		return false
	}
	now := time.Now().UTC()
	run.exec.Status = schema.ExecutionStatusCancelled
	run.exec.CompletedAt = &now
	run.exec.Error = schema.NewError(schema.ErrCodeCancelled, "execution cancelled")
	if run.cancel != nil {
		run.cancel()
	}
	return true
}

// GetExecution returns a snapshot of an execution's current state. Evicted
// executions fall back to the store when one is attached.
func (e *Executor) GetExecution(ctx context.Context, executionID string) (*schema.Execution, error) {
	e.mu.RLock()
	run, ok := e.executions[executionID]
	e.mu.RUnlock()
	if ok {
		run.mu.Lock()
		defer run.mu.Unlock()
		return copyExecution(run.exec), nil
	}
	if e.store != nil {
		return e.store.GetExecution(ctx, executionID)
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", executionID)
}

// PoolMetrics exposes worker pool counters.
func (e *Executor) PoolMetrics() PoolMetrics {
	return e.pool.Metrics()
}

// --- Run setup and teardown ---

// prepare validates the definition, builds every node, and registers the
// execution in the table. Zero side effects on validation failure.
func (e *Executor) prepare(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (*executionRun, *depGraph, map[string]nodes.Node, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, nil, nil, schema.NewError(schema.ErrCodeCancelled, "executor is shut down")
	}

	g, err := buildGraph(def)
	if err != nil {
		return nil, nil, nil, err
	}

	// Build all nodes upfront so config errors surface before any node runs.
	built := make(map[string]nodes.Node, len(g.order))
	for _, id := range g.order {
		node, err := e.registry.Build(g.nodes[id])
		if err != nil {
			return nil, nil, nil, err
		}
		built[id] = node
	}

	// Definition variables seed the shared state; caller inputs win conflicts.
	vars := make(map[string]any, len(def.Variables)+len(inputs))
	if err := mergo.Merge(&vars, def.Variables, mergo.WithOverride); err != nil {
		return nil, nil, nil, schema.NewErrorf(schema.ErrCodeUnknown, "merge definition variables: %v", err).WithCause(err)
	}
	if err := mergo.Merge(&vars, inputs, mergo.WithOverride); err != nil {
		return nil, nil, nil, schema.NewErrorf(schema.ErrCodeUnknown, "merge inputs: %v", err).WithCause(err)
	}

	exec := &schema.Execution{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		Status:     schema.ExecutionStatusRunning,
		Variables:  vars,
		NodeStates: make(map[string]*schema.NodeState, len(g.order)),
		StartedAt:  time.Now().UTC(),
	}
	for _, id := range g.order {
		exec.NodeStates[id] = &schema.NodeState{NodeID: id, Status: schema.NodeStatusPending}
	}

	scope := expressions.NewScopeBuilder(inputs, map[string]any{
		"id":           def.ID,
		"name":         def.Name,
		"version":      def.Version,
		"execution_id": exec.ID,
	})
	scope.SetVariables(vars)

	run := &executionRun{exec: exec, def: def, scope: scope}

	e.mu.Lock()
	e.executions[exec.ID] = run
	e.mu.Unlock()

	return run, g, built, nil
}

func (e *Executor) runToCompletion(ctx context.Context, run *executionRun, g *depGraph, built map[string]nodes.Node) (*schema.Execution, error) {
	runCtx, cancel := context.WithCancel(ctx)
	runCtx = logging.WithWorkflowID(runCtx, run.exec.WorkflowID)
	runCtx = logging.WithExecutionID(runCtx, run.exec.ID)
	run.mu.Lock()
	run.cancel = cancel
	alreadyTerminal := run.exec.Status.Terminal()
	run.mu.Unlock()
	defer cancel()

	// Cancel raced prepare; nothing ran, finalize directly.
	var runErr error
	if !alreadyTerminal {
		e.emit(runCtx, run, "", schema.EventWorkflowStart, schema.WorkflowStartPayload{
			WorkflowID: run.exec.WorkflowID,
			Name:       run.def.Name,
		})
		e.logger.InfoContext(runCtx, "workflow execution started",
			slog.Int("nodes", len(g.order)),
			slog.Int("max_concurrent", e.cfg.MaxConcurrentNodes))

		runErr = e.runGraph(runCtx, run, g, built)
	}

	return e.finalize(runCtx, run, runErr)
}

// finalize settles the terminal status, emits the closing event, and persists
// the snapshot.
func (e *Executor) finalize(ctx context.Context, run *executionRun, runErr error) (*schema.Execution, error) {
	run.mu.Lock()
	if !run.exec.Status.Terminal() {
		now := time.Now().UTC()
		run.exec.CompletedAt = &now
		switch {
		case runErr == nil:
			run.exec.Status = schema.ExecutionStatusCompleted
		default:
			fe := asFlowError(runErr)
			if fe.Code == schema.ErrCodeCancelled {
				run.exec.Status = schema.ExecutionStatusCancelled
			} else if fe.Code == schema.ErrCodeTimeout && errors.Is(runErr, context.DeadlineExceeded) {
				run.exec.Status = schema.ExecutionStatusCancelled
			} else {
				run.exec.Status = schema.ExecutionStatusFailed
			}
			run.exec.Error = fe
		}
	} else if runErr == nil && run.exec.Error != nil {
		// Cancel settled the status while the scheduler was draining.
		runErr = run.exec.Error
	}
	snapshot := copyExecution(run.exec)
	run.mu.Unlock()

	duration := int64(0)
	if snapshot.CompletedAt != nil {
		duration = snapshot.CompletedAt.Sub(snapshot.StartedAt).Milliseconds()
	}

	if snapshot.Status == schema.ExecutionStatusCompleted {
		e.emit(ctx, run, "", schema.EventWorkflowEnd, schema.WorkflowEndPayload{
			WorkflowID: snapshot.WorkflowID,
			Status:     snapshot.Status,
			DurationMs: duration,
			Result:     snapshot.Variables,
		})
		e.logger.InfoContext(ctx, "workflow execution completed", slog.Int64("duration_ms", duration))
	} else {
		errMsg := ""
		nodeID := ""
		if snapshot.Error != nil {
			errMsg = snapshot.Error.Message
			nodeID = snapshot.Error.NodeID
		}
		e.emit(ctx, run, nodeID, schema.EventWorkflowError, schema.WorkflowErrorPayload{
			WorkflowID: snapshot.WorkflowID,
			NodeID:     nodeID,
			Error:      errMsg,
		})
		e.emit(ctx, run, "", schema.EventWorkflowEnd, schema.WorkflowEndPayload{
			WorkflowID: snapshot.WorkflowID,
			Status:     snapshot.Status,
			DurationMs: duration,
		})
		e.logger.WarnContext(ctx, "workflow execution ended",
			slog.String("status", string(snapshot.Status)),
			slog.String("error", errMsg))
	}

	if e.store != nil {
		// Persist with a fresh context: the run context is already cancelled
		// on the failure paths.
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.store.SaveExecution(saveCtx, snapshot); err != nil {
			e.logger.WarnContext(ctx, "persist execution snapshot", slog.String("error", err.Error()))
		}
		saveCancel()
	}

	return snapshot, runErr
}

// --- Scheduler ---

type nodeCompletion struct {
	nodeID string
	err    error
}

// runGraph drains the ready queue. Pass-through nodes resolve synchronously in
// the loop; everything else goes to the worker pool, bounded by
// MaxConcurrentNodes, and the loop races on the completion channel.
func (e *Executor) runGraph(ctx context.Context, run *executionRun, g *depGraph, built map[string]nodes.Node) error {
	indeg := make(map[string]int, len(g.order))
	for id, d := range g.inDegree {
		indeg[id] = d
	}
	ready := g.entryPoints()

	// Buffered to node count so a late worker send never blocks after the
	// loop has exited.
	results := make(chan nodeCompletion, len(g.order))
	inFlight := 0
	var failure error

	for failure == nil {
		// Dispatch everything ready, resolving pass-through kinds inline.
		for failure == nil && len(ready) > 0 {
			id := ready[0]
			def := g.nodes[id]

			if def.Type.PassThrough() {
				ready = ready[1:]
				if err := e.completePassThrough(ctx, run, g, def); err != nil {
					failure = err
					break
				}
				ready = append(ready, unlockDependents(g, indeg, id)...)
				continue
			}

			if inFlight >= e.cfg.MaxConcurrentNodes {
				break
			}
			ready = ready[1:]
			inFlight++
			e.dispatch(ctx, run, g, def, built[id], results)
		}
		if failure != nil {
			break
		}

		if inFlight == 0 && len(ready) == 0 {
			break
		}

		select {
		case c := <-results:
			inFlight--
			if c.err != nil {
				failure = c.err
			} else {
				ready = append(ready, unlockDependents(g, indeg, c.nodeID)...)
			}
		case <-ctx.Done():
			failure = cancellationError(ctx)
		}
	}

	if failure == nil {
		if err := ctx.Err(); err != nil {
			failure = cancellationError(ctx)
		}
	}
	return failure
}

func cancellationError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "execution deadline exceeded").WithCause(ctx.Err())
	}
	return schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithCause(ctx.Err())
}

// unlockDependents decrements the in-degree of the completed node's children
// and returns those that became ready.
func unlockDependents(g *depGraph, indeg map[string]int, completed string) []string {
	var newlyReady []string
	for _, child := range g.children[completed] {
		indeg[child]--
		if indeg[child] == 0 {
			newlyReady = append(newlyReady, child)
		}
	}
	return newlyReady
}

// dispatch hands a node to the worker pool. Submit failures are reported on
// the completion channel so in-flight accounting stays balanced.
func (e *Executor) dispatch(ctx context.Context, run *executionRun, g *depGraph, def *schema.NodeDefinition, node nodes.Node, results chan<- nodeCompletion) {
	nctx := logging.WithNodeID(ctx, def.ID)
	submitErr := e.pool.Submit(nctx, func(workerCtx context.Context) error {
		err := e.runNode(workerCtx, run, g, def, node)
		results <- nodeCompletion{nodeID: def.ID, err: err}
		return err
	})
	if submitErr != nil {
		results <- nodeCompletion{nodeID: def.ID, err: schema.NewErrorf(schema.ErrCodeCancelled,
			"node %s not scheduled: %v", def.ID, submitErr).WithNode(def.ID).WithCause(submitErr)}
	}
}

// completePassThrough resolves a start/end/join node without a worker: its
// output is its merged inputs, forwarded through the scope for dependents.
func (e *Executor) completePassThrough(ctx context.Context, run *executionRun, g *depGraph, def *schema.NodeDefinition) error {
	nctx := logging.WithNodeID(ctx, def.ID)
	e.emit(nctx, run, def.ID, schema.EventNodeStart, schema.NodeStartPayload{
		WorkflowID: run.exec.WorkflowID,
		NodeID:     def.ID,
		NodeType:   def.Type,
	})

	inputs := e.gatherInputs(run, g, def.ID)
	now := time.Now().UTC()

	run.mu.Lock()
	if run.exec.Status.Terminal() {
		run.mu.Unlock()
		return cancellationError(ctx)
	}
	state := run.exec.NodeStates[def.ID]
	state.Status = schema.NodeStatusCompleted
	state.StartedAt = &now
	state.CompletedAt = &now
	state.Result = &schema.NodeResult{Success: true, Output: inputs}
	run.mu.Unlock()

	if err := run.scope.AddNodeOutput(def.ID, inputs); err != nil {
		return err
	}

	e.emit(nctx, run, def.ID, schema.EventNodeEnd, schema.NodeEndPayload{
		WorkflowID: run.exec.WorkflowID,
		NodeID:     def.ID,
		NodeType:   def.Type,
		Result:     state.Result,
	})
	return nil
}

// --- Node execution ---

// runNode drives one node through its retry loop to a terminal node status.
func (e *Executor) runNode(ctx context.Context, run *executionRun, g *depGraph, def *schema.NodeDefinition, node nodes.Node) error {
	if e.breakers != nil {
		if err := e.breakers.AllowRequest(def.Type); err != nil {
			return e.failNode(ctx, run, def, err)
		}
	}

	inputs := e.gatherInputs(run, g, def.ID)

	run.mu.Lock()
	if run.exec.Status.Terminal() {
		run.mu.Unlock()
		return cancellationError(ctx)
	}
	state := run.exec.NodeStates[def.ID]
	if err := TransitionNode(def.ID, state.Status, schema.NodeStatusRunning); err != nil {
		run.mu.Unlock()
		return err
	}
	now := time.Now().UTC()
	state.Status = schema.NodeStatusRunning
	state.StartedAt = &now
	vars := copyVariables(run.exec.Variables)
	run.mu.Unlock()

	e.emit(ctx, run, def.ID, schema.EventNodeStart, schema.NodeStartPayload{
		WorkflowID: run.exec.WorkflowID,
		NodeID:     def.ID,
		NodeType:   def.Type,
	})

	nc := nodes.NodeContext{
		WorkflowID:  run.exec.WorkflowID,
		ExecutionID: run.exec.ID,
		NodeID:      def.ID,
		Inputs:      inputs,
		Variables:   vars,
		Scope:       run.scope.Build(),
	}

	maxRetries := e.cfg.DefaultMaxRetries
	policy := def.Retry
	if policy != nil {
		maxRetries = policy.MaxRetries
	}
	if policy == nil && e.cfg.DefaultRetryDelay > 0 {
		policy = &schema.RetryPolicy{Delay: e.cfg.DefaultRetryDelay.String()}
	}
	timeout := e.cfg.DefaultNodeTimeout
	if def.Timeout != "" {
		if d, err := time.ParseDuration(def.Timeout); err == nil {
			timeout = d
		}
	}

	for attempt := 0; ; attempt++ {
		res, cause := e.runAttempt(ctx, node, nc, timeout)
		if cause == nil {
			if err := e.completeNode(ctx, run, def, res); err != nil {
				return e.failNode(ctx, run, def, err)
			}
			if e.breakers != nil {
				e.breakers.RecordSuccess(def.Type)
			}
			return nil
		}

		if e.breakers != nil {
			e.breakers.RecordFailure(def.Type)
		}

		// The parent context ending means cancellation, not a node fault.
		if ctx.Err() != nil {
			return cancellationError(ctx)
		}

		if attempt >= maxRetries || !IsRetryableError(cause) {
			return e.failNode(ctx, run, def,
				schema.NewErrorf(schema.ErrCodeNodeFailed,
					"node %s failed after %d attempt(s): %v", def.ID, attempt+1, cause).
					WithNode(def.ID).WithCause(cause))
		}

		run.mu.Lock()
		if run.exec.Status.Terminal() {
			run.mu.Unlock()
			return cancellationError(ctx)
		}
		state.RetryCount++
		retryCount := state.RetryCount
		run.mu.Unlock()

		e.emit(ctx, run, def.ID, schema.EventNodeRetry, map[string]any{
			"workflow_id": run.exec.WorkflowID,
			"node_id":     def.ID,
			"attempt":     retryCount,
			"error":       cause.Error(),
		})
		e.logger.WarnContext(ctx, "node attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.String("error", cause.Error()))

		if err := WaitForBackoff(ctx, ComputeBackoff(policy, attempt)); err != nil {
			return cancellationError(ctx)
		}
	}
}

// runAttempt races one invocation of the node against its per-attempt timeout.
func (e *Executor) runAttempt(ctx context.Context, node nodes.Node, nc nodes.NodeContext, timeout time.Duration) (*schema.NodeResult, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res *schema.NodeResult
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("node panicked: %v", r)}
			}
		}()
		res, err := node.Execute(attemptCtx, nc)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, o.err
		}
		if o.res != nil {
			o.res.Duration = time.Since(start)
			if !o.res.Success {
				msg := o.res.Error
				if msg == "" {
					msg = "node reported failure"
				}
				return nil, errors.New(msg)
			}
		}
		return o.res, nil
	case <-attemptCtx.Done():
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"node %s attempt timed out after %s", nc.NodeID, timeout).
				WithNode(nc.NodeID).WithCause(attemptCtx.Err())
		}
		return nil, attemptCtx.Err()
	}
}

// completeNode applies the node's transform, merges its output into the
// shared variables (last write wins), and settles the node state. Results
// arriving after the execution went terminal are discarded.
func (e *Executor) completeNode(ctx context.Context, run *executionRun, def *schema.NodeDefinition, res *schema.NodeResult) error {
	if res == nil {
		res = &schema.NodeResult{Success: true}
	}

	if def.Transform != "" {
		out, err := e.transforms.Evaluate(ctx, def.Transform, res.Output)
		if err != nil {
			return err
		}
		switch v := out.(type) {
		case nil:
			res.Output = nil
		case map[string]any:
			res.Output = v
		default:
			res.Output = map[string]any{"value": v}
		}
	}

	now := time.Now().UTC()

	run.mu.Lock()
	if run.exec.Status.Terminal() {
		run.mu.Unlock()
		return cancellationError(ctx)
	}
	state := run.exec.NodeStates[def.ID]
	state.Status = schema.NodeStatusCompleted
	state.CompletedAt = &now
	state.Result = res
	if len(res.Output) > 0 {
		if run.exec.Variables == nil {
			run.exec.Variables = make(map[string]any, len(res.Output))
		}
		if err := mergo.Merge(&run.exec.Variables, res.Output, mergo.WithOverride); err != nil {
			run.mu.Unlock()
			return schema.NewErrorf(schema.ErrCodeUnknown,
				"merge output of node %s: %v", def.ID, err).WithNode(def.ID).WithCause(err)
		}
	}
	run.scope.SetVariables(run.exec.Variables)
	run.mu.Unlock()

	if err := run.scope.AddNodeOutput(def.ID, res.Output); err != nil {
		return err
	}

	e.emit(ctx, run, def.ID, schema.EventNodeEnd, schema.NodeEndPayload{
		WorkflowID: run.exec.WorkflowID,
		NodeID:     def.ID,
		NodeType:   def.Type,
		DurationMs: res.Duration.Milliseconds(),
		Result:     res,
	})
	e.logger.DebugContext(ctx, "node completed", slog.Int64("duration_ms", res.Duration.Milliseconds()))
	return nil
}

// failNode settles the node state as failed and returns the terminal error.
func (e *Executor) failNode(ctx context.Context, run *executionRun, def *schema.NodeDefinition, failErr error) error {
	now := time.Now().UTC()
	fe := asFlowError(failErr)
	if fe.NodeID == "" {
		fe = fe.WithNode(def.ID)
	}

	run.mu.Lock()
	if state := run.exec.NodeStates[def.ID]; state != nil && !terminalNodeStatus(state.Status) {
		state.Status = schema.NodeStatusFailed
		state.CompletedAt = &now
		state.Result = &schema.NodeResult{Success: false, Error: fe.Message}
	}
	run.mu.Unlock()

	e.logger.ErrorContext(ctx, "node failed", slog.String("error", fe.Message))
	return fe
}

func terminalNodeStatus(s schema.NodeStatus) bool {
	return s == schema.NodeStatusCompleted || s == schema.NodeStatusFailed
}

// gatherInputs merges the outputs of the node's upstream parents in edge
// order; later parents win key conflicts.
func (e *Executor) gatherInputs(run *executionRun, g *depGraph, nodeID string) map[string]any {
	outputs := run.scope.NodeOutputs()
	inputs := make(map[string]any)
	for _, parent := range g.parents[nodeID] {
		out, ok := outputs[parent].(map[string]any)
		if !ok || len(out) == 0 {
			continue
		}
		if err := mergo.Merge(&inputs, out, mergo.WithOverride); err != nil {
			e.logger.Warn("merge upstream output",
				slog.String("node_id", nodeID),
				slog.String("parent", parent),
				slog.String("error", err.Error()))
		}
	}
	return inputs
}

// --- Events and housekeeping ---

// emit publishes a lifecycle event to the hub and appends it to the store
// event log. Both sinks are best-effort; a slow subscriber or store hiccup
// never blocks scheduling.
func (e *Executor) emit(ctx context.Context, run *executionRun, nodeID, eventType string, payload any) {
	if e.hub != nil {
		_ = e.hub.Publish(ctx, streaming.StreamEvent{
			WorkflowID:  run.exec.WorkflowID,
			ExecutionID: run.exec.ID,
			NodeID:      nodeID,
			EventType:   eventType,
			Payload:     payload,
		})
	}
	if e.store != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			raw = nil
		}
		if err := e.store.AppendEvent(ctx, &store.Event{
			WorkflowID:  run.exec.WorkflowID,
			ExecutionID: run.exec.ID,
			NodeID:      nodeID,
			Type:        eventType,
			Payload:     raw,
		}); err != nil {
			e.logger.WarnContext(ctx, "append event", slog.String("error", err.Error()))
		}
	}
}

// reapLoop evicts terminal executions past the retention window.
func (e *Executor) reapLoop() {
	defer e.reaperWG.Done()

	interval := e.cfg.ExecutionRetention / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.reap(time.Now().Add(-e.cfg.ExecutionRetention))
		case <-e.stop:
			return
		}
	}
}

func (e *Executor) reap(cutoff time.Time) {
	e.mu.Lock()
	var evicted int
	for id, run := range e.executions {
		run.mu.Lock()
		expired := run.exec.Status.Terminal() &&
			run.exec.CompletedAt != nil && run.exec.CompletedAt.Before(cutoff)
		run.mu.Unlock()
		if expired {
			delete(e.executions, id)
			evicted++
		}
	}
	e.mu.Unlock()

	if evicted > 0 {
		e.logger.Debug("reaped terminal executions", slog.Int("count", evicted))
	}
	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := e.store.DeleteExecutionsBefore(ctx, cutoff); err != nil {
			e.logger.Warn("reap persisted executions", slog.String("error", err.Error()))
		}
	}
}

// --- Helpers ---

func asFlowError(err error) *schema.FlowError {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return schema.NewError(schema.ErrCodeUnknown, err.Error()).WithCause(err)
}

func copyVariables(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// copyExecution returns a snapshot safe to hand to callers while the run
// keeps mutating its own state.
func copyExecution(exec *schema.Execution) *schema.Execution {
	cp := *exec
	cp.Variables = copyVariables(exec.Variables)
	cp.NodeStates = make(map[string]*schema.NodeState, len(exec.NodeStates))
	for id, st := range exec.NodeStates {
		stCopy := *st
		cp.NodeStates[id] = &stCopy
	}
	return &cp
}
