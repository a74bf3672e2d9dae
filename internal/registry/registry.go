package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TIZ36/chatflow/internal/store"
	"github.com/TIZ36/chatflow/internal/streaming"
	"github.com/TIZ36/chatflow/internal/validation"
	"github.com/TIZ36/chatflow/pkg/schema"
)

// Runner executes workflow definitions. Satisfied by *engine.Executor.
type Runner interface {
	Execute(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (*schema.Execution, error)
	ExecuteAsync(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (string, error)
}

// Registry is the workflow pool: the authoritative set of registered
// definitions, keyed by ID. Definitions are validated on the way in and
// immutable once stored; Update produces a new version.
type Registry struct {
	runner    Runner
	validator *validation.WorkflowValidator
	store     store.Store
	hub       streaming.EventHub
	logger    *slog.Logger

	mu   sync.RWMutex
	defs map[string]*schema.WorkflowDefinition
}

// Option configures optional registry collaborators.
type Option func(*Registry)

// WithStore attaches persistence so definitions survive restarts.
func WithStore(s store.Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithHub attaches a streaming hub for definition lifecycle events.
func WithHub(h streaming.EventHub) Option {
	return func(r *Registry) { r.hub = h }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry.
func New(runner Runner, validator *validation.WorkflowValidator, opts ...Option) *Registry {
	r := &Registry{
		runner:    runner,
		validator: validator,
		logger:    slog.Default(),
		defs:      make(map[string]*schema.WorkflowDefinition),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadFromStore hydrates the pool from persisted definitions.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	defs, err := r.store.ListDefinitions(ctx, store.DefinitionFilter{})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "load definitions: %v", err).WithCause(err)
	}

	r.mu.Lock()
	for _, def := range defs {
		r.defs[def.ID] = def
	}
	count := len(r.defs)
	r.mu.Unlock()

	r.logger.Info("workflow pool loaded", slog.Int("definitions", count))
	return nil
}

// Register adds a new definition to the pool. A missing ID is assigned, a
// zero version becomes 1, and validation failures reject the definition.
// Registering an ID that already exists is a CONFLICT.
func (r *Registry) Register(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeInvalidDefinition, "workflow definition is nil")
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Version <= 0 {
		def.Version = 1
	}
	if def.Status == "" {
		def.Status = schema.DefinitionStatusActive
	}
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	if err := r.validator.ValidateDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.defs[def.ID]; exists {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already registered", def.ID)
	}
	r.defs[def.ID] = def
	r.mu.Unlock()

	if err := r.persist(ctx, def); err != nil {
		return err
	}
	r.emit(ctx, def, schema.EventDefinitionRegistered)
	r.logger.InfoContext(ctx, "workflow registered",
		slog.String("workflow_id", def.ID), slog.String("name", def.Name))
	return nil
}

// Unregister removes a definition from the pool.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, exists := r.defs[id]; !exists {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	delete(r.defs, id)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteDefinition(ctx, id); err != nil {
			r.logger.WarnContext(ctx, "delete persisted definition",
				slog.String("workflow_id", id), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Get returns a copy of a registered definition.
func (r *Registry) Get(id string) (*schema.WorkflowDefinition, error) {
	r.mu.RLock()
	def, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return copyDefinition(def), nil
}

// GetAll returns copies of every registered definition.
func (r *Registry) GetAll() []*schema.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*schema.WorkflowDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, copyDefinition(def))
	}
	return out
}

// Find returns copies of all definitions matching the predicate.
func (r *Registry) Find(pred func(*schema.WorkflowDefinition) bool) []*schema.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*schema.WorkflowDefinition
	for _, def := range r.defs {
		if pred(def) {
			out = append(out, copyDefinition(def))
		}
	}
	return out
}

// FindByName returns all definitions whose name matches exactly.
func (r *Registry) FindByName(name string) []*schema.WorkflowDefinition {
	return r.Find(func(def *schema.WorkflowDefinition) bool { return def.Name == name })
}

// Update replaces a registered definition. The stored version increments by
// one regardless of the version on the incoming definition.
func (r *Registry) Update(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeInvalidDefinition, "workflow definition is nil")
	}

	r.mu.Lock()
	existing, ok := r.defs[def.ID]
	if !ok {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", def.ID)
	}
	def.Version = existing.Version + 1
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()

	if err := r.validator.ValidateDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	r.defs[def.ID] = def
	r.mu.Unlock()

	if err := r.persist(ctx, def); err != nil {
		return err
	}
	r.emit(ctx, def, schema.EventDefinitionUpdated)
	r.logger.InfoContext(ctx, "workflow updated",
		slog.String("workflow_id", def.ID), slog.Int("version", def.Version))
	return nil
}

// Execute runs a registered definition by ID.
func (r *Registry) Execute(ctx context.Context, id string, inputs map[string]any) (*schema.Execution, error) {
	def, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return r.runner.Execute(ctx, def, inputs)
}

// ExecuteAsync starts a registered definition by ID and returns the execution ID.
func (r *Registry) ExecuteAsync(ctx context.Context, id string, inputs map[string]any) (string, error) {
	def, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return r.runner.ExecuteAsync(ctx, def, inputs)
}

// ExecuteAnonymous validates and runs a definition without registering it.
// Useful for one-shot workflows assembled by the chat layer.
func (r *Registry) ExecuteAnonymous(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (*schema.Execution, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidDefinition, "workflow definition is nil")
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := r.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}
	return r.runner.Execute(ctx, def, inputs)
}

// Stats summarizes the pool contents.
type Stats struct {
	Workflows  int            `json:"workflows"`
	TotalNodes int            `json:"total_nodes"`
	TotalEdges int            `json:"total_edges"`
	ByStatus   map[string]int `json:"by_status"`
	ByNodeType map[string]int `json:"by_node_type"`
}

// Stats returns aggregate counts over the registered definitions.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Workflows:  len(r.defs),
		ByStatus:   make(map[string]int),
		ByNodeType: make(map[string]int),
	}
	for _, def := range r.defs {
		s.ByStatus[string(def.Status)]++
		s.TotalNodes += len(def.Nodes)
		s.TotalEdges += len(def.Edges)
		for _, n := range def.Nodes {
			s.ByNodeType[string(n.Type)]++
		}
	}
	return s
}

func (r *Registry) persist(ctx context.Context, def *schema.WorkflowDefinition) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveDefinition(ctx, def); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist workflow %q: %v", def.ID, err).WithCause(err)
	}
	return nil
}

func (r *Registry) emit(ctx context.Context, def *schema.WorkflowDefinition, eventType string) {
	if r.hub == nil {
		return
	}
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		WorkflowID: def.ID,
		EventType:  eventType,
		Payload: map[string]any{
			"workflow_id": def.ID,
			"name":        def.Name,
			"version":     def.Version,
		},
	})
}

// copyDefinition returns a copy whose slices and maps are detached from the
// stored definition, so callers cannot mutate the pool.
func copyDefinition(def *schema.WorkflowDefinition) *schema.WorkflowDefinition {
	cp := *def
	cp.Nodes = make([]schema.NodeDefinition, len(def.Nodes))
	copy(cp.Nodes, def.Nodes)
	cp.Edges = make([]schema.WorkflowEdge, len(def.Edges))
	copy(cp.Edges, def.Edges)
	if def.Variables != nil {
		cp.Variables = make(map[string]any, len(def.Variables))
		for k, v := range def.Variables {
			cp.Variables[k] = v
		}
	}
	return &cp
}
