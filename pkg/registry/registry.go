// Package registry holds the versioned set of workflow definitions the engine
// evaluates. Readers work on immutable snapshots; Load and Reload build a new
// snapshot and swap it in atomically.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/custodychain/custodyflow/pkg/metrics"
	"github.com/custodychain/custodyflow/pkg/models"
)

// Source supplies the workflow definitions a Reload installs.
type Source interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
}

// VersionStore persists the versions the registry assigns so they survive a
// restart.
type VersionStore interface {
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
}

// PendingSource lists the approval requests whose continuations still
// reference a workflow version.
type PendingSource interface {
	PendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error)
}

// LoadResult reports what a Load accepted and rejected.
type LoadResult struct {
	Generation int64
	Accepted   int
	Rejected   []*models.ConfigError
}

// Registry is safe for concurrent use. Loads are serialized; reads never block.
type Registry struct {
	logger    *slog.Logger
	validator *Validator
	source    Source
	versions  VersionStore
	pending   PendingSource
	metrics   *metrics.Collector

	mu        sync.Mutex
	sequence  map[string]int
	nextSeq   int
	listeners []func(*Snapshot)

	current atomic.Pointer[Snapshot]
}

// Option configures a Registry.
type Option func(*Registry)

// WithSource sets the source Reload pulls from.
func WithSource(source Source) Option {
	return func(r *Registry) {
		r.source = source
	}
}

// WithVersionStore writes bumped versions back to store on Reload.
func WithVersionStore(store VersionStore) Option {
	return func(r *Registry) {
		r.versions = store
	}
}

// WithRetention lets Reload drop replaced versions that no pending approval
// in source references. Without it every replaced version is kept.
func WithRetention(source PendingSource) Option {
	return func(r *Registry) {
		r.pending = source
	}
}

// WithMetrics records load outcomes on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Registry) {
		r.metrics = collector
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:    logger.With("module", "workflow_registry"),
		validator: NewValidator(),
		sequence:  make(map[string]int),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.current.Store(emptySnapshot())

	return r
}

// OnSwap registers fn to be called with every newly installed snapshot.
func (r *Registry) OnSwap(fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, fn)
}

// Load validates workflows and installs them as the new snapshot, replacing the
// previous definitions. Invalid workflows are rejected and excluded; the rest
// are installed. Replaced versions stay retained.
func (r *Registry) Load(workflows []*models.Workflow) LoadResult {
	return r.load(workflows, nil)
}

// load installs workflows. A non-nil pinned set limits the replaced versions
// carried over to the pinned ones and those current in the previous snapshot.
func (r *Registry) load(workflows []*models.Workflow, pinned map[models.VersionKey]bool) LoadResult {
	r.mu.Lock()

	previous := r.current.Load()
	next := &Snapshot{
		Generation: previous.Generation + 1,
		byID:       make(map[string]*models.Workflow, len(workflows)),
		active:     make(map[models.TriggerType][]*models.Workflow),
		versions:   make(map[models.VersionKey]*models.Workflow, len(previous.versions)+len(workflows)),
		sequence:   make(map[string]int, len(workflows)),
	}

	pruned := 0

	for key, w := range previous.versions {
		if pinned != nil && !pinned[key] && !isCurrent(previous, key) {
			pruned++

			continue
		}

		next.versions[key] = w
	}

	for _, incoming := range workflows {
		if incoming == nil {
			continue
		}

		if _, dup := next.byID[incoming.ID]; dup {
			cfgErr := &models.ConfigError{WorkflowID: incoming.ID}
			cfgErr.Add("duplicate workflow id")
			next.rejected = append(next.rejected, cfgErr)

			continue
		}

		if err := r.validator.Validate(incoming); err != nil {
			cfgErr, _ := err.(*models.ConfigError)
			next.rejected = append(next.rejected, cfgErr)

			continue
		}

		w := incoming.Clone()
		w.Version = nextVersion(previous.byID[w.ID], w)

		seq, seen := r.sequence[w.ID]
		if !seen {
			seq = r.nextSeq
			r.sequence[w.ID] = seq
			r.nextSeq++
		}

		next.sequence[w.ID] = seq
		next.byID[w.ID] = w
		next.all = append(next.all, w)
		next.versions[w.Key()] = w

		if w.IsActive {
			next.active[w.TriggerType] = append(next.active[w.TriggerType], w)
		}
	}

	sort.SliceStable(next.all, func(i, j int) bool {
		return next.sequence[next.all[i].ID] < next.sequence[next.all[j].ID]
	})

	for _, candidates := range next.active {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Priority != candidates[j].Priority {
				return candidates[i].Priority > candidates[j].Priority
			}

			return next.sequence[candidates[i].ID] < next.sequence[candidates[j].ID]
		})
	}

	r.current.Store(next)
	listeners := append([]func(*Snapshot){}, r.listeners...)
	r.mu.Unlock()

	for _, cfgErr := range next.rejected {
		r.logger.Error("Workflow rejected", "workflow_id", cfgErr.WorkflowID, "problems", cfgErr.Problems)
	}

	active := 0
	for _, candidates := range next.active {
		active += len(candidates)
	}

	r.metrics.RecordRegistryLoad(active, len(next.all)-active, len(next.rejected))
	r.logger.Info("Registry snapshot installed",
		"generation", next.Generation,
		"workflows", len(next.all),
		"active", active,
		"rejected", len(next.rejected),
		"pruned_versions", pruned)

	for _, fn := range listeners {
		fn(next)
	}

	return LoadResult{Generation: next.Generation, Accepted: len(next.all), Rejected: next.rejected}
}

// Reload pulls definitions from the configured source and loads them. When the
// source fails, the current snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) (LoadResult, error) {
	if r.source == nil {
		return LoadResult{}, ErrNoSource
	}

	workflows, err := r.source.Workflows(ctx)
	r.metrics.RecordRegistryReload(err)

	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to read workflows, keeping current snapshot", "error", err)

		return LoadResult{}, fmt.Errorf("reading workflows: %w", err)
	}

	result := r.load(workflows, r.pinnedVersions(ctx))
	r.persistVersions(ctx, workflows)

	return result, nil
}

// pinnedVersions returns the versions referenced by pending approvals, or nil
// when they are unknown.
func (r *Registry) pinnedVersions(ctx context.Context) map[models.VersionKey]bool {
	if r.pending == nil {
		return nil
	}

	requests, err := r.pending.PendingApprovals(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to list pending approvals, keeping every workflow version", "error", err)

		return nil
	}

	pinned := make(map[models.VersionKey]bool, len(requests))
	for _, request := range requests {
		pinned[models.VersionKey{
			WorkflowID: request.Continuation.WorkflowID,
			Version:    request.Continuation.WorkflowVersion,
		}] = true
	}

	return pinned
}

// persistVersions saves the installed version of every workflow whose stored
// copy carries a different one. A stored copy that changed since it was read
// is left to the next Reload.
func (r *Registry) persistVersions(ctx context.Context, read []*models.Workflow) {
	if r.versions == nil {
		return
	}

	snapshot := r.Snapshot()

	for _, w := range read {
		if w == nil {
			continue
		}

		installed, ok := snapshot.Get(w.ID)
		if !ok || installed.Version == w.Version || !sameDefinition(installed, w) {
			continue
		}

		stored, err := r.versions.WorkflowByID(ctx, w.ID)
		if err != nil || stored == nil || !sameDefinition(stored, installed) {
			continue
		}

		bumped := stored.Clone()
		bumped.Version = installed.Version

		if err := r.versions.SaveWorkflow(ctx, bumped); err != nil {
			r.logger.ErrorContext(ctx, "Failed to persist workflow version",
				"workflow_id", w.ID,
				"version", installed.Version,
				"error", err)

			continue
		}

		r.logger.DebugContext(ctx, "Workflow version persisted", "workflow_id", w.ID, "version", installed.Version)
	}
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// CandidatesFor returns the active workflows for triggerType, ordered by
// priority descending then registration order.
func (r *Registry) CandidatesFor(triggerType models.TriggerType) []*models.Workflow {
	return r.Snapshot().CandidatesFor(triggerType)
}

// All returns every loaded workflow, active or not, in registration order.
func (r *Registry) All() []*models.Workflow {
	return r.Snapshot().All()
}

// Get returns the current definition of a workflow.
func (r *Registry) Get(id string) (*models.Workflow, bool) {
	return r.Snapshot().Get(id)
}

// Version returns a specific version of a workflow, including versions that
// were replaced by later loads.
func (r *Registry) Version(id string, version int) (*models.Workflow, bool) {
	return r.Snapshot().Version(id, version)
}

// Rejected returns the configuration errors of the current snapshot.
func (r *Registry) Rejected() []*models.ConfigError {
	return r.Snapshot().Rejected()
}

func isCurrent(s *Snapshot, key models.VersionKey) bool {
	w, ok := s.byID[key.WorkflowID]

	return ok && w.Version == key.Version
}

func nextVersion(previous, w *models.Workflow) int {
	if previous == nil {
		if w.Version < 1 {
			return 1
		}

		return w.Version
	}

	if sameDefinition(previous, w) {
		return previous.Version
	}

	if w.Version > previous.Version {
		return w.Version
	}

	return previous.Version + 1
}

func sameDefinition(a, b *models.Workflow) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		a.Priority == b.Priority &&
		a.IsActive == b.IsActive &&
		a.TriggerType == b.TriggerType &&
		reflect.DeepEqual(a.TriggerConfig, b.TriggerConfig) &&
		reflect.DeepEqual(a.Conditions, b.Conditions) &&
		reflect.DeepEqual(a.Actions, b.Actions)
}
