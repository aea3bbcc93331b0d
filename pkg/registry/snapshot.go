package registry

import (
	"errors"

	"github.com/custodychain/custodyflow/pkg/models"
)

// ErrNoSource is returned by Reload when the registry has no source.
var ErrNoSource = errors.New("registry has no workflow source")

// Snapshot is an immutable view of the loaded workflows. Workflows reachable
// from a snapshot must not be modified.
type Snapshot struct {
	Generation int64

	all      []*models.Workflow
	byID     map[string]*models.Workflow
	active   map[models.TriggerType][]*models.Workflow
	versions map[models.VersionKey]*models.Workflow
	sequence map[string]int
	rejected []*models.ConfigError
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		byID:     map[string]*models.Workflow{},
		active:   map[models.TriggerType][]*models.Workflow{},
		versions: map[models.VersionKey]*models.Workflow{},
		sequence: map[string]int{},
	}
}

// CandidatesFor returns the active workflows for triggerType in evaluation order.
func (s *Snapshot) CandidatesFor(triggerType models.TriggerType) []*models.Workflow {
	candidates := s.active[triggerType]
	if len(candidates) == 0 {
		return nil
	}

	return append([]*models.Workflow(nil), candidates...)
}

// All returns every workflow in registration order.
func (s *Snapshot) All() []*models.Workflow {
	return append([]*models.Workflow(nil), s.all...)
}

// Get returns the workflow with id.
func (s *Snapshot) Get(id string) (*models.Workflow, bool) {
	w, ok := s.byID[id]

	return w, ok
}

// Version returns one retained version of a workflow.
func (s *Snapshot) Version(id string, version int) (*models.Workflow, bool) {
	w, ok := s.versions[models.VersionKey{WorkflowID: id, Version: version}]

	return w, ok
}

// Rejected returns the workflows refused by the load that built this snapshot.
func (s *Snapshot) Rejected() []*models.ConfigError {
	return append([]*models.ConfigError(nil), s.rejected...)
}
