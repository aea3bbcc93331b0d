// Package file provides file-based persistence: one JSON document per record
// under workflows/, schedules/ and approvals/ of a root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence"
)

const (
	workflowsDir = "workflows"
	schedulesDir = "schedules"
	approvalsDir = "approvals"
)

var errInvalidID = errors.New("id contains invalid characters")

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Workflows returns every workflow document, ordered by creation time then id.
func (fp *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	workflows, err := readAll[models.Workflow](fp.root, workflowsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		if !workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		return workflows[i].ID < workflows[j].ID
	})

	return workflows, nil
}

// WorkflowByID retrieves a workflow by its ID from the file system.
func (fp *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	var workflow models.Workflow

	err := readDocument(fp.root, workflowsDir, id, &workflow)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("WorkflowByID", id, err)
	}

	return &workflow, nil
}

// SaveWorkflow saves a workflow to the file system.
func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if err := writeDocument(fp.root, workflowsDir, workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	return nil
}

// DeleteWorkflow removes a workflow document.
func (fp *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := deleteDocument(fp.root, workflowsDir, id)
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return err
}

// Schedules returns every stored schedule.
func (fp *Persistence) Schedules(_ context.Context) ([]*models.WorkflowSchedule, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	schedules, err := readAll[models.WorkflowSchedule](fp.root, schedulesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	return schedules, nil
}

// SaveSchedule creates or replaces a schedule.
func (fp *Persistence) SaveSchedule(_ context.Context, schedule *models.WorkflowSchedule) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := writeDocument(fp.root, schedulesDir, schedule.ID, schedule); err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	return nil
}

// DeleteSchedule removes a schedule.
func (fp *Persistence) DeleteSchedule(_ context.Context, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := deleteDocument(fp.root, schedulesDir, id)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete schedule %s: %w", id, persistence.ErrScheduleNotFound)
	}

	return err
}

// SaveApproval creates or replaces an approval request.
func (fp *Persistence) SaveApproval(_ context.Context, request *models.ApprovalRequest) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := writeDocument(fp.root, approvalsDir, request.ID, request); err != nil {
		return persistence.NewApprovalError("SaveApproval", request.ID, err)
	}

	return nil
}

// ApprovalByID retrieves an approval request.
func (fp *Persistence) ApprovalByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	var request models.ApprovalRequest

	err := readDocument(fp.root, approvalsDir, id, &request)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewApprovalError("ApprovalByID", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("ApprovalByID", id, err)
	}

	return &request, nil
}

// PendingApprovals returns the approval requests still awaiting a decision.
func (fp *Persistence) PendingApprovals(_ context.Context) ([]*models.ApprovalRequest, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	all, err := readAll[models.ApprovalRequest](fp.root, approvalsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	pending := make([]*models.ApprovalRequest, 0, len(all))
	for _, request := range all {
		if request.State == models.ApprovalPending {
			pending = append(pending, request)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Deadline.Before(pending[j].Deadline)
	})

	return pending, nil
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errInvalidID
	}

	return nil
}

func documentPath(root, dir, id string) string {
	return filepath.Join(root, dir, id+".json")
}

func readDocument(root, dir, id string, out any) error {
	if err := validateID(id); err != nil {
		return err
	}

	body, err := os.ReadFile(documentPath(root, dir, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", dir, id, err)
	}

	return nil
}

// writeDocument replaces the document atomically through a rename.
func writeDocument(root, dir, id string, doc any) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(root, dir), 0750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	target := documentPath(root, dir, id)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace %s/%s: %w", dir, id, err)
	}

	return nil
}

func deleteDocument(root, dir, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	return os.Remove(documentPath(root, dir, id))
}

func readAll[T any](root, dir string) ([]*T, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(root, dir)), "*.json")
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(files))

	for _, name := range files {
		var doc T

		if err := readDocument(root, dir, strings.TrimSuffix(name, ".json"), &doc); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, err
		}

		out = append(out, &doc)
	}

	return out, nil
}
