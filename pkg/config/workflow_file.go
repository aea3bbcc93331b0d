// Package config loads workflow definition files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodychain/custodyflow/pkg/models"
)

// ErrEmptyWorkflowFile is returned for a file that parses but holds no workflows.
var ErrEmptyWorkflowFile = errors.New("workflow file holds no workflows")

// WorkflowFile is the document shape of a workflow file.
type WorkflowFile struct {
	Workflows []*models.Workflow `json:"workflows"`
}

// LoadWorkflowFile reads a workflow file. JSON files hold either an array of
// workflows or a WorkflowFile object; .yaml and .yml files hold the same
// shapes with the same snake_case keys.
func LoadWorkflowFile(path string) ([]*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML workflow file %s: %w", path, err)
		}
	}

	workflows, err := decodeWorkflows(bytes.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow file %s: %w", path, err)
	}

	if len(workflows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyWorkflowFile, path)
	}

	return workflows, nil
}

func decodeWorkflows(data []byte) ([]*models.Workflow, error) {
	if bytes.HasPrefix(data, []byte("[")) {
		var workflows []*models.Workflow

		err := json.Unmarshal(data, &workflows)

		return workflows, err
	}

	var file WorkflowFile

	err := json.Unmarshal(data, &file)

	return file.Workflows, err
}

// yamlToJSON re-encodes a YAML document as JSON so that workflows decode
// through their json tags.
func yamlToJSON(data []byte) ([]byte, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, err
	}

	return json.Marshal(document)
}
