package engine

import (
	"fmt"

	"github.com/custodychain/custodyflow/pkg/conditions"
	"github.com/custodychain/custodyflow/pkg/models"
)

// TriggerMatches reports whether the trigger config of w accepts the
// particulars of event. Candidates come from the registry by trigger type;
// this narrows them to the workflows configured for this kind of event, so an
// IoT workflow for TEMP_HIGH ignores a BATTERY_LOW alert.
func TriggerMatches(w *models.Workflow, event models.TriggerEvent) bool {
	if w.TriggerType != event.TriggerType {
		return false
	}

	snapshot := event.EntitySnapshot

	switch w.TriggerType {
	case models.TriggerIoTAlert:
		cfg := w.IoTConfig()
		if cfg.Metric != "" && !snapshotEquals(snapshot, models.SnapshotMetric, cfg.Metric) {
			return false
		}

		if cfg.Comparison == "" || cfg.Threshold == nil {
			return true
		}

		return compareReading(snapshot, cfg.Comparison, *cfg.Threshold)

	case models.TriggerCustodyEvent:
		cfg := w.CustodyConfig()

		return optionalEquals(snapshot, models.SnapshotEventType, cfg.EventType) &&
			optionalEquals(snapshot, models.SnapshotFromRole, cfg.FromRole) &&
			optionalEquals(snapshot, models.SnapshotToRole, cfg.ToRole)

	case models.TriggerManual:
		return optionalEquals(snapshot, models.SnapshotTriggerName, w.ManualConfig().Name)

	case models.TriggerSchedule:
		return snapshotEquals(snapshot, models.SnapshotWorkflowID, w.ID)

	default:
		return false
	}
}

func optionalEquals(snapshot map[string]any, key, want string) bool {
	return want == "" || snapshotEquals(snapshot, key, want)
}

func snapshotEquals(snapshot map[string]any, key, want string) bool {
	got, ok := snapshot[key]
	if !ok || got == nil {
		return false
	}

	return fmt.Sprint(got) == want
}

func compareReading(snapshot map[string]any, comparison models.Operator, threshold float64) bool {
	reading, ok := conditions.Resolve(snapshot, models.SnapshotValue)
	if !ok {
		return false
	}

	cmp, ok := conditions.Compare(conditions.Of(reading), conditions.Of(threshold))
	if !ok {
		return false
	}

	switch comparison {
	case models.OperatorGreaterThan:
		return cmp > 0
	case models.OperatorLessThan:
		return cmp < 0
	case models.OperatorEquals:
		return cmp == 0
	default:
		return false
	}
}
