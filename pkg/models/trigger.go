package models

import (
	"fmt"
	"time"
)

// Snapshot keys carrying the particulars of an event that trigger configs match against.
const (
	SnapshotMetric      = "metric"
	SnapshotValue       = "value"
	SnapshotEventType   = "event_type"
	SnapshotTriggerName = "trigger_name"
	SnapshotWorkflowID  = "workflow_id"
	SnapshotEntityID    = "entity_id"
	SnapshotFromRole    = "from_role"
	SnapshotToRole      = "to_role"
)

// TriggerEvent is the unit the engine consumes.
type TriggerEvent struct {
	ID             string         `json:"id"`
	TriggerType    TriggerType    `json:"trigger_type"    validate:"required"`
	OccurredAt     time.Time      `json:"occurred_at"`
	EntitySnapshot map[string]any `json:"entity_snapshot"`
	CorrelationID  string         `json:"correlation_id"  validate:"required"`
	Source         string         `json:"source,omitempty"`
}

// EntityID returns the identifier of the subject the event is about. It falls
// back to the correlation id, which ties an event to its subject.
func (e TriggerEvent) EntityID() string {
	if id, ok := e.EntitySnapshot[SnapshotEntityID]; ok && id != nil {
		return fmt.Sprint(id)
	}

	return e.CorrelationID
}

// IoTTriggerConfig filters IOT_ALERT events by metric and, optionally, by a
// comparison of the reading value against a threshold.
type IoTTriggerConfig struct {
	Metric     string   `json:"metric"`
	Comparison Operator `json:"comparison,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

// CustodyTriggerConfig filters CUSTODY_EVENT events by their event type and,
// for transfers, by the roles of the releasing and receiving parties.
type CustodyTriggerConfig struct {
	EventType string `json:"event_type,omitempty"`
	FromRole  string `json:"from_role,omitempty"`
	ToRole    string `json:"to_role,omitempty"`
}

// ManualTriggerConfig filters MANUAL events by trigger name.
type ManualTriggerConfig struct {
	Name string `json:"name,omitempty"`
}

// ScheduleTriggerConfig carries the cron expression of a SCHEDULE workflow.
type ScheduleTriggerConfig struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// IoTConfig reads the trigger config of an IOT_ALERT workflow.
func (w *Workflow) IoTConfig() IoTTriggerConfig {
	cfg := IoTTriggerConfig{}
	cfg.Metric, _ = w.TriggerConfig["metric"].(string)

	if cmp, ok := w.TriggerConfig["comparison"].(string); ok {
		cfg.Comparison = Operator(cmp)
	}

	switch v := w.TriggerConfig["threshold"].(type) {
	case float64:
		cfg.Threshold = &v
	case int:
		f := float64(v)
		cfg.Threshold = &f
	case int64:
		f := float64(v)
		cfg.Threshold = &f
	}

	return cfg
}

// CustodyConfig reads the trigger config of a CUSTODY_EVENT workflow.
func (w *Workflow) CustodyConfig() CustodyTriggerConfig {
	cfg := CustodyTriggerConfig{}
	cfg.EventType, _ = w.TriggerConfig["event_type"].(string)
	cfg.FromRole, _ = w.TriggerConfig["from_role"].(string)
	cfg.ToRole, _ = w.TriggerConfig["to_role"].(string)

	return cfg
}

// ManualConfig reads the trigger config of a MANUAL workflow.
func (w *Workflow) ManualConfig() ManualTriggerConfig {
	name, _ := w.TriggerConfig["name"].(string)

	return ManualTriggerConfig{Name: name}
}

// ScheduleConfig reads the trigger config of a SCHEDULE workflow.
func (w *Workflow) ScheduleConfig() ScheduleTriggerConfig {
	cron, _ := w.TriggerConfig["cron"].(string)
	tz, _ := w.TriggerConfig["timezone"].(string)

	return ScheduleTriggerConfig{Cron: cron, Timezone: tz}
}
