// Package reduction implements the content reduction pipeline: the task
// ledger, the derivation worker, the dispatcher that schedules work, and the
// go-live monitor that atomically promotes completed reductions.
package reduction

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tabulahq/reducer/pkg/hierarchy"
)

// TaskStatus is the lifecycle state of a reduction task.
type TaskStatus string

const (
	// StatusValidating is the initial state of every task.
	StatusValidating TaskStatus = "validating"
	// StatusProcessing means the worker is deriving (or has derived) output.
	StatusProcessing TaskStatus = "processing"
	// StatusLive means the task's output is the group's active content.
	StatusLive TaskStatus = "live"
	// StatusReplaced means a later task for the same group went live.
	StatusReplaced TaskStatus = "replaced"
	// StatusCanceled means the task was stopped before going live.
	StatusCanceled TaskStatus = "canceled"
	// StatusFailed means derivation failed; the group was left unchanged.
	StatusFailed TaskStatus = "failed"
)

// transitions is the closed transition table. Every status write is checked
// against it; there is no other way for a task to change state.
var transitions = map[TaskStatus][]TaskStatus{
	StatusValidating: {StatusProcessing, StatusCanceled, StatusFailed},
	StatusProcessing: {StatusLive, StatusCanceled, StatusFailed},
	StatusLive:       {StatusReplaced},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to TaskStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions except
// the live -> replaced demotion.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusLive, StatusReplaced, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// IsCancelable reports whether a task in this status accepts a cancel request.
func (s TaskStatus) IsCancelable() bool {
	return s == StatusValidating || s == StatusProcessing
}

// cancelableStatuses is used in store queries.
var cancelableStatuses = []TaskStatus{StatusValidating, StatusProcessing}

// Outcome codes recorded on tasks that did not go live.
const (
	OutcomeSourceUnavailable = "source_unavailable"
	OutcomeDerivationFailed  = "derivation_failed"
	OutcomeCopyFailed        = "copy_failed"
	OutcomeInterrupted       = "interrupted"
	OutcomeGroupDeleted      = "group_deleted"
)

// Criteria is the immutable snapshot of the selection a task derives for,
// stored as JSON in a text column.
type Criteria struct {
	IsMaster bool             `json:"isMaster"`
	ValueIDs hierarchy.IDList `json:"valueIds"`
}

// Scan implements the sql.Scanner interface for Criteria.
func (c *Criteria) Scan(value any) error {
	if value == nil {
		*c = Criteria{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Criteria: %T", value)
	}
	if len(bytes) == 0 {
		*c = Criteria{}
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// Value implements the driver.Valuer interface for Criteria.
func (c Criteria) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Task is the GORM model for one reduction attempt. Records are append-only
// except for status transitions.
type Task struct {
	ID                   string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	SelectionGroupID     string     `gorm:"column:selection_group_id;index:idx_task_group,priority:1;not null"`
	ContentItemID        string     `gorm:"column:content_item_id;index:idx_task_content;not null"`
	MasterFilePath       string     `gorm:"column:master_file_path;not null"`
	MasterChecksum       string     `gorm:"column:master_checksum;not null"`
	SelectionCriteria    Criteria   `gorm:"column:selection_criteria;type:text"`
	Status               TaskStatus `gorm:"column:status;index:idx_task_group,priority:2;index:idx_task_status;not null;default:validating"`
	StatusMessage        string     `gorm:"column:status_message"`
	OutcomeCode          string     `gorm:"column:outcome_code"`
	OutputPath           string     `gorm:"column:output_path"`
	PublicationRequestID string     `gorm:"column:publication_request_id;index:idx_task_publication"`
	RequestedBy          string     `gorm:"column:requested_by"`
	CreatedAt            time.Time  `gorm:"column:created_at;not null"`
	StartedAt            *time.Time `gorm:"column:started_at"`
	FinishedAt           *time.Time `gorm:"column:finished_at"`
	DurationMs           int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (Task) TableName() string { return "content_reduction_tasks" }

// IsTerminal reports whether the task has reached a terminal status.
func (t *Task) IsTerminal() bool { return t.Status.IsTerminal() }
