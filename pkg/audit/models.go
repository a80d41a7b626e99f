// Package audit records who did what to selection groups, reduction tasks,
// and publications, with a retention sweep and a read API for admin review.
package audit

import "time"

// Outcome values recorded on events.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeDenied   = "denied"
	OutcomeRejected = "rejected"
)

// Event is the GORM model for one audited action.
type Event struct {
	ID           string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ClientID     string    `gorm:"column:client_id;index:idx_audit_client_time,priority:1;default:default;not null"`
	Actor        string    `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	Action       string    `gorm:"column:action;not null"`
	ResourceType string    `gorm:"column:resource_type;index:idx_audit_resource"`
	ResourceID   string    `gorm:"column:resource_id;index:idx_audit_resource,priority:2"`
	Outcome      string    `gorm:"column:outcome;not null"`
	StatusCode   int       `gorm:"column:status_code"`
	RequestID    string    `gorm:"column:request_id;index"`
	Detail       string    `gorm:"column:detail"`
	CreatedAt    time.Time `gorm:"column:created_at;index:idx_audit_client_time,priority:2;index:idx_audit_actor_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "audit_events" }
