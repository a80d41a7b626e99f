// Package publication implements go-live coordination across all selection
// groups of a content item: one request fans out into a reduction task per
// group and the request's status rolls up from its children.
package publication

import "time"

// RequestStatus is the lifecycle state of a publication request.
type RequestStatus string

const (
	// StatusPending means child tasks are still running. A pending request
	// freezes selection changes for the content item.
	StatusPending RequestStatus = "pending"
	// StatusConfirmed means the fanout finished and at least one group went
	// live with new content.
	StatusConfirmed RequestStatus = "confirmed"
	// StatusRejected means every child task failed; no group changed.
	StatusRejected RequestStatus = "rejected"
	// StatusCanceled means an operator withdrew the request.
	StatusCanceled RequestStatus = "canceled"
)

// IsTerminal reports whether the request can still change state.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusRejected || s == StatusCanceled
}

// Request is the GORM model for one content publication request.
type Request struct {
	ID            string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	ContentItemID string        `gorm:"column:content_item_id;index:idx_pub_item;not null"`
	Status        RequestStatus `gorm:"column:status;index:idx_pub_status;not null;default:pending"`
	StatusMessage string        `gorm:"column:status_message"`
	RequestedBy   string        `gorm:"column:requested_by"`
	TaskCount     int           `gorm:"column:task_count;not null;default:0"`
	CreatedAt     time.Time     `gorm:"column:created_at;not null"`
	FinishedAt    *time.Time    `gorm:"column:finished_at"`
}

// TableName returns the GORM table name.
func (Request) TableName() string { return "content_publication_requests" }
