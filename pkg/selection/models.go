// Package selection owns the mutable record of which hierarchy values each
// authorized user group currently sees: the SelectionGroup, plus the
// disclaimer acknowledgments that are reset whenever a group's content
// changes.
package selection

import (
	"time"

	"github.com/tabulahq/reducer/pkg/hierarchy"
)

// SelectionGroup is the GORM model for one access group of a content item.
//
// Invariants: a master group has an empty selected set and its instance URL
// points at the master file. A non-master group's instance URL points at the
// most recent successfully produced reduction for exactly its selected set,
// or is empty if none has ever succeeded. Both fields change together, only
// through update-selections or go-live.
type SelectionGroup struct {
	ID                 string           `gorm:"primaryKey;column:id;type:varchar(36)"`
	ContentItemID      string           `gorm:"column:content_item_id;index:idx_group_content;not null"`
	Name               string           `gorm:"column:name;not null"`
	IsMaster           bool             `gorm:"column:is_master;not null;default:false"`
	SelectedValueIDs   hierarchy.IDList `gorm:"column:selected_value_ids;type:text"`
	ContentInstanceURL string           `gorm:"column:content_instance_url"`
	IsSuspended        bool             `gorm:"column:is_suspended;not null;default:false"`
	CreatedAt          time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (SelectionGroup) TableName() string { return "selection_groups" }

// GroupAcknowledgment records that a user has accepted the disclaimer for the
// group's current content. Cleared at go-live so users re-acknowledge.
type GroupAcknowledgment struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	GroupID    string    `gorm:"column:group_id;index:idx_ack_group;uniqueIndex:idx_ack_group_user,priority:1;not null"`
	UserID     string    `gorm:"column:user_id;uniqueIndex:idx_ack_group_user,priority:2;not null"`
	AcceptedAt time.Time `gorm:"column:accepted_at;not null"`
}

// TableName returns the GORM table name.
func (GroupAcknowledgment) TableName() string { return "group_acknowledgments" }
