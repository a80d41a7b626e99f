package selection

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tabulahq/reducer/pkg/hierarchy"
)

// GroupStore provides database operations for selection groups and their
// disclaimer acknowledgments.
type GroupStore struct {
	db *gorm.DB
}

// NewGroupStore creates a new GroupStore.
func NewGroupStore(db *gorm.DB) *GroupStore {
	return &GroupStore{db: db}
}

// AutoMigrate creates or updates the selection group tables.
func (s *GroupStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&SelectionGroup{}, &GroupAcknowledgment{}); err != nil {
		return fmt.Errorf("auto-migrate selection tables: %w", err)
	}
	return nil
}

// Create inserts a new selection group.
func (s *GroupStore) Create(group *SelectionGroup) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if err := s.db.Create(group).Error; err != nil {
		return fmt.Errorf("create selection group: %w", err)
	}
	return nil
}

// Get retrieves a group by ID. Returns nil, nil if not found.
func (s *GroupStore) Get(groupID string) (*SelectionGroup, error) {
	var group SelectionGroup
	err := s.db.First(&group, "id = ?", groupID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get selection group: %w", err)
	}
	return &group, nil
}

// ListByItem returns all groups of a content item ordered by name.
func (s *GroupStore) ListByItem(contentItemID string) ([]SelectionGroup, error) {
	var groups []SelectionGroup
	if err := s.db.Where("content_item_id = ?", contentItemID).
		Order("name ASC").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list selection groups: %w", err)
	}
	return groups, nil
}

// Delete removes a group and its acknowledgments. The caller is responsible
// for the destruction preconditions (no pending task, no active publication).
func (s *GroupStore) Delete(groupID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&GroupAcknowledgment{}).Error; err != nil {
			return fmt.Errorf("delete acknowledgments: %w", err)
		}
		result := tx.Where("id = ?", groupID).Delete(&SelectionGroup{})
		if result.Error != nil {
			return fmt.Errorf("delete selection group: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// SetSuspended flips the suspension flag on a group.
func (s *GroupStore) SetSuspended(groupID string, suspended bool) error {
	result := s.db.Model(&SelectionGroup{}).Where("id = ?", groupID).
		Update("is_suspended", suspended)
	if result.Error != nil {
		return fmt.Errorf("set suspended: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetNoContent clears a group's selection and instance URL in one update.
// Used for the empty-selection path, which queues no derivation work.
func (s *GroupStore) SetNoContent(tx *gorm.DB, groupID string) error {
	result := tx.Model(&SelectionGroup{}).Where("id = ?", groupID).
		Updates(map[string]any{
			"selected_value_ids":   hierarchy.IDList{},
			"content_instance_url": "",
			"is_master":            false,
		})
	if result.Error != nil {
		return fmt.Errorf("clear group content: %w", result.Error)
	}
	return nil
}

// Acknowledge records that a user accepted the disclaimer for the group's
// current content. Re-acknowledging refreshes the timestamp.
func (s *GroupStore) Acknowledge(groupID, userID string) error {
	ack := GroupAcknowledgment{
		ID:         uuid.New().String(),
		GroupID:    groupID,
		UserID:     userID,
		AcceptedAt: time.Now(),
	}
	err := s.db.Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&GroupAcknowledgment{}).Error
	if err != nil {
		return fmt.Errorf("clear prior acknowledgment: %w", err)
	}
	if err := s.db.Create(&ack).Error; err != nil {
		return fmt.Errorf("record acknowledgment: %w", err)
	}
	return nil
}

// AcknowledgedUsers returns the user IDs that have accepted the disclaimer
// for the group's current content.
func (s *GroupStore) AcknowledgedUsers(groupID string) ([]string, error) {
	var users []string
	err := s.db.Model(&GroupAcknowledgment{}).
		Where("group_id = ?", groupID).Pluck("user_id", &users).Error
	if err != nil {
		return nil, fmt.Errorf("list acknowledged users: %w", err)
	}
	return users, nil
}

// ClearAcknowledgments removes all disclaimer flags of a group inside the
// given transaction. Called by go-live promotion.
func ClearAcknowledgments(tx *gorm.DB, groupID string) error {
	if err := tx.Where("group_id = ?", groupID).Delete(&GroupAcknowledgment{}).Error; err != nil {
		return fmt.Errorf("clear acknowledgments: %w", err)
	}
	return nil
}
