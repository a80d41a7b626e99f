package publication

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store provides database operations for publication requests.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the publication request table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Request{}); err != nil {
		return fmt.Errorf("auto-migrate publication requests: %w", err)
	}
	return nil
}

// Get retrieves a request by ID. Returns nil, nil if not found.
func (s *Store) Get(requestID string) (*Request, error) {
	var req Request
	err := s.db.First(&req, "id = ?", requestID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get publication request: %w", err)
	}
	return &req, nil
}

// ActiveForItem returns the pending request for a content item, or nil.
func (s *Store) ActiveForItem(contentItemID string) (*Request, error) {
	var req Request
	err := s.db.
		Where("content_item_id = ? AND status = ?", contentItemID, StatusPending).
		First(&req).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find active publication: %w", err)
	}
	return &req, nil
}

// ListByItem returns all requests for a content item, newest first.
func (s *Store) ListByItem(contentItemID string) ([]Request, error) {
	var reqs []Request
	err := s.db.
		Where("content_item_id = ?", contentItemID).
		Order("created_at DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("list publication requests: %w", err)
	}
	return reqs, nil
}

// settle moves a pending request to a terminal status. The WHERE clause on
// status makes concurrent settlements race-safe; losing the race is not an
// error, the request is simply already settled.
func (s *Store) settle(requestID string, to RequestStatus, message string) (bool, error) {
	now := time.Now()
	result := s.db.Model(&Request{}).
		Where("id = ? AND status = ?", requestID, StatusPending).
		Updates(map[string]any{
			"status":         to,
			"status_message": message,
			"finished_at":    &now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("settle publication request: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
