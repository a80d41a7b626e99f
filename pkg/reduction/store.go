package reduction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tabulahq/reducer/pkg/fault"
)

// TaskStore provides database operations for the reduction task ledger.
// Status writes go through the transition table; illegal transitions are
// rejected as conflicts.
type TaskStore struct {
	db *gorm.DB
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// AutoMigrate creates or updates the reduction task table.
func (s *TaskStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Task{}); err != nil {
		return fmt.Errorf("auto-migrate reduction tasks: %w", err)
	}
	return nil
}

// Create inserts a new task in Validating. The ledger admits at most one
// cancelable task per selection group; a second concurrent creation fails
// with PreconditionFailed.
func (s *TaskStore) Create(task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.Status = StatusValidating
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&Task{}).
			Where("selection_group_id = ? AND status IN ?", task.SelectionGroupID, cancelableStatuses).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("check in-flight tasks: %w", err)
		}
		if count > 0 {
			return fault.New(fault.CodePreconditionFailed,
				"group %s already has a reduction in flight", task.SelectionGroupID)
		}
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create reduction task: %w", err)
		}
		return nil
	})
}

// CreateAll inserts a batch of tasks in Validating inside the caller's
// transaction. Used by the publication fanout so the request record and its
// child tasks commit together. The per-group in-flight guard applies to each
// task.
func (s *TaskStore) CreateAll(tx *gorm.DB, tasks []*Task) error {
	now := time.Now()
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.New().String()
		}
		task.Status = StatusValidating
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}

		var count int64
		err := tx.Model(&Task{}).
			Where("selection_group_id = ? AND status IN ?", task.SelectionGroupID, cancelableStatuses).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("check in-flight tasks: %w", err)
		}
		if count > 0 {
			return fault.New(fault.CodePreconditionFailed,
				"group %s already has a reduction in flight", task.SelectionGroupID)
		}
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create reduction task: %w", err)
		}
	}
	return nil
}

// Get retrieves a task by ID. Returns nil, nil if not found.
func (s *TaskStore) Get(taskID string) (*Task, error) {
	var task Task
	err := s.db.First(&task, "id = ?", taskID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get reduction task: %w", err)
	}
	return &task, nil
}

// CancelableForGroup returns the group's single in-flight task, or nil.
func (s *TaskStore) CancelableForGroup(groupID string) (*Task, error) {
	var task Task
	err := s.db.Where("selection_group_id = ? AND status IN ?", groupID, cancelableStatuses).
		First(&task).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find in-flight task: %w", err)
	}
	return &task, nil
}

// LiveForGroup returns the group's current Live task, or nil.
func (s *TaskStore) LiveForGroup(groupID string) (*Task, error) {
	return s.liveForGroup(s.db, groupID)
}

// liveForGroup is the tx-scoped lookup so callers already inside a
// transaction do not read through a second connection.
func (s *TaskStore) liveForGroup(tx *gorm.DB, groupID string) (*Task, error) {
	var task Task
	err := tx.Where("selection_group_id = ? AND status = ?", groupID, StatusLive).
		First(&task).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find live task: %w", err)
	}
	return &task, nil
}

// LatestForGroup returns the group's most recently created task, or nil.
func (s *TaskStore) LatestForGroup(groupID string) (*Task, error) {
	var task Task
	err := s.db.Where("selection_group_id = ?", groupID).
		Order("created_at DESC").First(&task).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest task: %w", err)
	}
	return &task, nil
}

// MasterHistoryExists reports whether the group ever ran a task that carried
// master hierarchy metadata. Promotion back to master requires one to seed
// audit history.
func (s *TaskStore) MasterHistoryExists(groupID string) (bool, error) {
	var count int64
	err := s.db.Model(&Task{}).
		Where("selection_group_id = ? AND selection_criteria LIKE ?", groupID, `%"isMaster":true%`).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check master history: %w", err)
	}
	return count > 0, nil
}

// transition performs a guarded status update. The WHERE clause carries the
// expected source statuses, so a concurrent writer losing the race affects
// zero rows and gets a Conflict instead of clobbering the newer status.
func (s *TaskStore) transition(tx *gorm.DB, taskID string, from []TaskStatus, to TaskStatus, updates map[string]any) error {
	for _, f := range from {
		if !CanTransition(f, to) {
			return fmt.Errorf("illegal transition %s -> %s", f, to)
		}
	}
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to

	result := tx.Model(&Task{}).
		Where("id = ? AND status IN ?", taskID, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("transition task to %s: %w", to, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.CodeConflict, "task %s is no longer in %v", taskID, from)
	}
	return nil
}

// MarkProcessing transitions Validating -> Processing.
func (s *TaskStore) MarkProcessing(taskID string) error {
	now := time.Now()
	return s.transition(s.db, taskID, []TaskStatus{StatusValidating}, StatusProcessing,
		map[string]any{"started_at": now})
}

// RecordOutput stores the derived output path on a Processing task. This is
// not a status transition; the task stays Processing until the monitor
// promotes it.
func (s *TaskStore) RecordOutput(taskID, outputPath string, duration time.Duration) error {
	result := s.db.Model(&Task{}).
		Where("id = ? AND status = ?", taskID, StatusProcessing).
		Updates(map[string]any{
			"output_path": outputPath,
			"duration_ms": duration.Milliseconds(),
		})
	if result.Error != nil {
		return fmt.Errorf("record task output: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.New(fault.CodeConflict, "task %s is not processing", taskID)
	}
	return nil
}

// MarkFailed transitions an in-flight task to Failed with an outcome code
// and a human-readable message.
func (s *TaskStore) MarkFailed(taskID, outcomeCode, message string) error {
	now := time.Now()
	return s.transition(s.db, taskID, cancelableStatuses, StatusFailed, map[string]any{
		"outcome_code":   outcomeCode,
		"status_message": message,
		"finished_at":    now,
	})
}

// MarkCanceled transitions an in-flight task to Canceled. A task that has
// already reached a terminal status is left untouched and the call fails
// with NothingToCancel.
func (s *TaskStore) MarkCanceled(taskID, message string) error {
	now := time.Now()
	err := s.transition(s.db, taskID, cancelableStatuses, StatusCanceled, map[string]any{
		"status_message": message,
		"finished_at":    now,
	})
	if fault.IsCode(err, fault.CodeConflict) {
		return fault.New(fault.CodeNothingToCancel, "task %s is not cancelable", taskID)
	}
	return err
}

// TaskListFilter defines filters for listing ledger entries.
type TaskListFilter struct {
	GroupID              string
	ContentItemID        string
	Status               string
	PublicationRequestID string
}

// List returns paginated tasks matching the filter, newest first. The page
// token is the created_at of the last returned record in RFC3339Nano.
func (s *TaskStore) List(filter TaskListFilter, pageSize int, pageToken string) ([]Task, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&Task{})
		if filter.GroupID != "" {
			q = q.Where("selection_group_id = ?", filter.GroupID)
		}
		if filter.ContentItemID != "" {
			q = q.Where("content_item_id = ?", filter.ContentItemID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.PublicationRequestID != "" {
			q = q.Where("publication_request_id = ?", filter.PublicationRequestID)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count tasks: %w", err)
	}

	query := buildQuery(s.db).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []Task
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list tasks: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// ListByPublication returns all child tasks of a publication request.
func (s *TaskStore) ListByPublication(requestID string) ([]Task, error) {
	var tasks []Task
	if err := s.db.Where("publication_request_id = ?", requestID).
		Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list publication tasks: %w", err)
	}
	return tasks, nil
}

// RecoverInterrupted fails every non-terminal task. Called once at startup:
// any task still in flight was interrupted by a restart, and its worker and
// monitor are gone.
func (s *TaskStore) RecoverInterrupted() (int64, error) {
	now := time.Now()
	result := s.db.Model(&Task{}).
		Where("status IN ?", cancelableStatuses).
		Updates(map[string]any{
			"status":         StatusFailed,
			"outcome_code":   OutcomeInterrupted,
			"status_message": "interrupted by server restart",
			"finished_at":    now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}
