package reduction

import (
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tabulahq/reducer/pkg/fault"
	"github.com/tabulahq/reducer/pkg/filestore"
	"github.com/tabulahq/reducer/pkg/hierarchy"
	"github.com/tabulahq/reducer/pkg/selection"
)

// PublicationGuard answers whether a content item has a publication request
// in flight. Selection changes are frozen while one is active. Implemented by
// the publication coordinator; declared here to keep the dependency one-way.
type PublicationGuard interface {
	ActiveForItem(contentItemID string) (bool, error)
}

// Service is the administrative entry point for selection groups and their
// reduction tasks. All group mutations run under a per-group mutex so that
// precondition checks and task creation are atomic per group without
// serializing unrelated groups.
type Service struct {
	db         *gorm.DB
	tasks      *TaskStore
	groups     *selection.GroupStore
	hier       *hierarchy.Store
	files      filestore.FileStore
	dispatcher *Dispatcher
	pubs       PublicationGuard
	locks      *selection.KeyMutex
	logger     *slog.Logger
}

// NewService wires the reduction service.
func NewService(db *gorm.DB, tasks *TaskStore, groups *selection.GroupStore, hier *hierarchy.Store, files filestore.FileStore, dispatcher *Dispatcher, pubs PublicationGuard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:         db,
		tasks:      tasks,
		groups:     groups,
		hier:       hier,
		files:      files,
		dispatcher: dispatcher,
		pubs:       pubs,
		locks:      selection.NewKeyMutex(),
		logger:     logger,
	}
}

// Tasks exposes the underlying ledger for read-only surfaces.
func (s *Service) Tasks() *TaskStore { return s.tasks }

// Groups exposes the group store for read-only surfaces.
func (s *Service) Groups() *selection.GroupStore { return s.groups }

// UpdateSelections changes what a group sees: either promotes it back to the
// full master hierarchy (toMaster) or starts a reduction for the given value
// IDs. On success the group record is not yet updated; that happens only when
// the resulting task goes live. The one exception is the empty selection,
// which is applied immediately with no worker involved.
//
// Returns the group as currently stored and the created task (nil on the
// empty-selection path).
func (s *Service) UpdateSelections(groupID string, toMaster bool, valueIDs []string, requestedBy string) (*selection.SelectionGroup, *Task, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	group, err := s.groups.Get(groupID)
	if err != nil {
		return nil, nil, err
	}
	if group == nil {
		return nil, nil, fault.New(fault.CodeNotFound, "selection group %s not found", groupID)
	}
	if group.IsSuspended {
		return nil, nil, fault.New(fault.CodePreconditionFailed, "selection group %s is suspended", groupID)
	}

	active, err := s.pubs.ActiveForItem(group.ContentItemID)
	if err != nil {
		return nil, nil, err
	}
	if active {
		return nil, nil, fault.New(fault.CodePreconditionFailed,
			"content item %s has an active publication request", group.ContentItemID)
	}

	inflight, err := s.tasks.CancelableForGroup(groupID)
	if err != nil {
		return nil, nil, err
	}
	if inflight != nil {
		return nil, nil, fault.New(fault.CodePreconditionFailed,
			"group %s already has reduction task %s in flight", groupID, inflight.ID)
	}

	item, err := s.hier.GetItem(group.ContentItemID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, fault.New(fault.CodeNotFound, "content item %s not found", group.ContentItemID)
	}
	if err := s.checkMaster(item); err != nil {
		return nil, nil, err
	}

	if toMaster {
		return s.promoteToMaster(group, item, requestedBy)
	}
	return s.reduceTo(group, item, valueIDs, requestedBy)
}

// checkMaster verifies the master file is present and unmodified since the
// hierarchy registry recorded it.
func (s *Service) checkMaster(item *hierarchy.ContentItem) error {
	ok, err := s.files.Exists(item.MasterPath)
	if err != nil {
		return fmt.Errorf("check master file: %w", err)
	}
	if !ok {
		return fault.New(fault.CodeSourceUnavailable, "master file %s does not exist", item.MasterPath)
	}
	sum, err := s.files.Checksum(item.MasterPath)
	if err != nil {
		return fmt.Errorf("checksum master file: %w", err)
	}
	if sum != item.MasterChecksum {
		return fault.New(fault.CodeSourceUnavailable,
			"master file %s changed since registration", item.MasterPath)
	}
	return nil
}

func (s *Service) promoteToMaster(group *selection.SelectionGroup, item *hierarchy.ContentItem, requestedBy string) (*selection.SelectionGroup, *Task, error) {
	if group.IsMaster {
		return nil, nil, fault.New(fault.CodePreconditionFailed,
			"group %s already sees the master hierarchy", group.ID)
	}
	hasHistory, err := s.tasks.MasterHistoryExists(group.ID)
	if err != nil {
		return nil, nil, err
	}
	if !hasHistory {
		return nil, nil, fault.New(fault.CodePreconditionFailed,
			"group %s has no recorded master hierarchy to restore", group.ID)
	}

	task := s.newTask(group, item, Criteria{IsMaster: true}, requestedBy)
	if err := s.tasks.Create(task); err != nil {
		return nil, nil, err
	}
	s.dispatcher.Submit(task)
	s.logger.Info("master promotion task submitted", "groupID", group.ID, "taskID", task.ID)
	return group, task, nil
}

func (s *Service) reduceTo(group *selection.SelectionGroup, item *hierarchy.ContentItem, valueIDs []string, requestedBy string) (*selection.SelectionGroup, *Task, error) {
	requested := mapset.NewSet(valueIDs...)
	current := mapset.NewSet(group.SelectedValueIDs...)
	if !group.IsMaster && requested.Equal(current) {
		return nil, nil, fault.New(fault.CodePreconditionFailed,
			"group %s already has this exact selection", group.ID)
	}

	if requested.Cardinality() > 0 {
		known, err := s.hier.ValueIDSet(item.ID)
		if err != nil {
			return nil, nil, err
		}
		if foreign := requested.Difference(known); foreign.Cardinality() > 0 {
			return nil, nil, fault.New(fault.CodeValidationFailed,
				"value ids %v do not belong to content item %s", foreign.ToSlice(), item.ID)
		}
	}

	// Empty selection needs no derivation: apply it in one transaction and
	// retire the previous live task.
	if requested.Cardinality() == 0 {
		if err := s.applyNoContent(group.ID); err != nil {
			return nil, nil, err
		}
		updated, err := s.groups.Get(group.ID)
		if err != nil {
			return nil, nil, err
		}
		s.logger.Info("empty selection applied", "groupID", group.ID)
		return updated, nil, nil
	}

	ordered := requested.ToSlice()
	task := s.newTask(group, item, Criteria{ValueIDs: hierarchy.IDList(ordered)}, requestedBy)
	if err := s.tasks.Create(task); err != nil {
		return nil, nil, err
	}
	s.dispatcher.Submit(task)
	s.logger.Info("reduction task submitted", "groupID", group.ID, "taskID", task.ID, "values", len(ordered))
	return group, task, nil
}

func (s *Service) newTask(group *selection.SelectionGroup, item *hierarchy.ContentItem, criteria Criteria, requestedBy string) *Task {
	return &Task{
		ID:                uuid.New().String(),
		SelectionGroupID:  group.ID,
		ContentItemID:     item.ID,
		MasterFilePath:    item.MasterPath,
		MasterChecksum:    item.MasterChecksum,
		SelectionCriteria: criteria,
		RequestedBy:       requestedBy,
	}
}

func (s *Service) applyNoContent(groupID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		live, err := s.tasks.liveForGroup(tx, groupID)
		if err != nil {
			return err
		}
		if live != nil {
			if err := s.tasks.transition(tx, live.ID, []TaskStatus{StatusLive}, StatusReplaced, nil); err != nil {
				return err
			}
		}
		if err := s.groups.SetNoContent(tx, groupID); err != nil {
			return err
		}
		return selection.ClearAcknowledgments(tx, groupID)
	})
}

// CancelReduction cancels the group's in-flight task, if any. Fails with
// NothingToCancel when the group has no cancelable task.
func (s *Service) CancelReduction(groupID, reason string) (*Task, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	task, err := s.tasks.CancelableForGroup(groupID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fault.New(fault.CodeNothingToCancel,
			"group %s has no reduction in flight", groupID)
	}
	if err := s.dispatcher.Cancel(task.ID, reason); err != nil {
		return nil, err
	}
	return s.tasks.Get(task.ID)
}

// CancelTask cancels one specific task by ID, typically a single child of a
// publication fanout. Fails with NothingToCancel once the task is terminal.
func (s *Service) CancelTask(taskID, reason string) (*Task, error) {
	task, err := s.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fault.New(fault.CodeNotFound, "task %s not found", taskID)
	}

	unlock := s.locks.Lock(task.SelectionGroupID)
	defer unlock()

	if err := s.dispatcher.Cancel(taskID, reason); err != nil {
		return nil, err
	}
	return s.tasks.Get(taskID)
}

// CreateGroup registers a new selection group for a content item. Master
// groups start with the full hierarchy and serve the master file directly;
// non-master groups start with no content until a reduction goes live.
func (s *Service) CreateGroup(contentItemID, name string, isMaster bool) (*selection.SelectionGroup, error) {
	if name == "" {
		return nil, fault.New(fault.CodeValidationFailed, "group name must not be empty")
	}
	item, err := s.hier.GetItem(contentItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fault.New(fault.CodeNotFound, "content item %s not found", contentItemID)
	}

	group := &selection.SelectionGroup{
		ID:            uuid.New().String(),
		ContentItemID: contentItemID,
		Name:          name,
		IsMaster:      isMaster,
	}
	if isMaster {
		group.ContentInstanceURL = item.MasterPath
	}
	if err := s.groups.Create(group); err != nil {
		return nil, err
	}
	s.logger.Info("selection group created", "groupID", group.ID, "contentItemID", contentItemID, "isMaster", isMaster)
	return group, nil
}

// DeleteGroup removes a group and its acknowledgments. A group with a
// reduction in flight must be canceled first.
func (s *Service) DeleteGroup(groupID string) error {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	group, err := s.groups.Get(groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return fault.New(fault.CodeNotFound, "selection group %s not found", groupID)
	}

	active, err := s.pubs.ActiveForItem(group.ContentItemID)
	if err != nil {
		return err
	}
	if active {
		return fault.New(fault.CodePreconditionFailed,
			"content item %s has a publication in flight; group %s cannot be deleted", group.ContentItemID, groupID)
	}

	inflight, err := s.tasks.CancelableForGroup(groupID)
	if err != nil {
		return err
	}
	if inflight != nil {
		return fault.New(fault.CodePreconditionFailed,
			"group %s has reduction task %s in flight; cancel it first", groupID, inflight.ID)
	}
	if err := s.groups.Delete(groupID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return fault.New(fault.CodeNotFound, "selection group %s not found", groupID)
		}
		return err
	}
	s.logger.Info("selection group deleted", "groupID", groupID)
	return nil
}

// SetSuspended suspends or resumes a group. Suspended groups keep serving
// their current content but reject selection changes and are skipped by
// publications.
func (s *Service) SetSuspended(groupID string, suspended bool) error {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	if err := s.groups.SetSuspended(groupID, suspended); err != nil {
		if err == gorm.ErrRecordNotFound {
			return fault.New(fault.CodeNotFound, "selection group %s not found", groupID)
		}
		return err
	}
	return nil
}
