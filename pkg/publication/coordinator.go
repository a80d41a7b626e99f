package publication

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tabulahq/reducer/pkg/fault"
	"github.com/tabulahq/reducer/pkg/filestore"
	"github.com/tabulahq/reducer/pkg/hierarchy"
	"github.com/tabulahq/reducer/pkg/reduction"
	"github.com/tabulahq/reducer/pkg/selection"
)

// Coordinator fans a publication request out into one reduction task per
// eligible selection group and rolls the request status up from its children.
type Coordinator struct {
	db         *gorm.DB
	store      *Store
	tasks      *reduction.TaskStore
	groups     *selection.GroupStore
	hier       *hierarchy.Store
	files      filestore.FileStore
	dispatcher *reduction.Dispatcher
	logger     *slog.Logger
}

// NewCoordinator wires the publication coordinator.
func NewCoordinator(db *gorm.DB, store *Store, tasks *reduction.TaskStore, groups *selection.GroupStore, hier *hierarchy.Store, files filestore.FileStore, dispatcher *reduction.Dispatcher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		db:         db,
		store:      store,
		tasks:      tasks,
		groups:     groups,
		hier:       hier,
		files:      files,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Store exposes the request store for read-only surfaces.
func (c *Coordinator) Store() *Store { return c.store }

// ActiveForItem reports whether a content item has a pending publication.
// Satisfies the guard the reduction service consults before selection changes.
func (c *Coordinator) ActiveForItem(contentItemID string) (bool, error) {
	req, err := c.store.ActiveForItem(contentItemID)
	if err != nil {
		return false, err
	}
	return req != nil, nil
}

// RequestPublication republishes a content item to all its selection groups.
// The request record and every child task commit in one transaction, then
// the tasks are dispatched. Suspended groups are skipped, as are non-master
// groups whose selection is empty (they have nothing to derive).
func (c *Coordinator) RequestPublication(contentItemID, requestedBy string) (*Request, []*reduction.Task, error) {
	item, err := c.hier.GetItem(contentItemID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, fault.New(fault.CodeNotFound, "content item %s not found", contentItemID)
	}

	active, err := c.store.ActiveForItem(contentItemID)
	if err != nil {
		return nil, nil, err
	}
	if active != nil {
		return nil, nil, fault.New(fault.CodePreconditionFailed,
			"content item %s already has pending publication %s", contentItemID, active.ID)
	}

	if err := c.checkMaster(item); err != nil {
		return nil, nil, err
	}

	groups, err := c.groups.ListByItem(contentItemID)
	if err != nil {
		return nil, nil, err
	}

	req := &Request{
		ID:            uuid.New().String(),
		ContentItemID: contentItemID,
		Status:        StatusPending,
		RequestedBy:   requestedBy,
		CreatedAt:     time.Now(),
	}

	var tasks []*reduction.Task
	for i := range groups {
		g := &groups[i]
		if g.IsSuspended {
			continue
		}
		if !g.IsMaster && len(g.SelectedValueIDs) == 0 {
			continue
		}
		tasks = append(tasks, &reduction.Task{
			ID:               uuid.New().String(),
			SelectionGroupID: g.ID,
			ContentItemID:    item.ID,
			MasterFilePath:   item.MasterPath,
			MasterChecksum:   item.MasterChecksum,
			SelectionCriteria: reduction.Criteria{
				IsMaster: g.IsMaster,
				ValueIDs: g.SelectedValueIDs,
			},
			PublicationRequestID: req.ID,
			RequestedBy:          requestedBy,
		})
	}

	if len(tasks) == 0 {
		return nil, nil, fault.New(fault.CodePreconditionFailed,
			"content item %s has no eligible selection groups to publish to", contentItemID)
	}
	req.TaskCount = len(tasks)

	err = c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return fmt.Errorf("create publication request: %w", err)
		}
		return c.tasks.CreateAll(tx, tasks)
	})
	if err != nil {
		return nil, nil, err
	}

	for _, task := range tasks {
		c.dispatcher.Submit(task)
	}

	c.logger.Info("publication requested",
		"requestID", req.ID, "contentItemID", contentItemID, "tasks", len(tasks))
	return req, tasks, nil
}

// checkMaster verifies the master file is present and unmodified.
func (c *Coordinator) checkMaster(item *hierarchy.ContentItem) error {
	ok, err := c.files.Exists(item.MasterPath)
	if err != nil {
		return fmt.Errorf("check master file: %w", err)
	}
	if !ok {
		return fault.New(fault.CodeSourceUnavailable, "master file %s does not exist", item.MasterPath)
	}
	sum, err := c.files.Checksum(item.MasterPath)
	if err != nil {
		return fmt.Errorf("checksum master file: %w", err)
	}
	if sum != item.MasterChecksum {
		return fault.New(fault.CodeSourceUnavailable,
			"master file %s changed since registration", item.MasterPath)
	}
	return nil
}

// CancelPublication withdraws a pending request and cancels every child task
// that is still cancelable. Children already live or failed keep their state.
func (c *Coordinator) CancelPublication(requestID, reason string) (*Request, error) {
	req, err := c.store.Get(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fault.New(fault.CodeNotFound, "publication request %s not found", requestID)
	}
	if req.Status != StatusPending {
		return nil, fault.New(fault.CodeNothingToCancel,
			"publication request %s is already %s", requestID, req.Status)
	}

	settled, err := c.store.settle(requestID, StatusCanceled, reason)
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, fault.New(fault.CodeNothingToCancel,
			"publication request %s settled concurrently", requestID)
	}

	children, err := c.tasks.ListByPublication(requestID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		child := &children[i]
		if !child.Status.IsCancelable() {
			continue
		}
		if err := c.dispatcher.Cancel(child.ID, reason); err != nil {
			// A child finishing concurrently is fine; anything else is not.
			if !fault.IsCode(err, fault.CodeNothingToCancel) && fault.CodeOf(err) != fault.CodeConflict {
				return nil, err
			}
		}
	}

	c.logger.Info("publication canceled", "requestID", requestID, "reason", reason)
	return c.store.Get(requestID)
}

// StatusSnapshot is a point-in-time view of a request and its children,
// produced for the polling status surface.
type StatusSnapshot struct {
	Request *Request
	Tasks   []reduction.Task
}

// GetStatus returns the request with its child tasks, rolling the request up
// to a terminal status first if every child has finished. Roll-up on read
// keeps the ledger authoritative without a background reconciler.
func (c *Coordinator) GetStatus(requestID string) (*StatusSnapshot, error) {
	req, err := c.store.Get(requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fault.New(fault.CodeNotFound, "publication request %s not found", requestID)
	}

	children, err := c.tasks.ListByPublication(requestID)
	if err != nil {
		return nil, err
	}

	if req.Status == StatusPending {
		if rolled, err := c.rollUp(req, children); err != nil {
			return nil, err
		} else if rolled {
			req, err = c.store.Get(requestID)
			if err != nil {
				return nil, err
			}
		}
	}

	return &StatusSnapshot{Request: req, Tasks: children}, nil
}

// rollUp settles a pending request whose children have all finished:
// confirmed when at least one group went live, rejected when none did.
func (c *Coordinator) rollUp(req *Request, children []reduction.Task) (bool, error) {
	if len(children) == 0 {
		return false, nil
	}

	succeeded := 0
	failed := 0
	for i := range children {
		switch children[i].Status {
		case reduction.StatusLive, reduction.StatusReplaced:
			succeeded++
		case reduction.StatusFailed, reduction.StatusCanceled:
			failed++
		default:
			return false, nil
		}
	}

	if succeeded > 0 {
		msg := fmt.Sprintf("%d of %d groups updated", succeeded, len(children))
		settled, err := c.store.settle(req.ID, StatusConfirmed, msg)
		if err != nil {
			return false, err
		}
		if settled {
			c.logger.Info("publication confirmed", "requestID", req.ID, "succeeded", succeeded, "failed", failed)
		}
		return settled, nil
	}

	settled, err := c.store.settle(req.ID, StatusRejected, "no selection group was updated")
	if err != nil {
		return false, err
	}
	if settled {
		c.logger.Info("publication rejected", "requestID", req.ID, "failed", failed)
	}
	return settled, nil
}

// GroupReductionStatus pairs a selection group with its most recent
// reduction task. LatestTask is nil when the group never ran one.
type GroupReductionStatus struct {
	Group      selection.SelectionGroup
	LatestTask *reduction.Task
}

// GroupStatuses returns the per-group reduction view of a content item,
// joining each group with its latest ledger entry.
func (c *Coordinator) GroupStatuses(contentItemID string) ([]GroupReductionStatus, error) {
	groups, err := c.groups.ListByItem(contentItemID)
	if err != nil {
		return nil, err
	}
	statuses := make([]GroupReductionStatus, 0, len(groups))
	for i := range groups {
		latest, err := c.tasks.LatestForGroup(groups[i].ID)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, GroupReductionStatus{Group: groups[i], LatestTask: latest})
	}
	return statuses, nil
}

// ItemStatus returns the active request for a content item (nil when none)
// plus its recent request history.
func (c *Coordinator) ItemStatus(contentItemID string) (*Request, []Request, error) {
	item, err := c.hier.GetItem(contentItemID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, fault.New(fault.CodeNotFound, "content item %s not found", contentItemID)
	}

	active, err := c.store.ActiveForItem(contentItemID)
	if err != nil {
		return nil, nil, err
	}
	history, err := c.store.ListByItem(contentItemID)
	if err != nil {
		return nil, nil, err
	}
	return active, history, nil
}
