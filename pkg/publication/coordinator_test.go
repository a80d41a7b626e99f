package publication

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tabulahq/reducer/pkg/fault"
	"github.com/tabulahq/reducer/pkg/filestore"
	"github.com/tabulahq/reducer/pkg/hierarchy"
	"github.com/tabulahq/reducer/pkg/reduction"
	"github.com/tabulahq/reducer/pkg/selection"
)

const coordMaster = `title,region
Holiday policy,EU
Overtime rules,US
Code of conduct,EU
`

type coordHarness struct {
	db       *gorm.DB
	c        *Coordinator
	tasks    *reduction.TaskStore
	groups   *selection.GroupStore
	itemID   string
	valueIDs map[string]string
	master   string
}

func setupCoordinator(t *testing.T) *coordHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&hierarchy.ContentItem{},
		&hierarchy.HierarchyField{},
		&hierarchy.HierarchyFieldValue{},
		&selection.SelectionGroup{},
		&selection.GroupAcknowledgment{},
		&reduction.Task{},
		&Request{},
	))

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "handbook.csv")
	require.NoError(t, os.WriteFile(masterPath, []byte(coordMaster), 0o600))

	files := filestore.NewOSStore()
	hierStore := hierarchy.NewStore(db)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := &hierarchy.RegistryFile{
		Kind: "ContentRegistry",
		Contents: []hierarchy.ContentConfig{{
			Name:       "handbook",
			ClientID:   "default",
			MasterPath: masterPath,
			Fields: []hierarchy.FieldConfig{{
				FieldName:     "region",
				StructureType: "flat",
				Values:        []string{"EU", "US"},
			}},
		}},
	}
	_, err = hierStore.Sync(reg, files, log)
	require.NoError(t, err)

	item, err := hierStore.GetItemByName("handbook")
	require.NoError(t, err)
	require.NotNil(t, item)

	view, err := hierarchy.NewService(hierStore).GetHierarchy(item.ID)
	require.NoError(t, err)
	valueIDs := map[string]string{}
	for _, f := range view.Fields {
		for _, v := range f.Values {
			valueIDs[v.Value] = v.ValueID
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	taskStore := reduction.NewTaskStore(db)
	groupStore := selection.NewGroupStore(db)
	worker := reduction.NewWorker(taskStore, hierStore, files, filepath.Join(dir, "work"), log)
	promoter := reduction.NewPromoter(db, taskStore, groupStore, files, filepath.Join(dir, "serve"), nil, log)
	monitor := reduction.NewMonitor(taskStore, promoter, log)
	dispatcher := reduction.NewDispatcher(ctx, worker, monitor, taskStore, 2, log)

	store := NewStore(db)
	c := NewCoordinator(db, store, taskStore, groupStore, hierStore, files, dispatcher, log)

	return &coordHarness{
		db:       db,
		c:        c,
		tasks:    taskStore,
		groups:   groupStore,
		itemID:   item.ID,
		valueIDs: valueIDs,
		master:   masterPath,
	}
}

func (h *coordHarness) addGroup(t *testing.T, name string, isMaster, suspended bool, selected ...string) *selection.SelectionGroup {
	t.Helper()
	group := &selection.SelectionGroup{
		ID:               uuid.New().String(),
		ContentItemID:    h.itemID,
		Name:             name,
		IsMaster:         isMaster,
		SelectedValueIDs: hierarchy.IDList(selected),
		IsSuspended:      suspended,
	}
	require.NoError(t, h.groups.Create(group))
	return group
}

// seedPending plants a pending request with validating children that were
// never handed to the dispatcher, so their state only moves when the test
// says so.
func (h *coordHarness) seedPending(t *testing.T, groupIDs ...string) (*Request, []*reduction.Task) {
	t.Helper()
	req := newRequest(h.itemID)
	req.TaskCount = len(groupIDs)

	var tasks []*reduction.Task
	for _, gid := range groupIDs {
		tasks = append(tasks, &reduction.Task{
			ID:                   uuid.New().String(),
			SelectionGroupID:     gid,
			ContentItemID:        h.itemID,
			MasterFilePath:       h.master,
			PublicationRequestID: req.ID,
			RequestedBy:          "alice",
		})
	}
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		return h.tasks.CreateAll(tx, tasks)
	})
	require.NoError(t, err)
	return req, tasks
}

func (h *coordHarness) waitForStatus(t *testing.T, requestID string, want RequestStatus) *StatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := h.c.GetStatus(requestID)
		require.NoError(t, err)
		if snap.Request.Status == want {
			return snap
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("request %s never reached status %s", requestID, want)
	return nil
}

func TestRequestPublicationUnknownItem(t *testing.T) {
	h := setupCoordinator(t)

	_, _, err := h.c.RequestPublication("no-such-item", "alice")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
}

func TestRequestPublicationFanout(t *testing.T) {
	h := setupCoordinator(t)

	master := h.addGroup(t, "everyone", true, false)
	euGroup := h.addGroup(t, "eu-staff", false, false, h.valueIDs["EU"])
	h.addGroup(t, "paused", false, true, h.valueIDs["US"])
	h.addGroup(t, "empty", false, false)

	req, tasks, err := h.c.RequestPublication(h.itemID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 2, req.TaskCount)
	require.Len(t, tasks, 2)

	targeted := map[string]bool{}
	for _, task := range tasks {
		targeted[task.SelectionGroupID] = true
		assert.Equal(t, req.ID, task.PublicationRequestID)
	}
	assert.True(t, targeted[master.ID])
	assert.True(t, targeted[euGroup.ID])

	snap := h.waitForStatus(t, req.ID, StatusConfirmed)
	assert.Equal(t, "2 of 2 groups updated", snap.Request.StatusMessage)
	assert.NotNil(t, snap.Request.FinishedAt)
	require.Len(t, snap.Tasks, 2)

	got, err := h.groups.Get(master.ID)
	require.NoError(t, err)
	assert.Equal(t, h.master, got.ContentInstanceURL)

	got, err = h.groups.Get(euGroup.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ContentInstanceURL)
}

func TestRequestPublicationNoEligibleGroups(t *testing.T) {
	h := setupCoordinator(t)

	h.addGroup(t, "paused", false, true, h.valueIDs["EU"])
	h.addGroup(t, "empty", false, false)

	_, _, err := h.c.RequestPublication(h.itemID, "alice")
	assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))
}

func TestRequestPublicationAlreadyPending(t *testing.T) {
	h := setupCoordinator(t)
	group := h.addGroup(t, "eu-staff", false, false, h.valueIDs["EU"])
	h.seedPending(t, group.ID)

	_, _, err := h.c.RequestPublication(h.itemID, "alice")
	assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))
}

func TestRequestPublicationMasterChanged(t *testing.T) {
	h := setupCoordinator(t)
	h.addGroup(t, "everyone", true, false)

	require.NoError(t, os.WriteFile(h.master, []byte("title,region\nNew row,EU\n"), 0o600))

	_, _, err := h.c.RequestPublication(h.itemID, "alice")
	assert.True(t, fault.IsCode(err, fault.CodeSourceUnavailable))
}

func TestGetStatusStaysPendingWhileChildrenRun(t *testing.T) {
	h := setupCoordinator(t)
	euGroup := h.addGroup(t, "eu-staff", false, false, h.valueIDs["EU"])
	usGroup := h.addGroup(t, "us-staff", false, false, h.valueIDs["US"])
	req, tasks := h.seedPending(t, euGroup.ID, usGroup.ID)

	require.NoError(t, h.tasks.MarkFailed(tasks[0].ID, "worker_failure", "disk full"))

	snap, err := h.c.GetStatus(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, snap.Request.Status)
}

func TestGetStatusRollsUpRejected(t *testing.T) {
	h := setupCoordinator(t)
	euGroup := h.addGroup(t, "eu-staff", false, false, h.valueIDs["EU"])
	usGroup := h.addGroup(t, "us-staff", false, false, h.valueIDs["US"])
	req, tasks := h.seedPending(t, euGroup.ID, usGroup.ID)

	require.NoError(t, h.tasks.MarkFailed(tasks[0].ID, "worker_failure", "disk full"))
	require.NoError(t, h.tasks.MarkCanceled(tasks[1].ID, "operator request"))

	snap, err := h.c.GetStatus(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, snap.Request.Status)
	assert.Equal(t, "no selection group was updated", snap.Request.StatusMessage)
	assert.NotNil(t, snap.Request.FinishedAt)
}

func TestGetStatusUnknownRequest(t *testing.T) {
	h := setupCoordinator(t)

	_, err := h.c.GetStatus("missing")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
}

func TestCancelPublication(t *testing.T) {
	h := setupCoordinator(t)
	euGroup := h.addGroup(t, "eu-staff", false, false, h.valueIDs["EU"])
	usGroup := h.addGroup(t, "us-staff", false, false, h.valueIDs["US"])
	req, tasks := h.seedPending(t, euGroup.ID, usGroup.ID)

	got, err := h.c.CancelPublication(req.ID, "rollout postponed")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Equal(t, "rollout postponed", got.StatusMessage)

	for _, task := range tasks {
		child, err := h.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, reduction.StatusCanceled, child.Status)
	}

	_, err = h.c.CancelPublication(req.ID, "again")
	assert.True(t, fault.IsCode(err, fault.CodeNothingToCancel))
}

func TestCancelPublicationKeepsFinishedChildren(t *testing.T) {
	h := setupCoordinator(t)
	euGroup := h.addGroup(t, "eu-staff", false, false, h.valueIDs["EU"])
	usGroup := h.addGroup(t, "us-staff", false, false, h.valueIDs["US"])
	req, tasks := h.seedPending(t, euGroup.ID, usGroup.ID)

	require.NoError(t, h.tasks.MarkFailed(tasks[0].ID, "worker_failure", "disk full"))

	_, err := h.c.CancelPublication(req.ID, "rollout postponed")
	require.NoError(t, err)

	failed, err := h.tasks.Get(tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, reduction.StatusFailed, failed.Status)

	canceled, err := h.tasks.Get(tasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, reduction.StatusCanceled, canceled.Status)
}

func TestCancelPublicationUnknownRequest(t *testing.T) {
	h := setupCoordinator(t)

	_, err := h.c.CancelPublication("missing", "reason")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
}

func TestGroupStatuses(t *testing.T) {
	h := setupCoordinator(t)
	euGroup := h.addGroup(t, "eu-staff", false, false, h.valueIDs["EU"])
	idle := h.addGroup(t, "idle", false, false)
	_, tasks := h.seedPending(t, euGroup.ID)

	statuses, err := h.c.GroupStatuses(h.itemID)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byGroup := map[string]GroupReductionStatus{}
	for _, s := range statuses {
		byGroup[s.Group.ID] = s
	}
	require.NotNil(t, byGroup[euGroup.ID].LatestTask)
	assert.Equal(t, tasks[0].ID, byGroup[euGroup.ID].LatestTask.ID)
	assert.Nil(t, byGroup[idle.ID].LatestTask)
}

func TestItemStatus(t *testing.T) {
	h := setupCoordinator(t)
	euGroup := h.addGroup(t, "eu-staff", false, false, h.valueIDs["EU"])

	_, _, err := h.c.ItemStatus("no-such-item")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))

	active, history, err := h.c.ItemStatus(h.itemID)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Empty(t, history)

	req, _ := h.seedPending(t, euGroup.ID)

	active, history, err = h.c.ItemStatus(h.itemID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, req.ID, active.ID)
	require.Len(t, history, 1)
}
