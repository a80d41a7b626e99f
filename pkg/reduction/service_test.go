package reduction

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tabulahq/reducer/pkg/fault"
	"github.com/tabulahq/reducer/pkg/filestore"
	"github.com/tabulahq/reducer/pkg/hierarchy"
	"github.com/tabulahq/reducer/pkg/selection"
)

type stubGuard struct {
	active bool
}

func (g *stubGuard) ActiveForItem(string) (bool, error) { return g.active, nil }

type serviceHarness struct {
	db         *gorm.DB
	svc        *Service
	tasks      *TaskStore
	groups     *selection.GroupStore
	hier       *hierarchy.Store
	guard      *stubGuard
	files      filestore.FileStore
	dispatcher *Dispatcher
	itemID     string
	valueIDs   map[string]string
	master     string
}

const serviceMaster = `title,region
Holiday policy,EU
Overtime rules,US
Code of conduct,EU
`

func setupService(t *testing.T) *serviceHarness {
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
		&Task{},
	))

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "handbook.csv")
	require.NoError(t, os.WriteFile(masterPath, []byte(serviceMaster), 0o600))

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

	taskStore := NewTaskStore(db)
	groupStore := selection.NewGroupStore(db)
	worker := NewWorker(taskStore, hierStore, files, filepath.Join(dir, "work"), log)
	promoter := NewPromoter(db, taskStore, groupStore, files, filepath.Join(dir, "serve"), nil, log)
	monitor := NewMonitor(taskStore, promoter, log)
	dispatcher := NewDispatcher(ctx, worker, monitor, taskStore, 2, log)

	guard := &stubGuard{}
	svc := NewService(db, taskStore, groupStore, hierStore, files, dispatcher, guard, log)

	return &serviceHarness{
		db:         db,
		svc:        svc,
		tasks:      taskStore,
		groups:     groupStore,
		hier:       hierStore,
		guard:      guard,
		files:      files,
		dispatcher: dispatcher,
		itemID:     item.ID,
		valueIDs:   valueIDs,
		master:     masterPath,
	}
}

func (h *serviceHarness) waitForTerminal(t *testing.T, taskID string) *Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := h.tasks.Get(taskID)
		require.NoError(t, err)
		require.NotNil(t, task)
		if task.IsTerminal() {
			return task
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal status", taskID)
	return nil
}

func TestCreateGroup(t *testing.T) {
	h := setupService(t)

	group, err := h.svc.CreateGroup(h.itemID, "analysts", false)
	require.NoError(t, err)
	assert.Empty(t, group.ContentInstanceURL)
	assert.Empty(t, group.SelectedValueIDs)

	master, err := h.svc.CreateGroup(h.itemID, "everyone", true)
	require.NoError(t, err)
	assert.Equal(t, h.master, master.ContentInstanceURL)
	assert.True(t, master.IsMaster)
}

func TestCreateGroupUnknownItem(t *testing.T) {
	h := setupService(t)

	_, err := h.svc.CreateGroup("no-such-item", "analysts", false)
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))

	_, err = h.svc.CreateGroup(h.itemID, "", false)
	assert.True(t, fault.IsCode(err, fault.CodeValidationFailed))
}

func TestUpdateSelectionsGoesLive(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "eu-staff", false)
	require.NoError(t, err)

	_, task, err := h.svc.UpdateSelections(group.ID, false, []string{h.valueIDs["EU"]}, "alice")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "alice", task.RequestedBy)

	done := h.waitForTerminal(t, task.ID)
	require.Equal(t, StatusLive, done.Status)

	updated, err := h.groups.Get(group.ID)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.IDList{h.valueIDs["EU"]}, updated.SelectedValueIDs)
	require.NotEmpty(t, updated.ContentInstanceURL)

	reduced, err := os.ReadFile(updated.ContentInstanceURL)
	require.NoError(t, err)
	assert.Contains(t, string(reduced), "Holiday policy")
	assert.NotContains(t, string(reduced), "Overtime rules")
}

func TestSecondSelectionReplacesLive(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	_, first, err := h.svc.UpdateSelections(group.ID, false, []string{h.valueIDs["EU"]}, "alice")
	require.NoError(t, err)
	require.Equal(t, StatusLive, h.waitForTerminal(t, first.ID).Status)

	_, second, err := h.svc.UpdateSelections(group.ID, false, []string{h.valueIDs["US"]}, "alice")
	require.NoError(t, err)
	require.Equal(t, StatusLive, h.waitForTerminal(t, second.ID).Status)

	replaced, err := h.tasks.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReplaced, replaced.Status)
}

func TestUpdateSelectionsPreconditions(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	t.Run("group not found", func(t *testing.T) {
		_, _, err := h.svc.UpdateSelections("missing", false, []string{h.valueIDs["EU"]}, "alice")
		assert.True(t, fault.IsCode(err, fault.CodeNotFound))
	})

	t.Run("unknown value id", func(t *testing.T) {
		_, _, err := h.svc.UpdateSelections(group.ID, false, []string{"bogus"}, "alice")
		assert.True(t, fault.IsCode(err, fault.CodeValidationFailed))
	})

	t.Run("same selection", func(t *testing.T) {
		// A fresh group's selection is empty; requesting empty again is a no-op.
		_, _, err := h.svc.UpdateSelections(group.ID, false, nil, "alice")
		assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))
	})

	t.Run("suspended", func(t *testing.T) {
		require.NoError(t, h.svc.SetSuspended(group.ID, true))
		_, _, err := h.svc.UpdateSelections(group.ID, false, []string{h.valueIDs["EU"]}, "alice")
		assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))
		require.NoError(t, h.svc.SetSuspended(group.ID, false))
	})

	t.Run("active publication", func(t *testing.T) {
		h.guard.active = true
		defer func() { h.guard.active = false }()
		_, _, err := h.svc.UpdateSelections(group.ID, false, []string{h.valueIDs["EU"]}, "alice")
		assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))
	})

	t.Run("task already in flight", func(t *testing.T) {
		inflight := newTestTask(group.ID)
		inflight.ContentItemID = h.itemID
		require.NoError(t, h.tasks.Create(inflight))
		defer func() {
			require.NoError(t, h.tasks.MarkCanceled(inflight.ID, "test cleanup"))
		}()

		_, _, err := h.svc.UpdateSelections(group.ID, false, []string{h.valueIDs["EU"]}, "alice")
		assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))
	})
}

func TestUpdateSelectionsMasterChanged(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	// Overwrite the master after registration; the recorded checksum no
	// longer matches.
	require.NoError(t, os.WriteFile(h.master, []byte("title,region\nNew doc,EU\n"), 0o600))

	_, _, err = h.svc.UpdateSelections(group.ID, false, []string{h.valueIDs["EU"]}, "alice")
	assert.True(t, fault.IsCode(err, fault.CodeSourceUnavailable))
}

func TestEmptySelectionAppliedImmediately(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	_, task, err := h.svc.UpdateSelections(group.ID, false, []string{h.valueIDs["EU"]}, "alice")
	require.NoError(t, err)
	require.Equal(t, StatusLive, h.waitForTerminal(t, task.ID).Status)
	require.NoError(t, h.groups.Acknowledge(group.ID, "bob"))

	updated, noTask, err := h.svc.UpdateSelections(group.ID, false, nil, "alice")
	require.NoError(t, err)
	assert.Nil(t, noTask)
	assert.Empty(t, updated.SelectedValueIDs)
	assert.Empty(t, updated.ContentInstanceURL)

	// The live task is retired and pending acknowledgments are reset.
	retired, err := h.tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReplaced, retired.Status)

	users, err := h.groups.AcknowledgedUsers(group.ID)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPromoteToMaster(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	// Without recorded master history, promotion is refused.
	_, _, err = h.svc.UpdateSelections(group.ID, true, nil, "alice")
	assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))

	// Seed history: a finished master task.
	seed := newTestTask(group.ID)
	seed.ContentItemID = h.itemID
	seed.SelectionCriteria = Criteria{IsMaster: true}
	require.NoError(t, h.tasks.Create(seed))
	require.NoError(t, h.tasks.MarkCanceled(seed.ID, "seed"))

	_, task, err := h.svc.UpdateSelections(group.ID, true, nil, "alice")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.True(t, task.SelectionCriteria.IsMaster)

	done := h.waitForTerminal(t, task.ID)
	require.Equal(t, StatusLive, done.Status)

	updated, err := h.groups.Get(group.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsMaster)
	assert.Equal(t, h.master, updated.ContentInstanceURL)

	// A master group cannot be promoted again.
	_, _, err = h.svc.UpdateSelections(group.ID, true, nil, "alice")
	assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))
}

func TestCancelReduction(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	_, err = h.svc.CancelReduction(group.ID, "nothing running")
	assert.True(t, fault.IsCode(err, fault.CodeNothingToCancel))
}

func TestCancelTaskByID(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	inflight := newTestTask(group.ID)
	inflight.ContentItemID = h.itemID
	require.NoError(t, h.tasks.Create(inflight))

	got, err := h.svc.CancelTask(inflight.ID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)

	_, err = h.svc.CancelTask(inflight.ID, "again")
	assert.True(t, fault.IsCode(err, fault.CodeNothingToCancel))

	_, err = h.svc.CancelTask("missing", "gone")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
}

func TestWorkerFailsWhenMasterDriftsAfterCreation(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	sum, err := h.files.Checksum(h.master)
	require.NoError(t, err)

	task := &Task{
		SelectionGroupID:  group.ID,
		ContentItemID:     h.itemID,
		MasterFilePath:    h.master,
		MasterChecksum:    sum,
		SelectionCriteria: Criteria{ValueIDs: hierarchy.IDList{h.valueIDs["EU"]}},
		RequestedBy:       "alice",
	}
	require.NoError(t, h.tasks.Create(task))

	// The master is replaced between ledger entry and worker pickup.
	require.NoError(t, os.WriteFile(h.master, []byte("title,region\nNew row,EU\n"), 0o600))

	h.dispatcher.Submit(task)
	got := h.waitForTerminal(t, task.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, OutcomeSourceUnavailable, got.OutcomeCode)

	fresh, err := h.groups.Get(group.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.ContentInstanceURL)
	assert.Empty(t, fresh.SelectedValueIDs)
}

func TestDeleteGroup(t *testing.T) {
	h := setupService(t)
	group, err := h.svc.CreateGroup(h.itemID, "staff", false)
	require.NoError(t, err)

	inflight := newTestTask(group.ID)
	inflight.ContentItemID = h.itemID
	require.NoError(t, h.tasks.Create(inflight))

	err = h.svc.DeleteGroup(group.ID)
	assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))

	require.NoError(t, h.tasks.MarkCanceled(inflight.ID, "cleanup"))

	// A pending publication for the item also blocks destruction.
	h.guard.active = true
	err = h.svc.DeleteGroup(group.ID)
	assert.True(t, fault.IsCode(err, fault.CodePreconditionFailed))
	h.guard.active = false

	require.NoError(t, h.svc.DeleteGroup(group.ID))

	got, err := h.groups.Get(group.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.True(t, fault.IsCode(h.svc.DeleteGroup(group.ID), fault.CodeNotFound))
}
