package reduction

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tabulahq/reducer/pkg/filestore"
	"github.com/tabulahq/reducer/pkg/hierarchy"
	"github.com/tabulahq/reducer/pkg/selection"
)

type promoterHarness struct {
	db       *gorm.DB
	tasks    *TaskStore
	groups   *selection.GroupStore
	files    *filestore.MemStore
	promoter *Promoter
}

func setupPromoter(t *testing.T) *promoterHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&selection.SelectionGroup{},
		&selection.GroupAcknowledgment{},
		&Task{},
	))

	tasks := NewTaskStore(db)
	groups := selection.NewGroupStore(db)
	files := filestore.NewMemStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	promoter := NewPromoter(db, tasks, groups, files, "/serve", nil, log)

	return &promoterHarness{db: db, tasks: tasks, groups: groups, files: files, promoter: promoter}
}

// processingTask creates a group plus a Processing task with recorded output.
func (h *promoterHarness) processingTask(t *testing.T) (*selection.SelectionGroup, *Task) {
	t.Helper()
	group := &selection.SelectionGroup{
		ID:            uuid.New().String(),
		ContentItemID: "item-1",
		Name:          "staff",
	}
	require.NoError(t, h.groups.Create(group))

	task := newTestTask(group.ID)
	require.NoError(t, h.tasks.Create(task))
	require.NoError(t, h.tasks.MarkProcessing(task.ID))

	h.files.Put("/work/"+task.ID+"/reduced.dat", []byte("reduced content"))
	require.NoError(t, h.tasks.RecordOutput(task.ID, "/work/"+task.ID+"/reduced.dat", 0))
	return group, task
}

func TestPromoteMakesTaskLive(t *testing.T) {
	h := setupPromoter(t)
	group, task := h.processingTask(t)
	require.NoError(t, h.groups.Acknowledge(group.ID, "bob"))

	require.NoError(t, h.promoter.Promote(context.Background(), task.ID))

	got, _ := h.tasks.Get(task.ID)
	assert.Equal(t, StatusLive, got.Status)

	updated, _ := h.groups.Get(group.ID)
	assert.Equal(t, task.SelectionCriteria.ValueIDs, updated.SelectedValueIDs)
	assert.NotEmpty(t, updated.ContentInstanceURL)

	// The reduced file was copied into the serving location.
	ok, err := h.files.Exists(updated.ContentInstanceURL)
	require.NoError(t, err)
	assert.True(t, ok)

	// Disclaimer acknowledgments are reset on content change.
	users, err := h.groups.AcknowledgedUsers(group.ID)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPromoteDemotesPreviousLive(t *testing.T) {
	h := setupPromoter(t)
	group, first := h.processingTask(t)
	require.NoError(t, h.promoter.Promote(context.Background(), first.ID))

	second := newTestTask(group.ID)
	require.NoError(t, h.tasks.Create(second))
	require.NoError(t, h.tasks.MarkProcessing(second.ID))
	h.files.Put("/work/"+second.ID+"/reduced.dat", []byte("newer content"))
	require.NoError(t, h.tasks.RecordOutput(second.ID, "/work/"+second.ID+"/reduced.dat", 0))

	require.NoError(t, h.promoter.Promote(context.Background(), second.ID))

	gotFirst, _ := h.tasks.Get(first.ID)
	assert.Equal(t, StatusReplaced, gotFirst.Status)
	gotSecond, _ := h.tasks.Get(second.ID)
	assert.Equal(t, StatusLive, gotSecond.Status)
}

func TestPromoteSkipsCanceledTask(t *testing.T) {
	h := setupPromoter(t)
	group, task := h.processingTask(t)

	// The cancel landed between worker completion and promotion. The
	// guarded transition makes the cancel win.
	require.NoError(t, h.tasks.MarkCanceled(task.ID, "operator canceled"))

	require.NoError(t, h.promoter.Promote(context.Background(), task.ID))

	got, _ := h.tasks.Get(task.ID)
	assert.Equal(t, StatusCanceled, got.Status)

	// The group never saw the canceled output and the staged serve copy
	// was removed again.
	updated, _ := h.groups.Get(group.ID)
	assert.Empty(t, updated.ContentInstanceURL)
	ok, err := h.files.Exists("/serve/" + group.ID + "/" + task.ID + ".dat")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPromoteDiscardsTaskOfDeletedGroup(t *testing.T) {
	h := setupPromoter(t)
	group, task := h.processingTask(t)
	require.NoError(t, h.groups.Delete(group.ID))

	require.NoError(t, h.promoter.Promote(context.Background(), task.ID))

	got, _ := h.tasks.Get(task.ID)
	assert.Equal(t, StatusCanceled, got.Status)
}

func TestPromoteUnknownTask(t *testing.T) {
	h := setupPromoter(t)
	err := h.promoter.Promote(context.Background(), "missing")
	require.Error(t, err)
}

func TestDispatcherCancelUnknownTask(t *testing.T) {
	h := setupPromoter(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	hierStore := hierarchy.NewStore(h.db)
	worker := NewWorker(h.tasks, hierStore, h.files, t.TempDir(), log)
	monitor := NewMonitor(h.tasks, h.promoter, log)
	dispatcher := NewDispatcher(context.Background(), worker, monitor, h.tasks, 1, log)

	err := dispatcher.Cancel("missing", "no such task")
	require.Error(t, err)
}
