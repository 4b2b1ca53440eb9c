package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_SaveAndGetTask(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task := sampleTask()
	task.Report = &model.Report{
		BoughtProducts: []model.Bought{{
			OriginalProductName: "Аспирин",
			Offers: []model.Offer{
				{Distributor: "sting", Name: "АСПИРИН", Price: 4.2},
			},
			BoughtFromDistributor: "sting",
		}},
		UnboughtProducts: []model.Unbought{{ProductName: "Аналгин", Quantity: 2}},
	}
	require.NoError(t, st.SaveTask(ctx, task))

	got, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.AccountID, got.AccountID)
	assert.Equal(t, task.Status, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, task.Report.UnboughtProducts, got.Report.UnboughtProducts)
	assert.InDelta(t, 4.2, got.Report.BoughtProducts[0].Offers[0].Price, 1e-9)
}

func TestSQLite_SaveTaskOverwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task := sampleTask()
	require.NoError(t, st.SaveTask(ctx, task))
	created := task.DateCreated

	task.Status = model.TaskStatus{Status: model.StatusSuccess, Message: "done", Progress: 100}
	require.NoError(t, st.SaveTask(ctx, task))

	got, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status.Status)
	assert.Equal(t, 100, got.Status.Progress)
	assert.Equal(t, created, got.DateCreated)

	var rows int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&rows))
	assert.Equal(t, 1, rows)

	var status string
	require.NoError(t, st.db.QueryRow(`SELECT status FROM tasks WHERE id = ?`, "task-1").Scan(&status))
	assert.Equal(t, "success", status)
}

func TestSQLite_GetTaskNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetTask(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestSQLite_GeneratesID(t *testing.T) {
	st := newTestSQLiteStore(t)
	task := sampleTask()
	task.ID = ""

	require.NoError(t, st.SaveTask(context.Background(), task))
	require.NotEmpty(t, task.ID)

	_, err := st.GetTask(context.Background(), task.ID)
	assert.NoError(t, err)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.IsType(t, &SQLiteStore{}, st)
}
