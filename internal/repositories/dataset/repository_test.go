package dataset_test

import (
	"context"
	"net/http"
	"os"
	"sort"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/internal/repositories/dataset"
	"github.com/Ramsey-B/fern/pkg/database"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "fern"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

// assertHTTPStatus asserts that err is an HTTP error with the given status
func assertHTTPStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, status, httperror.GetStatusCode(err), "expected %d, got: %d", status, httperror.GetStatusCode(err))
}

func seedDataset(t *testing.T, db database.DB, uri string) int64 {
	t.Helper()
	ctx := context.Background()

	ib := database.NewInsertBuilder()
	ib.InsertInto("dataset")
	ib.Cols("uri", "extra")
	ib.Values(uri, []byte(`{}`))
	ib.Returning("id")

	query, args := ib.Build()

	var id int64
	require.NoError(t, db.GetContext(ctx, &id, query, args...))

	t.Cleanup(func() {
		for _, table := range []string{"dag_schedule_dataset_reference", "task_outlet_dataset_reference"} {
			_, _ = db.ExecContext(ctx, "DELETE FROM "+table+" WHERE dataset_id = $1", id)
		}
		_, _ = db.ExecContext(ctx, "DELETE FROM dataset WHERE id = $1", id)
	})

	return id
}

func seedConsumingDag(t *testing.T, db database.DB, datasetID int64, dagID string) {
	t.Helper()
	ctx := context.Background()

	ib := database.NewInsertBuilder()
	ib.InsertInto("dag_schedule_dataset_reference")
	ib.Cols("dag_id", "dataset_id")
	ib.Values(dagID, datasetID)

	query, args := ib.Build()
	_, err := db.ExecContext(ctx, query, args...)
	require.NoError(t, err)
}

func seedProducingTask(t *testing.T, db database.DB, datasetID int64, dagID, taskID string) {
	t.Helper()
	ctx := context.Background()

	ib := database.NewInsertBuilder()
	ib.InsertInto("task_outlet_dataset_reference")
	ib.Cols("dag_id", "task_id", "dataset_id")
	ib.Values(dagID, taskID, datasetID)

	query, args := ib.Build()
	_, err := db.ExecContext(ctx, query, args...)
	require.NoError(t, err)
}

func TestDatasetRepository_GetByURI(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := dataset.NewRepository(db, getTestLogger())
	ctx := context.Background()

	id := seedDataset(t, db, "s3://get-by-uri/data.parquet")
	seedConsumingDag(t, db, id, "consumer-dag")
	seedProducingTask(t, db, id, "producer-dag", "emit-task")

	ds, err := repo.GetByURI(ctx, "s3://get-by-uri/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, id, ds.ID)
	assert.Equal(t, "s3://get-by-uri/data.parquet", ds.URI)
	require.Len(t, ds.ConsumingDags, 1)
	assert.Equal(t, "consumer-dag", ds.ConsumingDags[0].DagID)
	require.Len(t, ds.ProducingTasks, 1)
	assert.Equal(t, "emit-task", ds.ProducingTasks[0].TaskID)
}

func TestDatasetRepository_GetByURI_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := dataset.NewRepository(db, getTestLogger())

	_, err := repo.GetByURI(context.Background(), "s3://does-not-exist")
	assertHTTPStatus(t, err, http.StatusNotFound)
}

func TestDatasetRepository_List(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := dataset.NewRepository(db, getTestLogger())
	ctx := context.Background()

	seedDataset(t, db, "s3://list-alpha/a")
	seedDataset(t, db, "s3://list-alpha/b")
	seedDataset(t, db, "gcs://list-other/c")

	datasets, total, err := repo.List(ctx, dataset.ListQuery{
		Limit:      100,
		URIPattern: "list-alpha",
		OrderBy:    []string{"uri ASC", "id ASC"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, datasets, 2)
	assert.Equal(t, "s3://list-alpha/a", datasets[0].URI)
	assert.Equal(t, "s3://list-alpha/b", datasets[1].URI)
	// references default to empty slices, never nil
	assert.NotNil(t, datasets[0].ConsumingDags)
	assert.NotNil(t, datasets[0].ProducingTasks)
}

func TestDatasetRepository_List_TotalIndependentOfPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := dataset.NewRepository(db, getTestLogger())
	ctx := context.Background()

	seedDataset(t, db, "s3://paging/1")
	seedDataset(t, db, "s3://paging/2")
	seedDataset(t, db, "s3://paging/3")

	page, total, err := repo.List(ctx, dataset.ListQuery{
		Limit:      1,
		Offset:     1,
		URIPattern: "s3://paging/",
		OrderBy:    []string{"uri ASC", "id ASC"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "s3://paging/2", page[0].URI)
}

func TestDatasetRepository_List_PageWalkIsMonotonic(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := dataset.NewRepository(db, getTestLogger())
	ctx := context.Background()

	uris := []string{
		"s3://walk/a",
		"s3://walk/b",
		"s3://walk/c",
		"s3://walk/d",
	}
	for _, uri := range uris {
		seedDataset(t, db, uri)
	}

	// concatenating limit=1 pages in offset order must reproduce the full
	// sorted set with no gaps or duplicates
	var walked []string
	for offset := 0; offset < len(uris); offset++ {
		page, total, err := repo.List(ctx, dataset.ListQuery{
			Limit:      1,
			Offset:     offset,
			URIPattern: "s3://walk/",
			OrderBy:    []string{"uri ASC", "id ASC"},
		})
		require.NoError(t, err)
		assert.Equal(t, len(uris), total)
		require.Len(t, page, 1)
		walked = append(walked, page[0].URI)
	}

	assert.Equal(t, uris, walked)
	assert.True(t, sort.StringsAreSorted(walked))
}

func TestDatasetRepository_Delete_ReferencedConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := dataset.NewRepository(db, getTestLogger())
	ctx := context.Background()

	id := seedDataset(t, db, "s3://guarded/data")
	seedConsumingDag(t, db, id, "still-consuming")

	err := repo.Delete(ctx, "s3://guarded/data")
	assertHTTPStatus(t, err, http.StatusConflict)

	// the guarded delete must leave the row intact
	ds, err := repo.GetByURI(ctx, "s3://guarded/data")
	require.NoError(t, err)
	assert.Equal(t, id, ds.ID)
}

func TestDatasetRepository_Delete_Unreferenced(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := dataset.NewRepository(db, getTestLogger())
	ctx := context.Background()

	seedDataset(t, db, "s3://deletable/data")

	require.NoError(t, repo.Delete(ctx, "s3://deletable/data"))

	_, err := repo.GetByURI(ctx, "s3://deletable/data")
	assertHTTPStatus(t, err, http.StatusNotFound)
}

func TestDatasetRepository_Delete_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := dataset.NewRepository(db, getTestLogger())

	err := repo.Delete(context.Background(), "s3://never-existed")
	assertHTTPStatus(t, err, http.StatusNotFound)
}
