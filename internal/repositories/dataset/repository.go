package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"
)

// OrderableFields is the order_by allow-list for datasets.
var OrderableFields = []string{"id", "uri", "created_at", "updated_at"}

// ListQuery is a fully validated list request: order clauses come from the
// params allow-list, never from raw caller input.
type ListQuery struct {
	Limit      int
	Offset     int
	URIPattern string
	OrderBy    []string
}

// DatasetRepository defines the catalog operations over datasets
type DatasetRepository interface {
	GetByURI(ctx context.Context, uri string) (*models.Dataset, error)
	List(ctx context.Context, q ListQuery) ([]models.Dataset, int, error)
	Delete(ctx context.Context, uri string) error
}

// Repository implements DatasetRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new dataset repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const (
	tableName      = "dataset"
	consumingTable = "dag_schedule_dataset_reference"
	producingTable = "task_outlet_dataset_reference"
)

var datasetColumns = []string{"id", "uri", "extra", "created_at", "updated_at"}

// predicate contributes one WHERE condition to a builder. Predicates are built
// once per request and folded over both the row query and the count query so
// the two can never disagree.
type predicate func(sb *database.SelectBuilder) string

func listPredicates(q ListQuery) []predicate {
	preds := make([]predicate, 0, 1)
	if q.URIPattern != "" {
		pattern := "%" + q.URIPattern + "%"
		preds = append(preds, func(sb *database.SelectBuilder) string {
			return sb.ILike("uri", pattern)
		})
	}
	return preds
}

func applyPredicates(sb *database.SelectBuilder, preds []predicate) {
	for _, p := range preds {
		sb.Where(p(sb))
	}
}

// GetByURI gets a dataset by its URI with consuming/producing references loaded
func (r *Repository) GetByURI(ctx context.Context, uri string) (*models.Dataset, error) {
	ctx, span := tracing.StartSpan(ctx, "DatasetRepository.GetByURI")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(datasetColumns...)
	sb.From(tableName)
	sb.Where(sb.Equal("uri", uri))

	query, args := sb.Build()

	var ds models.Dataset
	err := r.db.GetContext(ctx, &ds, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "the dataset with uri `%s` was not found", uri)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get dataset by uri")
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	datasets, err := r.loadReferences(ctx, []models.Dataset{ds})
	if err != nil {
		return nil, err
	}

	return &datasets[0], nil
}

// List lists datasets with optional uri filtering and allow-listed ordering.
// The returned count is the size of the whole filtered set, computed with the
// same predicates as the row query but without pagination.
func (r *Repository) List(ctx context.Context, q ListQuery) ([]models.Dataset, int, error) {
	ctx, span := tracing.StartSpan(ctx, "DatasetRepository.List")
	defer span.End()

	preds := listPredicates(q)

	countQuery, countArgs := buildCountQuery(tableName, preds)

	var totalEntries int
	err := r.db.GetContext(ctx, &totalEntries, countQuery, countArgs...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count datasets")
		return nil, 0, fmt.Errorf("failed to count datasets: %w", err)
	}

	query, args := buildListQuery(q, preds)

	datasets := []models.Dataset{}
	err = r.db.SelectContext(ctx, &datasets, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list datasets")
		return nil, 0, fmt.Errorf("failed to list datasets: %w", err)
	}

	datasets, err = r.loadReferences(ctx, datasets)
	if err != nil {
		return nil, 0, err
	}

	return datasets, totalEntries, nil
}

func buildListQuery(q ListQuery, preds []predicate) (string, []any) {
	sb := database.NewSelectBuilder()
	sb.Select(datasetColumns...)
	sb.From(tableName)
	applyPredicates(sb, preds)
	// ordering must precede pagination for stable pages
	sb.OrderBy(q.OrderBy...)
	sb.Offset(q.Offset)
	sb.Limit(q.Limit)
	return sb.Build()
}

// buildCountQuery counts root rows only. The relationship tables are loaded in
// separate batched queries, so the count can never be inflated by joins.
func buildCountQuery(table string, preds []predicate) (string, []any) {
	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(table)
	applyPredicates(sb, preds)
	return sb.Build()
}

// Delete removes a dataset by URI. The reference check and the delete run in
// one transaction, with the dataset row locked FOR UPDATE so no concurrent
// writer can attach a new consuming/producing reference between the check and
// the delete.
func (r *Repository) Delete(ctx context.Context, uri string) error {
	ctx, span := tracing.StartSpan(ctx, "DatasetRepository.Delete")
	defer span.End()

	callerCtx := ctx
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(callerCtx)

	sb := database.NewSelectBuilder()
	sb.Select("id")
	sb.From(tableName)
	sb.Where(sb.Equal("uri", uri))
	sb.SQL("FOR UPDATE")

	query, args := sb.Build()

	var id int64
	err = tx.GetContext(ctx, &id, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "the dataset with uri `%s` was not found", uri)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to resolve dataset for deletion")
		return fmt.Errorf("failed to resolve dataset: %w", err)
	}

	referenced, err := r.isReferenced(ctx, tx, id)
	if err != nil {
		return err
	}
	if referenced {
		return httperror.NewHTTPError(http.StatusConflict, "the dataset is still referenced by consuming DAGs or producing tasks")
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	db.Where(db.Equal("id", id))

	query, args = db.Build()

	_, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete dataset")
		return fmt.Errorf("failed to delete dataset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":  id,
		"uri": uri,
	}).Info("deleted dataset")

	return nil
}

// isReferenced reports whether any consuming DAG or producing task still
// points at the dataset. It must run on the deletion transaction.
func (r *Repository) isReferenced(ctx context.Context, tx database.Tx, datasetID int64) (bool, error) {
	for _, table := range []string{consumingTable, producingTable} {
		sb := database.NewSelectBuilder()
		sb.Select("COUNT(*)")
		sb.From(table)
		sb.Where(sb.Equal("dataset_id", datasetID))

		query, args := sb.Build()

		var count int
		if err := tx.GetContext(ctx, &count, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Errorf("failed to count references in %s", table)
			return false, fmt.Errorf("failed to count dataset references: %w", err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// loadReferences attaches consuming_dags and producing_tasks to the given
// datasets with one batched query per relationship, keyed by the parent ids.
func (r *Repository) loadReferences(ctx context.Context, datasets []models.Dataset) ([]models.Dataset, error) {
	if len(datasets) == 0 {
		return datasets, nil
	}

	ids := make([]int64, len(datasets))
	for i, ds := range datasets {
		ids[i] = ds.ID
	}

	sb := database.NewSelectBuilder()
	sb.Select("dag_id", "dataset_id", "created_at", "updated_at")
	sb.From(consumingTable)
	sb.Where(sb.In("dataset_id", sqlbuilder.List(ids)))
	sb.OrderBy("dag_id ASC")

	query, args := sb.Build()

	var consuming []models.DagScheduleReference
	if err := r.db.SelectContext(ctx, &consuming, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to load consuming dag references")
		return nil, fmt.Errorf("failed to load consuming dag references: %w", err)
	}

	sb = database.NewSelectBuilder()
	sb.Select("dag_id", "task_id", "dataset_id", "created_at", "updated_at")
	sb.From(producingTable)
	sb.Where(sb.In("dataset_id", sqlbuilder.List(ids)))
	sb.OrderBy("dag_id ASC", "task_id ASC")

	query, args = sb.Build()

	var producing []models.TaskOutletReference
	if err := r.db.SelectContext(ctx, &producing, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to load producing task references")
		return nil, fmt.Errorf("failed to load producing task references: %w", err)
	}

	consumingByDataset := make(map[int64][]models.DagScheduleReference)
	for _, ref := range consuming {
		consumingByDataset[ref.DatasetID] = append(consumingByDataset[ref.DatasetID], ref)
	}
	producingByDataset := make(map[int64][]models.TaskOutletReference)
	for _, ref := range producing {
		producingByDataset[ref.DatasetID] = append(producingByDataset[ref.DatasetID], ref)
	}

	for i := range datasets {
		datasets[i].ConsumingDags = consumingByDataset[datasets[i].ID]
		if datasets[i].ConsumingDags == nil {
			datasets[i].ConsumingDags = []models.DagScheduleReference{}
		}
		datasets[i].ProducingTasks = producingByDataset[datasets[i].ID]
		if datasets[i].ProducingTasks == nil {
			datasets[i].ProducingTasks = []models.TaskOutletReference{}
		}
	}

	return datasets, nil
}
