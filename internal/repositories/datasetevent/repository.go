package datasetevent

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"
)

// OrderableFields is the order_by allow-list for dataset events.
var OrderableFields = []string{"source_dag_id", "source_task_id", "source_run_id", "source_map_index", "timestamp"}

// ListQuery is a fully validated list request for dataset events. Pointer
// filters distinguish "not supplied" from zero values; in particular
// SourceMapIndex of 0 or -1 is a real equality filter.
type ListQuery struct {
	Limit          int
	Offset         int
	OrderBy        []string
	DatasetID      *int64
	SourceDagID    *string
	SourceTaskID   *string
	SourceRunID    *string
	SourceMapIndex *int
}

// DatasetEventRepository defines the read operations over dataset events
type DatasetEventRepository interface {
	List(ctx context.Context, q ListQuery) ([]models.DatasetEvent, int, error)
}

// Repository implements DatasetEventRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new dataset event repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const (
	tableName        = "dataset_event"
	dagRunTable      = "dag_run"
	associationTable = "dagrun_dataset_event"
)

var eventColumns = []string{"id", "dataset_id", "extra", "source_dag_id", "source_task_id", "source_run_id", "source_map_index", "timestamp"}

type predicate func(sb *database.SelectBuilder) string

// listPredicates folds the optional filters into conditions. Absent pointers
// and empty strings contribute nothing; everything else is exact equality.
func listPredicates(q ListQuery) []predicate {
	preds := make([]predicate, 0, 5)
	if q.DatasetID != nil {
		id := *q.DatasetID
		preds = append(preds, func(sb *database.SelectBuilder) string {
			return sb.Equal("dataset_id", id)
		})
	}
	if q.SourceDagID != nil && *q.SourceDagID != "" {
		dagID := *q.SourceDagID
		preds = append(preds, func(sb *database.SelectBuilder) string {
			return sb.Equal("source_dag_id", dagID)
		})
	}
	if q.SourceTaskID != nil && *q.SourceTaskID != "" {
		taskID := *q.SourceTaskID
		preds = append(preds, func(sb *database.SelectBuilder) string {
			return sb.Equal("source_task_id", taskID)
		})
	}
	if q.SourceRunID != nil && *q.SourceRunID != "" {
		runID := *q.SourceRunID
		preds = append(preds, func(sb *database.SelectBuilder) string {
			return sb.Equal("source_run_id", runID)
		})
	}
	if q.SourceMapIndex != nil {
		mapIndex := *q.SourceMapIndex
		preds = append(preds, func(sb *database.SelectBuilder) string {
			return sb.Equal("source_map_index", mapIndex)
		})
	}
	return preds
}

func applyPredicates(sb *database.SelectBuilder, preds []predicate) {
	for _, p := range preds {
		sb.Where(p(sb))
	}
}

// List lists dataset events with optional provenance filters and allow-listed
// ordering. The count runs under the same predicates without pagination.
func (r *Repository) List(ctx context.Context, q ListQuery) ([]models.DatasetEvent, int, error) {
	ctx, span := tracing.StartSpan(ctx, "DatasetEventRepository.List")
	defer span.End()

	preds := listPredicates(q)

	countQuery, countArgs := buildCountQuery(preds)

	var totalEntries int
	err := r.db.GetContext(ctx, &totalEntries, countQuery, countArgs...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count dataset events")
		return nil, 0, fmt.Errorf("failed to count dataset events: %w", err)
	}

	query, args := buildListQuery(q, preds)

	events := []models.DatasetEvent{}
	err = r.db.SelectContext(ctx, &events, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list dataset events")
		return nil, 0, fmt.Errorf("failed to list dataset events: %w", err)
	}

	events, err = r.loadCreatedDagRuns(ctx, events)
	if err != nil {
		return nil, 0, err
	}

	return events, totalEntries, nil
}

func buildListQuery(q ListQuery, preds []predicate) (string, []any) {
	sb := database.NewSelectBuilder()
	sb.Select(eventColumns...)
	sb.From(tableName)
	applyPredicates(sb, preds)
	sb.OrderBy(q.OrderBy...)
	sb.Offset(q.Offset)
	sb.Limit(q.Limit)
	return sb.Build()
}

func buildCountQuery(preds []predicate) (string, []any) {
	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(tableName)
	applyPredicates(sb, preds)
	return sb.Build()
}

// loadCreatedDagRuns attaches the DAG runs triggered by each event with a
// single batched query through the association table.
func (r *Repository) loadCreatedDagRuns(ctx context.Context, events []models.DatasetEvent) ([]models.DatasetEvent, error) {
	if len(events) == 0 {
		return events, nil
	}

	ids := make([]int64, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}

	sb := database.NewSelectBuilder()
	sb.Select("dde.event_id", "dr.run_id", "dr.dag_id", "dr.run_type", "dr.state", "dr.logical_date", "dr.start_date", "dr.end_date")
	sb.From(associationTable + " dde")
	sb.Join(dagRunTable+" dr", "dr.id = dde.dag_run_id")
	sb.Where(sb.In("dde.event_id", sqlbuilder.List(ids)))
	sb.OrderBy("dr.id ASC")

	query, args := sb.Build()

	var runs []models.BasicDagRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to load created dag runs")
		return nil, fmt.Errorf("failed to load created dag runs: %w", err)
	}

	runsByEvent := make(map[int64][]models.BasicDagRun)
	for _, run := range runs {
		runsByEvent[run.EventID] = append(runsByEvent[run.EventID], run)
	}

	for i := range events {
		events[i].CreatedDagRuns = runsByEvent[events[i].ID]
		if events[i].CreatedDagRuns == nil {
			events[i].CreatedDagRuns = []models.BasicDagRun{}
		}
	}

	return events, nil
}
