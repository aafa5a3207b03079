package datasetevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func TestListPredicates_AbsentFiltersSkipped(t *testing.T) {
	assert.Empty(t, listPredicates(ListQuery{}))

	// empty strings behave like absent filters
	q := ListQuery{
		SourceDagID:  strPtr(""),
		SourceTaskID: strPtr(""),
		SourceRunID:  strPtr(""),
	}
	assert.Empty(t, listPredicates(q))
}

func TestListPredicates_AllFilters(t *testing.T) {
	q := ListQuery{
		DatasetID:      int64Ptr(7),
		SourceDagID:    strPtr("etl-dag"),
		SourceTaskID:   strPtr("publish"),
		SourceRunID:    strPtr("manual__2024-01-01"),
		SourceMapIndex: intPtr(3),
	}

	preds := listPredicates(q)
	assert.Len(t, preds, 5)

	query, args := buildCountQuery(preds)
	assert.Contains(t, query, "dataset_id =")
	assert.Contains(t, query, "source_dag_id =")
	assert.Contains(t, query, "source_task_id =")
	assert.Contains(t, query, "source_run_id =")
	assert.Contains(t, query, "source_map_index =")
	assert.ElementsMatch(t, []any{int64(7), "etl-dag", "publish", "manual__2024-01-01", 3}, args)
}

func TestListPredicates_MapIndexZeroValuesFilter(t *testing.T) {
	// 0 and the unmapped sentinel -1 are legitimate equality filters
	for _, mapIndex := range []int{0, -1} {
		q := ListQuery{SourceMapIndex: intPtr(mapIndex)}

		preds := listPredicates(q)
		assert.Len(t, preds, 1)

		query, args := buildCountQuery(preds)
		assert.Contains(t, query, "source_map_index =")
		assert.Equal(t, []any{mapIndex}, args)
	}
}

func TestBuildListQuery_CountParity(t *testing.T) {
	q := ListQuery{
		Limit:       50,
		Offset:      100,
		DatasetID:   int64Ptr(12),
		SourceDagID: strPtr("producer"),
		OrderBy:     []string{"timestamp DESC", "id ASC"},
	}
	preds := listPredicates(q)

	listQuery, listArgs := buildListQuery(q, preds)
	countQuery, countArgs := buildCountQuery(preds)

	assert.Contains(t, listQuery, "ORDER BY timestamp DESC, id ASC")
	assert.Contains(t, listQuery, "LIMIT")
	assert.NotContains(t, countQuery, "LIMIT")
	assert.NotContains(t, countQuery, "ORDER BY")

	// both queries must see the same filter args
	for _, arg := range countArgs {
		assert.Contains(t, listArgs, arg)
	}
	assert.Len(t, countArgs, 2)
}
