package models

import (
	"encoding/json"
	"time"
)

// MapIndexNone is the source_map_index value for events emitted by tasks that
// are not mapped. It is a real, filterable value, not an absence marker;
// "no filter requested" is expressed with a nil pointer instead.
const MapIndexNone = -1

// DatasetEvent records that a dataset was acted upon by a task run at a point
// in time. Events are append-only; this service never writes them.
type DatasetEvent struct {
	ID             int64           `json:"id" db:"id"`
	DatasetID      int64           `json:"dataset_id" db:"dataset_id"`
	Extra          json.RawMessage `json:"extra,omitempty" db:"extra"`
	SourceDagID    *string         `json:"source_dag_id" db:"source_dag_id"`
	SourceTaskID   *string         `json:"source_task_id" db:"source_task_id"`
	SourceRunID    *string         `json:"source_run_id" db:"source_run_id"`
	SourceMapIndex int             `json:"source_map_index" db:"source_map_index"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`

	CreatedDagRuns []BasicDagRun `json:"created_dagruns" db:"-"`
}

// BasicDagRun is the projection of a DAG run triggered by a dataset event,
// read through the dagrun_dataset_event association.
type BasicDagRun struct {
	EventID     int64      `json:"-" db:"event_id"`
	RunID       string     `json:"run_id" db:"run_id"`
	DagID       string     `json:"dag_id" db:"dag_id"`
	RunType     string     `json:"run_type" db:"run_type"`
	State       string     `json:"state" db:"state"`
	LogicalDate time.Time  `json:"logical_date" db:"logical_date"`
	StartDate   *time.Time `json:"start_date" db:"start_date"`
	EndDate     *time.Time `json:"end_date" db:"end_date"`
}

// DatasetEventCollection is a page of dataset events with the unpaginated
// filtered count.
type DatasetEventCollection struct {
	DatasetEvents []DatasetEvent `json:"dataset_events"`
	TotalEntries  int            `json:"total_entries"`
}

// ListDatasetEventsRequest carries the validated query parameters for listing
// dataset events. Pointer fields distinguish "not supplied" from zero values:
// source_map_index=0 is a legitimate filter for the first branch of a mapped
// task and must not be dropped.
type ListDatasetEventsRequest struct {
	Limit          int     `query:"limit" validate:"omitempty,gte=0"`
	Offset         int     `query:"offset" validate:"gte=0"`
	OrderBy        string  `query:"order_by"`
	DatasetID      *int64  `query:"dataset_id"`
	SourceDagID    *string `query:"source_dag_id"`
	SourceTaskID   *string `query:"source_task_id"`
	SourceRunID    *string `query:"source_run_id"`
	SourceMapIndex *int    `query:"source_map_index"`
}
