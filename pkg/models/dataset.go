package models

import (
	"encoding/json"
	"time"
)

// Dataset is a URI-identified data artifact tracked by the catalog. The URI is
// the stable public identifier; the surrogate id never leaves the database
// layer except for sorting.
type Dataset struct {
	ID        int64           `json:"id" db:"id"`
	URI       string          `json:"uri" db:"uri"`
	Extra     json.RawMessage `json:"extra,omitempty" db:"extra"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`

	// Loaded in a second batched query, never via joins on the root query.
	ConsumingDags  []DagScheduleReference `json:"consuming_dags" db:"-"`
	ProducingTasks []TaskOutletReference  `json:"producing_tasks" db:"-"`
}

// DagScheduleReference marks a DAG as a consumer of a dataset. A dataset with
// any of these may not be deleted.
type DagScheduleReference struct {
	DagID     string    `json:"dag_id" db:"dag_id"`
	DatasetID int64     `json:"-" db:"dataset_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TaskOutletReference marks a task as a producer of a dataset. A dataset with
// any of these may not be deleted.
type TaskOutletReference struct {
	DagID     string    `json:"dag_id" db:"dag_id"`
	TaskID    string    `json:"task_id" db:"task_id"`
	DatasetID int64     `json:"-" db:"dataset_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DatasetCollection is a page of datasets. TotalEntries counts the whole
// filtered set, not the page, so clients can render pagination.
type DatasetCollection struct {
	Datasets     []Dataset `json:"datasets"`
	TotalEntries int       `json:"total_entries"`
}

// ListDatasetsRequest carries the validated query parameters for listing
// datasets. Every filter is optional; an absent filter matches everything.
type ListDatasetsRequest struct {
	Limit      int    `query:"limit" validate:"omitempty,gte=0"`
	Offset     int    `query:"offset" validate:"gte=0"`
	URIPattern string `query:"uri_pattern"`
	OrderBy    string `query:"order_by"`
}
