package dataset

import (
	"net/http"
	"net/url"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	dsrepo "github.com/Ramsey-B/fern/internal/repositories/dataset"
	eventrepo "github.com/Ramsey-B/fern/internal/repositories/datasetevent"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/params"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// Handler exposes the dataset catalog over HTTP. AuthN/authZ and audit
// logging live in the proxy in front of this service; by the time a request
// lands here it is authorized.
type Handler struct {
	datasets          dsrepo.DatasetRepository
	events            eventrepo.DatasetEventRepository
	logger            ectologger.Logger
	maximumPageLimit  int
	fallbackPageLimit int
}

// NewHandler creates a new dataset handler
func NewHandler(
	datasets dsrepo.DatasetRepository,
	events eventrepo.DatasetEventRepository,
	logger ectologger.Logger,
	maximumPageLimit int,
	fallbackPageLimit int,
) *Handler {
	return &Handler{
		datasets:          datasets,
		events:            events,
		logger:            logger,
		maximumPageLimit:  maximumPageLimit,
		fallbackPageLimit: fallbackPageLimit,
	}
}

// Register registers dataset routes. The events route must not collide with
// the uri param route; echo matches static segments first.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/datasets", h.List)
	g.GET("/datasets/events", h.ListEvents)
	g.GET("/datasets/:uri", h.Get)
	g.DELETE("/datasets/:uri", h.Delete)
}

// uriParam extracts and decodes the dataset URI path parameter. Dataset URIs
// contain slashes, so callers send them percent-encoded.
func uriParam(c echo.Context) (string, error) {
	raw := c.Param("uri")
	if raw == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "uri is required")
	}
	uri, err := url.PathUnescape(raw)
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "uri is not a valid percent-encoded value")
	}
	return uri, nil
}

// Get returns a single dataset by URI with its references loaded
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dataset_handler.Get")
	defer span.End()

	uri, err := uriParam(c)
	if err != nil {
		return err
	}

	result, err := h.datasets.GetByURI(ctx, uri)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// List returns a page of datasets with the unpaginated filtered count
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dataset_handler.List")
	defer span.End()

	var req models.ListDatasetsRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	limit, err := params.CheckLimit(req.Limit, h.fallbackPageLimit, h.maximumPageLimit)
	if err != nil {
		return err
	}
	offset, err := params.CheckOffset(req.Offset)
	if err != nil {
		return err
	}

	orderToken := req.OrderBy
	if orderToken == "" {
		orderToken = "id"
	}
	orderBy, err := params.ResolveOrderBy(dsrepo.OrderableFields, orderToken, "id")
	if err != nil {
		return err
	}

	datasets, totalEntries, err := h.datasets.List(ctx, dsrepo.ListQuery{
		Limit:      limit,
		Offset:     offset,
		URIPattern: req.URIPattern,
		OrderBy:    orderBy,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.DatasetCollection{
		Datasets:     datasets,
		TotalEntries: totalEntries,
	})
}

// ListEvents returns a page of dataset events with the unpaginated filtered count
func (h *Handler) ListEvents(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dataset_handler.ListEvents")
	defer span.End()

	var req models.ListDatasetEventsRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	limit, err := params.CheckLimit(req.Limit, h.fallbackPageLimit, h.maximumPageLimit)
	if err != nil {
		return err
	}
	offset, err := params.CheckOffset(req.Offset)
	if err != nil {
		return err
	}

	orderToken := req.OrderBy
	if orderToken == "" {
		orderToken = "timestamp"
	}
	orderBy, err := params.ResolveOrderBy(eventrepo.OrderableFields, orderToken, "id")
	if err != nil {
		return err
	}

	events, totalEntries, err := h.events.List(ctx, eventrepo.ListQuery{
		Limit:          limit,
		Offset:         offset,
		OrderBy:        orderBy,
		DatasetID:      req.DatasetID,
		SourceDagID:    req.SourceDagID,
		SourceTaskID:   req.SourceTaskID,
		SourceRunID:    req.SourceRunID,
		SourceMapIndex: req.SourceMapIndex,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.DatasetEventCollection{
		DatasetEvents: events,
		TotalEntries:  totalEntries,
	})
}

// Delete removes a dataset by URI unless it is still referenced
func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dataset_handler.Delete")
	defer span.End()

	uri, err := uriParam(c)
	if err != nil {
		return err
	}

	if err := h.datasets.Delete(ctx, uri); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
