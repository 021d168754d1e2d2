// Package reconcile exposes reconciliation and collapse runs over HTTP.
package reconcile

import (
	"context"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reconciliation"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Runner runs passes over the catalog.
type Runner interface {
	RunReconciliation(ctx context.Context, opts reconciliation.Options) (models.ReconciliationReport, error)
	RunDuplicateCollapse(ctx context.Context, source models.SourceName, dryRun bool) (models.CollapseReport, error)
}

// Handler serves run endpoints. Only one run executes at a time.
type Handler struct {
	runner Runner
	logger ectologger.Logger
	mu     sync.Mutex
}

// NewHandler creates a run handler.
func NewHandler(runner Runner, logger ectologger.Logger) *Handler {
	return &Handler{
		runner: runner,
		logger: logger,
	}
}

// RegisterRoutes registers run and metrics endpoints.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/v1/reconciliations", h.Reconcile)
	e.POST("/api/v1/collapses", h.Collapse)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// ReconcileRequest is the body of POST /api/v1/reconciliations.
type ReconcileRequest struct {
	Building      string   `json:"building"`
	IDs           []string `json:"ids" validate:"omitempty,dive,required"`
	Threshold     float64  `json:"threshold" validate:"omitempty,gt=0,lte=1"`
	TypeThreshold *int     `json:"type_threshold" validate:"omitempty,gte=0"`
	DryRun        bool     `json:"dry_run"`
	Backfill      *bool    `json:"backfill"`
	ForceReplace  []string `json:"force_replace"`
	CopyOnly      []string `json:"copy_only"`
}

// Options converts the request into run options.
func (r ReconcileRequest) Options() reconciliation.Options {
	opts := reconciliation.DefaultOptions()
	opts.Filter = reconciliation.Filter{Building: r.Building, IDs: r.IDs}
	if r.Threshold > 0 {
		opts.Threshold = r.Threshold
	}
	if r.TypeThreshold != nil {
		opts.TypeThreshold = *r.TypeThreshold
	}
	opts.DryRun = r.DryRun
	if r.Backfill != nil {
		opts.Backfill = *r.Backfill
	}
	opts.ForceReplace = r.ForceReplace
	opts.CopyOnly = r.CopyOnly
	return opts
}

// CollapseRequest is the body of POST /api/v1/collapses.
type CollapseRequest struct {
	Source string `json:"source" validate:"required,oneof=domrf avito domclick cian"`
	DryRun bool   `json:"dry_run"`
}

// Reconcile runs one reconciliation pass and returns its report.
func (h *Handler) Reconcile(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "reconcile.Handler.Reconcile")
	defer span.End()

	req, err := utils.BindRequest[ReconcileRequest](c)
	if err != nil {
		return err
	}

	if !h.mu.TryLock() {
		return httperror.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	defer h.mu.Unlock()

	report, err := h.runner.RunReconciliation(ctx, req.Options())
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Reconciliation run failed")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "reconciliation failed: %s", err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

// Collapse runs one duplicate-collapse pass and returns its report.
func (h *Handler) Collapse(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "reconcile.Handler.Collapse")
	defer span.End()

	req, err := utils.BindRequest[CollapseRequest](c)
	if err != nil {
		return err
	}
	source, err := models.ParseSourceName(req.Source)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if !h.mu.TryLock() {
		return httperror.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	defer h.mu.Unlock()

	report, err := h.runner.RunDuplicateCollapse(ctx, source, req.DryRun)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("source", source).Error("Collapse run failed")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "collapse failed: %s", err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
