package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/api/response"
	"github.com/kiranshivaraju/casefile/internal/blob"
	"github.com/kiranshivaraju/casefile/internal/queue"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

const (
	dateLayout      = "2006-01-02"
	multipartMemory = 32 << 20
	statusCacheTTL  = 30 * time.Minute
	maxNotesLen     = 5000
	queueRetryAfter = 30 * time.Second
)

var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".m4v":  "video/x-m4v",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

// ReportStore is the part of store.Store the report handlers use.
type ReportStore interface {
	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error)
	ListReports(ctx context.Context, filter store.ReportFilter) ([]*models.Report, int, error)
	UpdateReportMetadata(ctx context.Context, id uuid.UUID, meta store.ReportMetadata) (*models.Report, error)
	ResetReportForRerun(ctx context.Context, id uuid.UUID) (*models.Report, error)
	UpdateReportStatus(ctx context.Context, id uuid.UUID, status models.ReportStatus, opts ...store.StatusUpdateOption) error
}

// Publisher enqueues pipeline runs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// StatusCache mirrors report statuses for polling.
type StatusCache interface {
	SetReportStatus(ctx context.Context, reportID uuid.UUID, status string, ttl time.Duration) error
	GetReportStatus(ctx context.Context, reportID uuid.UUID) (string, bool, error)
	DeleteReportStatus(ctx context.Context, reportID uuid.UUID) error
}

// ReportDeps holds the collaborators of the report handlers.
type ReportDeps struct {
	Store          ReportStore
	Blobs          blob.Store
	Queue          Publisher
	Cache          StatusCache
	MaxUploadBytes int64
}

// NewUploadReportHandler returns an http.HandlerFunc for POST /api/v1/reports.
// It stores the video, creates a pending report and enqueues a run.
func NewUploadReportHandler(deps ReportDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.MaxUploadBytes > 0 {
			if r.ContentLength > deps.MaxUploadBytes {
				response.Error(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", deps.MaxUploadBytes), nil)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				response.Error(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", maxErr.Limit), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart/form-data body", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("video")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "video file is required", nil)
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		contentType, ok := videoExtensions[ext]
		if !ok {
			response.Error(w, http.StatusBadRequest, "UNSUPPORTED_VIDEO", "Unsupported video file type", map[string]any{
				"extension": ext,
			})
			return
		}
		if header.Size == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "video file is empty", nil)
			return
		}

		meta, details := parseUploadMetadata(r)
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid report metadata", details)
			return
		}

		now := time.Now().UTC()
		report := &models.Report{
			ID:           uuid.New(),
			Status:       models.StatusPending,
			IncidentDate: meta.IncidentDate,
			OfficerBadge: deref(meta.OfficerBadge),
			IncidentType: deref(meta.IncidentType),
			Notes:        deref(meta.Notes),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		report.SourceVideoRef = blob.VideoKey(report.ID.String(), ext)

		ctx := r.Context()
		if err := deps.Blobs.Put(ctx, report.SourceVideoRef, file, header.Size, contentType); err != nil {
			slog.Error("storing uploaded video", "report_id", report.ID, "error", err)
			response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to store video", nil)
			return
		}

		if err := deps.Store.CreateReport(ctx, report); err != nil {
			slog.Error("creating report", "report_id", report.ID, "error", err)
			if derr := deps.Blobs.Delete(context.WithoutCancel(ctx), report.SourceVideoRef); derr != nil {
				slog.Warn("removing orphaned video", "key", report.SourceVideoRef, "error", derr)
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create report", nil)
			return
		}
		setCachedStatus(ctx, deps.Cache, report.ID, report.Status)

		if err := deps.Queue.Publish(ctx, queue.Message{ReportID: report.ID}); err != nil {
			slog.Error("enqueueing report", "report_id", report.ID, "error", err)
			markDispatchFailed(ctx, deps, report.ID)
			response.Unavailable(w, "QUEUE_UNAVAILABLE",
				"Report was created but could not be queued; rerun it later", queueRetryAfter, map[string]any{"id": report.ID})
			return
		}

		slog.Info("report accepted", "report_id", report.ID, "bytes", header.Size)
		response.Accepted(w, report)
	}
}

// NewListReportsHandler returns an http.HandlerFunc for GET /api/v1/reports.
func NewListReportsHandler(s ReportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		state := q.Get("state")
		switch state {
		case "":
			state = store.StateAll
		case store.StateAll, store.StateInProgress, store.StateCompleted:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"state must be one of all, in_progress, completed", nil)
			return
		}

		page, err := intParam(q.Get("page"), 1)
		if err != nil || page < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return
		}
		limit, err := intParam(q.Get("limit"), 20)
		if err != nil || limit < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
			return
		}
		if limit > 100 {
			limit = 100
		}

		reports, total, err := s.ListReports(r.Context(), store.ReportFilter{State: state, Page: page, Limit: limit})
		if err != nil {
			slog.Error("listing reports", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list reports", nil)
			return
		}

		response.Collection(w, reports, response.NewPaginationMeta(page, limit, total))
	}
}

// NewGetReportHandler returns an http.HandlerFunc for GET /api/v1/reports/{reportID}.
func NewGetReportHandler(s ReportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reportID(w, r)
		if !ok {
			return
		}
		report, err := s.GetReport(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, id)
			return
		}
		response.JSON(w, report)
	}
}

type statusResponse struct {
	ID            uuid.UUID           `json:"id"`
	Status        models.ReportStatus `json:"status"`
	Progress      int                 `json:"progress"`
	StatusMessage string              `json:"status_message"`
}

// NewReportStatusHandler returns an http.HandlerFunc for
// GET /api/v1/reports/{reportID}/status. A cached in-progress status is
// served without a database read; terminal states always come from the store
// so the failure message is included.
func NewReportStatusHandler(s ReportStore, c StatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reportID(w, r)
		if !ok {
			return
		}

		if c != nil {
			cached, found, err := c.GetReportStatus(r.Context(), id)
			if err != nil {
				slog.Warn("reading cached status", "report_id", id, "error", err)
			}
			if status := models.ReportStatus(cached); found && status.InProgress() {
				response.JSON(w, statusResponse{ID: id, Status: status, Progress: status.Progress()})
				return
			}
		}

		report, err := s.GetReport(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, id)
			return
		}
		response.JSON(w, statusResponse{
			ID:            report.ID,
			Status:        report.Status,
			Progress:      report.Progress(),
			StatusMessage: report.StatusMessage,
		})
	}
}

type updateReportRequest struct {
	IncidentDate *string `json:"incident_date"`
	OfficerBadge *string `json:"officer_badge"`
	IncidentType *string `json:"incident_type"`
	Notes        *string `json:"notes"`
}

// NewUpdateReportHandler returns an http.HandlerFunc for PATCH /api/v1/reports/{reportID}.
// Only incident metadata can be changed; pipeline outputs are read-only.
func NewUpdateReportHandler(s ReportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reportID(w, r)
		if !ok {
			return
		}

		var req updateReportRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Invalid JSON body; only incident_date, officer_badge, incident_type and notes can be updated", nil)
			return
		}

		meta := store.ReportMetadata{
			OfficerBadge: trimPtr(req.OfficerBadge),
			IncidentType: trimPtr(req.IncidentType),
			Notes:        req.Notes,
		}
		details := map[string]string{}
		if req.IncidentDate != nil {
			if strings.TrimSpace(*req.IncidentDate) == "" {
				meta.ClearIncidentDate = true
			} else if d, err := time.Parse(dateLayout, strings.TrimSpace(*req.IncidentDate)); err != nil {
				details["incident_date"] = "must be a date in YYYY-MM-DD format"
			} else {
				meta.IncidentDate = &d
			}
		}
		validateMetadata(meta, details)
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid report metadata", details)
			return
		}

		report, err := s.UpdateReportMetadata(r.Context(), id, meta)
		if err != nil {
			writeStoreError(w, err, id)
			return
		}
		response.JSON(w, report)
	}
}

// NewRerunReportHandler returns an http.HandlerFunc for
// POST /api/v1/reports/{reportID}/rerun. Only failed reports can be rerun; the
// run starts over from pending.
func NewRerunReportHandler(deps ReportDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reportID(w, r)
		if !ok {
			return
		}

		report, err := deps.Store.ResetReportForRerun(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				response.Error(w, http.StatusConflict, "REPORT_NOT_FAILED", "Only failed reports can be rerun", nil)
				return
			}
			writeStoreError(w, err, id)
			return
		}
		setCachedStatus(r.Context(), deps.Cache, id, report.Status)

		if err := deps.Queue.Publish(r.Context(), queue.Message{ReportID: id}); err != nil {
			slog.Error("enqueueing rerun", "report_id", id, "error", err)
			markDispatchFailed(r.Context(), deps, id)
			response.Unavailable(w, "QUEUE_UNAVAILABLE", "Report could not be queued", queueRetryAfter, nil)
			return
		}

		slog.Info("report rerun queued", "report_id", id)
		response.Accepted(w, report)
	}
}

func parseUploadMetadata(r *http.Request) (store.ReportMetadata, map[string]string) {
	details := map[string]string{}
	meta := store.ReportMetadata{}

	if v := strings.TrimSpace(r.FormValue("incident_date")); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			details["incident_date"] = "must be a date in YYYY-MM-DD format"
		} else {
			meta.IncidentDate = &d
		}
	}
	badge := strings.TrimSpace(r.FormValue("officer_badge"))
	incidentType := strings.TrimSpace(r.FormValue("incident_type"))
	notes := r.FormValue("notes")
	meta.OfficerBadge = &badge
	meta.IncidentType = &incidentType
	meta.Notes = &notes

	validateMetadata(meta, details)
	return meta, details
}

func validateMetadata(meta store.ReportMetadata, details map[string]string) {
	if meta.OfficerBadge != nil && utf8.RuneCountInString(*meta.OfficerBadge) > models.MaxOfficerBadgeLen {
		details["officer_badge"] = fmt.Sprintf("must be at most %d characters", models.MaxOfficerBadgeLen)
	}
	if meta.IncidentType != nil && !models.ValidIncidentType(*meta.IncidentType) {
		details["incident_type"] = "must be one of traffic-stop, domestic, theft, assault, drug, other"
	}
	if meta.Notes != nil && utf8.RuneCountInString(*meta.Notes) > maxNotesLen {
		details["notes"] = fmt.Sprintf("must be at most %d characters", maxNotesLen)
	}
}

func markDispatchFailed(ctx context.Context, deps ReportDeps, id uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	err := deps.Store.UpdateReportStatus(ctx, id, models.StatusFailed, store.WithStatusMessage("could not enqueue pipeline run"))
	if err != nil {
		slog.Error("marking undispatched report failed", "report_id", id, "error", err)
		return
	}
	setCachedStatus(ctx, deps.Cache, id, models.StatusFailed)
}

func setCachedStatus(ctx context.Context, c StatusCache, id uuid.UUID, status models.ReportStatus) {
	if c == nil {
		return
	}
	if err := c.SetReportStatus(ctx, id, string(status), statusCacheTTL); err != nil {
		slog.Warn("caching report status", "report_id", id, "error", err)
		if err := c.DeleteReportStatus(ctx, id); err != nil {
			slog.Error("dropping stale cached status", "report_id", id, "error", err)
		}
	}
}

func reportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REPORT_ID", "Invalid report ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error, id uuid.UUID) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "REPORT_NOT_FOUND", "Report not found", nil)
		return
	}
	slog.Error("report store error", "report_id", id, "error", err)
	response.InternalError(w)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
