package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a status change would break the
// forward-only report lifecycle.
var ErrInvalidTransition = errors.New("invalid report status transition")

// ErrAlreadyCommitted is returned when a stage output is written twice in
// one run or outside the status that owns it.
var ErrAlreadyCommitted = errors.New("stage output already committed")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	CountAPIKeys(ctx context.Context) (int, error)

	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]*models.Report, int, error)
	UpdateReportMetadata(ctx context.Context, id uuid.UUID, meta ReportMetadata) (*models.Report, error)
	ResetReportForRerun(ctx context.Context, id uuid.UUID) (*models.Report, error)

	ReportWriter
}

// ReportWriter is the subset of Store the pipeline orchestrator mutates a
// report through during a run.
type ReportWriter interface {
	GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error)
	UpdateReportStatus(ctx context.Context, id uuid.UUID, status models.ReportStatus, opts ...StatusUpdateOption) error
	SetAudioRef(ctx context.Context, id uuid.UUID, ref string) error
	CommitTranscript(ctx context.Context, id uuid.UUID, text string) error
	CommitFrameFindings(ctx context.Context, id uuid.UUID, findings *models.FrameObservationSet) error
	CommitSummarizedReport(ctx context.Context, id uuid.UUID, text string) error
}

// Report list states.
const (
	StateAll        = "all"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
)

type ReportFilter struct {
	State string
	Page  int
	Limit int
}

// ReportMetadata carries the user-editable fields of a report. Nil fields are left unchanged.
type ReportMetadata struct {
	IncidentDate      *time.Time
	ClearIncidentDate bool
	OfficerBadge      *string
	IncidentType      *string
	Notes             *string
}

type statusUpdateParams struct {
	StatusMessage *string
}

type StatusUpdateOption func(*statusUpdateParams)

func WithStatusMessage(msg string) StatusUpdateOption {
	return func(p *statusUpdateParams) {
		p.StatusMessage = &msg
	}
}

// StatusMessage returns the message set by opts, or "" when none is set.
func StatusMessage(opts ...StatusUpdateOption) string {
	params := &statusUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if params.StatusMessage == nil {
		return ""
	}
	return *params.StatusMessage
}
