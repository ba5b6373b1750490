package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportStatus is the persisted pipeline state of a Report.
type ReportStatus string

const (
	StatusPending         ReportStatus = "pending"
	StatusExtracting      ReportStatus = "extracting"
	StatusTranscribing    ReportStatus = "transcribing"
	StatusAnalyzingImages ReportStatus = "analyzing_images"
	StatusSummarizing     ReportStatus = "summarizing"
	StatusCompleted       ReportStatus = "completed"
	StatusFailed          ReportStatus = "failed"
)

var progressByStatus = map[ReportStatus]int{
	StatusPending:         0,
	StatusExtracting:      20,
	StatusTranscribing:    40,
	StatusAnalyzingImages: 60,
	StatusSummarizing:     80,
	StatusCompleted:       100,
	StatusFailed:          0,
}

// Progress returns the completion percentage shown to pollers.
// It is derived from the status and never stored.
func (s ReportStatus) Progress() int {
	return progressByStatus[s]
}

// Valid reports whether s is a known status.
func (s ReportStatus) Valid() bool {
	_, ok := progressByStatus[s]
	return ok
}

// IsTerminal reports whether no further transitions happen within a run.
func (s ReportStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InProgress reports whether a run is expected to advance s.
func (s ReportStatus) InProgress() bool {
	return s.Valid() && !s.IsTerminal()
}

// Incident types accepted on upload and update.
const (
	IncidentTrafficStop = "traffic-stop"
	IncidentDomestic    = "domestic"
	IncidentTheft       = "theft"
	IncidentAssault     = "assault"
	IncidentDrug        = "drug"
	IncidentOther       = "other"
)

// ValidIncidentType reports whether t is empty or one of the known incident types.
func ValidIncidentType(t string) bool {
	switch t {
	case "", IncidentTrafficStop, IncidentDomestic, IncidentTheft, IncidentAssault, IncidentDrug, IncidentOther:
		return true
	}
	return false
}

// MaxOfficerBadgeLen bounds the officer badge field.
const MaxOfficerBadgeLen = 20

// Report is one uploaded bodycam video and everything the pipeline derived from it.
// During a run it is mutated only by the pipeline orchestrator.
type Report struct {
	ID               uuid.UUID            `db:"id"                json:"id"`
	SourceVideoRef   string               `db:"source_video_ref"  json:"source_video_ref"`
	AudioRef         string               `db:"audio_ref"         json:"audio_ref,omitempty"`
	Status           ReportStatus         `db:"status"            json:"status"`
	StatusMessage    string               `db:"status_message"    json:"status_message"`
	TranscriptText   string               `db:"transcript_text"   json:"transcript_text"`
	FrameFindings    *FrameObservationSet `db:"frame_findings"    json:"frame_findings,omitempty"`
	SummarizedReport string               `db:"summarized_report" json:"summarized_report"`

	IncidentDate *time.Time `db:"incident_date" json:"incident_date,omitempty"`
	OfficerBadge string     `db:"officer_badge" json:"officer_badge"`
	IncidentType string     `db:"incident_type" json:"incident_type"`
	Notes        string     `db:"notes"         json:"notes"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Progress is a shorthand for r.Status.Progress().
func (r *Report) Progress() int {
	return r.Status.Progress()
}
