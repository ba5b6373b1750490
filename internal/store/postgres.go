package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAPIKeys(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

// --- Reports ---

const reportColumns = `id, source_video_ref, audio_ref, status, status_message, transcript_text,
	frame_findings, summarized_report, incident_date, officer_badge, incident_type, notes,
	created_at, updated_at`

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	var findings []byte
	if err := row.Scan(&r.ID, &r.SourceVideoRef, &r.AudioRef, &r.Status, &r.StatusMessage,
		&r.TranscriptText, &findings, &r.SummarizedReport, &r.IncidentDate, &r.OfficerBadge,
		&r.IncidentType, &r.Notes, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if len(findings) > 0 {
		var set models.FrameObservationSet
		if err := json.Unmarshal(findings, &set); err != nil {
			return nil, fmt.Errorf("decode frame findings: %w", err)
		}
		r.FrameFindings = &set
	}
	return &r, nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, report *models.Report) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, source_video_ref, status, incident_date, officer_badge, incident_type, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		report.ID, report.SourceVideoRef, report.Status, report.IncidentDate, report.OfficerBadge,
		report.IncidentType, report.Notes, report.CreatedAt, report.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]*models.Report, int, error) {
	where := "TRUE"
	switch filter.State {
	case StateInProgress:
		where = "status NOT IN ('completed', 'failed')"
	case StateCompleted:
		where = "status = 'completed'"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM reports WHERE "+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.pool.Query(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE `+where+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, total, rows.Err()
}

func (s *PostgresStore) UpdateReportMetadata(ctx context.Context, id uuid.UUID, meta ReportMetadata) (*models.Report, error) {
	query := `UPDATE reports SET updated_at = $2`
	args := []any{id, time.Now().UTC()}
	argIdx := 3

	if meta.ClearIncidentDate {
		query += ", incident_date = NULL"
	} else if meta.IncidentDate != nil {
		query += fmt.Sprintf(", incident_date = $%d", argIdx)
		args = append(args, *meta.IncidentDate)
		argIdx++
	}
	if meta.OfficerBadge != nil {
		query += fmt.Sprintf(", officer_badge = $%d", argIdx)
		args = append(args, *meta.OfficerBadge)
		argIdx++
	}
	if meta.IncidentType != nil {
		query += fmt.Sprintf(", incident_type = $%d", argIdx)
		args = append(args, *meta.IncidentType)
		argIdx++
	}
	if meta.Notes != nil {
		query += fmt.Sprintf(", notes = $%d", argIdx)
		args = append(args, *meta.Notes)
		argIdx++
	}
	query += " WHERE id = $1 RETURNING " + reportColumns

	r, err := scanReport(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update report metadata: %w", err)
	}
	return r, nil
}

// ResetReportForRerun moves a failed report back to pending and clears every
// pipeline output so the next run starts fresh.
func (s *PostgresStore) ResetReportForRerun(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`UPDATE reports SET status = 'pending', status_message = '', audio_ref = '',
		   transcript_text = '', frame_findings = NULL, summarized_report = '', updated_at = NOW()
		 WHERE id = $1 AND status = 'failed'
		 RETURNING `+reportColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetReport(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: only failed reports can be rerun", ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("reset report: %w", err)
	}
	return r, nil
}

var validTransitions = map[models.ReportStatus][]models.ReportStatus{
	models.StatusPending:         {models.StatusExtracting, models.StatusFailed},
	models.StatusExtracting:      {models.StatusTranscribing, models.StatusFailed},
	models.StatusTranscribing:    {models.StatusAnalyzingImages, models.StatusFailed},
	models.StatusAnalyzingImages: {models.StatusSummarizing, models.StatusFailed},
	models.StatusSummarizing:     {models.StatusCompleted, models.StatusFailed},
}

// CanTransition reports whether a report may move from one status to another.
func CanTransition(from, to models.ReportStatus) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func (s *PostgresStore) UpdateReportStatus(ctx context.Context, id uuid.UUID, status models.ReportStatus, opts ...StatusUpdateOption) error {
	// Fetch current status
	var current models.ReportStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM reports WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get report status: %w", err)
	}

	if !CanTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	message := StatusMessage(opts...)

	// The status guard turns a concurrent writer into a failed transition instead of a regression.
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $2, status_message = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`, id, status, message, current)
	if err != nil {
		return fmt.Errorf("update report status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, current)
	}
	return nil
}

func (s *PostgresStore) SetAudioRef(ctx context.Context, id uuid.UUID, ref string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET audio_ref = $2, updated_at = NOW() WHERE id = $1 AND status = 'extracting'`, id, ref)
	if err != nil {
		return fmt.Errorf("set audio ref: %w", err)
	}
	return s.checkCommitted(ctx, id, tag)
}

func (s *PostgresStore) CommitTranscript(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET transcript_text = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'transcribing' AND transcript_text = ''`, id, text)
	if err != nil {
		return fmt.Errorf("commit transcript: %w", err)
	}
	return s.checkCommitted(ctx, id, tag)
}

func (s *PostgresStore) CommitFrameFindings(ctx context.Context, id uuid.UUID, findings *models.FrameObservationSet) error {
	if findings == nil {
		return fmt.Errorf("commit frame findings: nil findings")
	}
	payload, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("encode frame findings: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET frame_findings = $2::jsonb, updated_at = NOW()
		 WHERE id = $1 AND status = 'analyzing_images' AND frame_findings IS NULL`, id, string(payload))
	if err != nil {
		return fmt.Errorf("commit frame findings: %w", err)
	}
	return s.checkCommitted(ctx, id, tag)
}

func (s *PostgresStore) CommitSummarizedReport(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET summarized_report = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'summarizing' AND summarized_report = ''`, id, text)
	if err != nil {
		return fmt.Errorf("commit summarized report: %w", err)
	}
	return s.checkCommitted(ctx, id, tag)
}

func (s *PostgresStore) checkCommitted(ctx context.Context, id uuid.UUID, tag pgconn.CommandTag) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetReport(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyCommitted
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
