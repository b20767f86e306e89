package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/proctorview/playback/pkg/models"
)

// Repository provides read-side database operations. The review service
// never writes interview rows; ingest owns that side.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Interviews

// GetInterview retrieves an interview by ID
func (r *Repository) GetInterview(ctx context.Context, id string) (*models.Interview, error) {
	var interview models.Interview

	query := `
		SELECT id, session_id, candidate_id, title, status,
		       started_at, ended_at, created_at, updated_at
		FROM interviews
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&interview.ID, &interview.SessionID, &interview.CandidateID,
		&interview.Title, &interview.Status,
		&interview.StartedAt, &interview.EndedAt,
		&interview.CreatedAt, &interview.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("interview not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interview: %w", err)
	}

	return &interview, nil
}

// GetInterviewBySession retrieves an interview by its recording session ID
func (r *Repository) GetInterviewBySession(ctx context.Context, sessionID string) (*models.Interview, error) {
	var interview models.Interview

	query := `
		SELECT id, session_id, candidate_id, title, status,
		       started_at, ended_at, created_at, updated_at
		FROM interviews
		WHERE session_id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, sessionID).Scan(
		&interview.ID, &interview.SessionID, &interview.CandidateID,
		&interview.Title, &interview.Status,
		&interview.StartedAt, &interview.EndedAt,
		&interview.CreatedAt, &interview.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("interview not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interview by session: %w", err)
	}

	return &interview, nil
}

// ListInterviews retrieves interviews with pagination
func (r *Repository) ListInterviews(ctx context.Context, limit, offset int) ([]*models.Interview, error) {
	query := `
		SELECT id, session_id, candidate_id, title, status,
		       started_at, ended_at, created_at, updated_at
		FROM interviews
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list interviews: %w", err)
	}
	defer rows.Close()

	var interviews []*models.Interview
	for rows.Next() {
		var interview models.Interview
		err := rows.Scan(
			&interview.ID, &interview.SessionID, &interview.CandidateID,
			&interview.Title, &interview.Status,
			&interview.StartedAt, &interview.EndedAt,
			&interview.CreatedAt, &interview.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interview: %w", err)
		}
		interviews = append(interviews, &interview)
	}

	return interviews, rows.Err()
}

// Anomalies

// ListAnomalies retrieves all flagged moments for an interview, ordered
// by their offset into the recording.
func (r *Repository) ListAnomalies(ctx context.Context, interviewID string) ([]*models.Anomaly, error) {
	query := `
		SELECT id, interview_id, kind, time, confidence, details, created_at
		FROM anomalies
		WHERE interview_id = $1
		ORDER BY time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, interviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*models.Anomaly
	for rows.Next() {
		var anomaly models.Anomaly
		err := rows.Scan(
			&anomaly.ID, &anomaly.InterviewID, &anomaly.Kind,
			&anomaly.Time, &anomaly.Confidence, &anomaly.Details,
			&anomaly.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, &anomaly)
	}

	return anomalies, rows.Err()
}

// GetAnomaly retrieves a single anomaly by ID
func (r *Repository) GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error) {
	var anomaly models.Anomaly

	query := `
		SELECT id, interview_id, kind, time, confidence, details, created_at
		FROM anomalies
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&anomaly.ID, &anomaly.InterviewID, &anomaly.Kind,
		&anomaly.Time, &anomaly.Confidence, &anomaly.Details,
		&anomaly.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("anomaly not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}

	return &anomaly, nil
}
