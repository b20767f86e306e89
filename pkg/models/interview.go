package models

import "time"

// Interview represents a proctored interview session record
type Interview struct {
	ID          string     `json:"id" db:"id"`
	SessionID   string     `json:"session_id" db:"session_id"`
	CandidateID string     `json:"candidate_id" db:"candidate_id"`
	Title       string     `json:"title" db:"title"`
	Status      string     `json:"status" db:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Anomaly represents a flagged moment within an interview recording.
// Time is an offset in seconds into the unified playback timeline.
type Anomaly struct {
	ID          string    `json:"id" db:"id"`
	InterviewID string    `json:"interview_id" db:"interview_id"`
	Kind        string    `json:"kind" db:"kind"`
	Time        float64   `json:"time" db:"time"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	Details     string    `json:"details,omitempty" db:"details"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// InterviewStatus constants
const (
	InterviewStatusScheduled  = "scheduled"
	InterviewStatusInProgress = "in_progress"
	InterviewStatusCompleted  = "completed"
	InterviewStatusCancelled  = "cancelled"
)
