package models

import "time"

// ResilienceSession tracks one in-flight connection until it reaches a terminal outcome.
type ResilienceSession struct {
	UserID                string           `json:"user_id"`
	ConnectionID          string           `json:"connection_id"`
	PerformanceSessionID  string           `json:"performance_session_id"`
	AggregatorID          string           `json:"aggregator_id"`
	JobID                 string           `json:"job_id,omitempty"`
	LastUIUpdateTimestamp time.Time        `json:"last_ui_update_timestamp"`
	Paused                bool             `json:"paused"`
	LastStatus            ConnectionStatus `json:"last_status,omitempty"`
}

// CleanupRecord marks an aggregator connection for deletion once it is old enough.
// DelayedConnectionID, when set, is the id actually deleted.
type CleanupRecord struct {
	ID                  string    `json:"id"`
	CreatedAt           time.Time `json:"created_at"`
	AggregatorID        string    `json:"aggregator_id"`
	UserID              string    `json:"user_id"`
	DelayedConnectionID string    `json:"delayed_connection_id,omitempty"`
	RetryCount          int       `json:"retry_count"`
}

// TargetID is the connection id the cleanup delete call is issued against.
func (r CleanupRecord) TargetID() string {
	if r.DelayedConnectionID != "" {
		return r.DelayedConnectionID
	}
	return r.ID
}
