package models

// ConnectionStatus is the lifecycle state reported by an aggregator for a connection.
type ConnectionStatus string

const (
	ConnectionStatusCreated      ConnectionStatus = "CREATED"
	ConnectionStatusPending      ConnectionStatus = "PENDING"
	ConnectionStatusChallenged   ConnectionStatus = "CHALLENGED"
	ConnectionStatusConnected    ConnectionStatus = "CONNECTED"
	ConnectionStatusImpeded      ConnectionStatus = "IMPEDED"
	ConnectionStatusDegraded     ConnectionStatus = "DEGRADED"
	ConnectionStatusDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionStatusDiscontinue  ConnectionStatus = "DISCONTINUE"
	ConnectionStatusClosed       ConnectionStatus = "CLOSED"
	ConnectionStatusFailed       ConnectionStatus = "FAILED"
	ConnectionStatusDenied       ConnectionStatus = "DENIED"
	ConnectionStatusRejected     ConnectionStatus = "REJECTED"
	ConnectionStatusExpired      ConnectionStatus = "EXPIRED"
)

var failureStatuses = map[ConnectionStatus]struct{}{
	ConnectionStatusImpeded:      {},
	ConnectionStatusDegraded:     {},
	ConnectionStatusDisconnected: {},
	ConnectionStatusDiscontinue:  {},
	ConnectionStatusClosed:       {},
	ConnectionStatusFailed:       {},
}

// IsFailure reports whether the status is one of the hard-failure states that
// end resilience tracking without a success event.
func (s ConnectionStatus) IsFailure() bool {
	_, ok := failureStatuses[s]
	return ok
}

// Challenge is a question an aggregator asks the user before it can continue.
type Challenge struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"` // enum: text, options, image, token
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Response string   `json:"response,omitempty"`
}

// Connection is the aggregator-side record of one user's link to one institution.
// ID is opaque and owned by the aggregator.
type Connection struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	InstitutionCode   string           `json:"institution_code"`
	Aggregator        string           `json:"aggregator"`
	Status            ConnectionStatus `json:"status"`
	IsOAuth           bool             `json:"is_oauth"`
	IsBeingAggregated bool             `json:"is_being_aggregated"`
	OAuthWindowURI    string           `json:"oauth_window_uri,omitempty"`
	Challenges        []Challenge      `json:"challenges,omitempty"`
	CurJobID          string           `json:"cur_job_id,omitempty"`
}

// Credential is a single institution login field.
type Credential struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Type  string `json:"field_type,omitempty"`
	Value string `json:"value,omitempty"`
}

// ConnectionRequest is what callers hand to an aggregator to create or update a connection.
type ConnectionRequest struct {
	ID                string       `json:"id,omitempty"`
	InstitutionID     string       `json:"institution_id"`
	Credentials       []Credential `json:"credentials,omitempty"`
	JobTypes          []JobType    `json:"job_types"`
	IsOAuth           bool         `json:"is_oauth"`
	SingleAccountOnly bool         `json:"single_account_select"`
}

// ChallengeAnswerRequest carries the user's answers to an open challenge.
type ChallengeAnswerRequest struct {
	ConnectionID string      `json:"connection_id"`
	UserID       string      `json:"user_id"`
	Challenges   []Challenge `json:"challenges"`
}
