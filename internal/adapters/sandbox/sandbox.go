// Package sandbox is an in-memory aggregator for test banks and local runs.
//
// Connections advance one step per status call:
//
//	CREATED -> PENDING -> CONNECTED (aggregating) -> CONNECTED
//
// A credential whose value is "challenge" parks the connection in CHALLENGED
// after PENDING until the challenge is answered. A credential whose value is
// "fail" ends it in FAILED instead of CONNECTED.
package sandbox

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/models"
)

const (
	Name = "sandbox"

	CredentialChallenge = "challenge"
	CredentialFail      = "fail"
)

var (
	ErrConnectionNotFound  = errors.New("sandbox connection not found")
	ErrInstitutionNotFound = errors.New("sandbox institution not found")
)

var _ aggregator.Adapter = (*Adapter)(nil)

type connection struct {
	models.Connection
	request    models.ConnectionRequest
	challenged bool
	willFail   bool
}

type Adapter struct {
	mu           sync.Mutex
	connections  map[string]*connection
	institutions map[string]models.Institution
	newID        func() string
	logger       zerolog.Logger
}

func New(logger zerolog.Logger) *Adapter {
	a := &Adapter{
		connections:  make(map[string]*connection),
		institutions: make(map[string]models.Institution),
		newID:        uuid.NewString,
		logger:       logger.With().Str("component", "sandbox_aggregator").Logger(),
	}
	for _, inst := range Institutions() {
		a.institutions[inst.ID] = inst
	}
	return a
}

func (a *Adapter) GetInstitutionByID(_ context.Context, id string) (*models.Institution, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	inst, ok := a.institutions[id]
	if !ok {
		return nil, errors.Wrap(ErrInstitutionNotFound, id)
	}
	return &inst, nil
}

func (a *Adapter) ListInstitutionCredentials(ctx context.Context, institutionID string) ([]models.Credential, error) {
	if _, err := a.GetInstitutionByID(ctx, institutionID); err != nil {
		return nil, err
	}
	return []models.Credential{
		{ID: "username", Label: "Username", Type: "TEXT"},
		{ID: "password", Label: "Password", Type: "PASSWORD"},
	}, nil
}

func (a *Adapter) ListConnectionCredentials(_ context.Context, connectionID, userID string) ([]models.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn, err := a.lookupLocked(connectionID, userID)
	if err != nil {
		return nil, err
	}
	creds := make([]models.Credential, 0, len(conn.request.Credentials))
	for _, c := range conn.request.Credentials {
		creds = append(creds, models.Credential{ID: c.ID, Label: c.Label, Type: c.Type})
	}
	return creds, nil
}

func (a *Adapter) ListConnections(_ context.Context, userID string) ([]models.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.Connection
	for _, conn := range a.connections {
		if conn.UserID == userID {
			out = append(out, a.snapshot(conn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) CreateConnection(_ context.Context, req models.ConnectionRequest, userID string) (*models.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.institutions[req.InstitutionID]; !ok {
		return nil, errors.Wrap(ErrInstitutionNotFound, req.InstitutionID)
	}

	conn := &connection{
		Connection: models.Connection{
			ID:              a.newID(),
			UserID:          userID,
			InstitutionCode: req.InstitutionID,
			Aggregator:      Name,
			Status:          models.ConnectionStatusCreated,
			IsOAuth:         req.IsOAuth,
			CurJobID:        a.newID(),
		},
	}
	a.applyRequest(conn, req)
	if req.IsOAuth {
		conn.OAuthWindowURI = "https://sandbox.invalid/oauth/" + conn.ID
	}
	a.connections[conn.ID] = conn

	a.logger.Debug().Str("connection_id", conn.ID).Str("institution_id", req.InstitutionID).Msg("sandbox connection created")
	snap := a.snapshot(conn)
	return &snap, nil
}

func (a *Adapter) UpdateConnection(_ context.Context, req models.ConnectionRequest, userID string) (*models.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn, err := a.lookupLocked(req.ID, userID)
	if err != nil {
		return nil, err
	}
	a.applyRequest(conn, req)
	conn.Status = models.ConnectionStatusCreated
	conn.IsBeingAggregated = false
	conn.Challenges = nil
	conn.CurJobID = a.newID()
	snap := a.snapshot(conn)
	return &snap, nil
}

func (a *Adapter) DeleteConnection(_ context.Context, id, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.lookupLocked(id, userID); err != nil {
		return err
	}
	delete(a.connections, id)
	a.logger.Debug().Str("connection_id", id).Msg("sandbox connection deleted")
	return nil
}

func (a *Adapter) GetConnectionByID(_ context.Context, id, userID string) (*models.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn, err := a.lookupLocked(id, userID)
	if err != nil {
		return nil, err
	}
	snap := a.snapshot(conn)
	return &snap, nil
}

// GetConnectionStatus advances the connection one step and reports it.
func (a *Adapter) GetConnectionStatus(_ context.Context, id, jobID string, singleAccountSelect bool, userID string) (*models.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn, err := a.lookupLocked(id, userID)
	if err != nil {
		return nil, err
	}
	if jobID != "" && conn.CurJobID != "" && jobID != conn.CurJobID {
		return nil, errors.Errorf("job %s is not the current job of connection %s", jobID, id)
	}
	a.advance(conn)
	snap := a.snapshot(conn)
	return &snap, nil
}

func (a *Adapter) advance(conn *connection) {
	switch conn.Status {
	case models.ConnectionStatusCreated:
		conn.Status = models.ConnectionStatusPending
		conn.IsBeingAggregated = true
	case models.ConnectionStatusPending:
		switch {
		case conn.challenged:
			conn.Status = models.ConnectionStatusChallenged
			conn.IsBeingAggregated = false
			conn.Challenges = []models.Challenge{{
				ID:       "sandbox-mfa",
				Type:     "text",
				Question: "What is the sandbox code?",
			}}
		case conn.willFail:
			conn.Status = models.ConnectionStatusFailed
			conn.IsBeingAggregated = false
		default:
			conn.Status = models.ConnectionStatusConnected
			conn.IsBeingAggregated = true
		}
	case models.ConnectionStatusConnected:
		conn.IsBeingAggregated = false
	}
}

// AnswerChallenge accepts any non-empty answer and resumes aggregation.
func (a *Adapter) AnswerChallenge(_ context.Context, req models.ChallengeAnswerRequest, jobID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn, err := a.lookupLocked(req.ConnectionID, req.UserID)
	if err != nil {
		return false, err
	}
	if conn.Status != models.ConnectionStatusChallenged {
		return false, errors.Errorf("connection %s has no open challenge", req.ConnectionID)
	}
	for _, c := range req.Challenges {
		if c.Response == "" {
			return false, nil
		}
	}
	if len(req.Challenges) == 0 {
		return false, nil
	}
	conn.challenged = false
	conn.Challenges = nil
	conn.Status = models.ConnectionStatusPending
	conn.IsBeingAggregated = true
	return true, nil
}

func (a *Adapter) ResolveUserID(_ context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	return userID, nil
}

func (a *Adapter) applyRequest(conn *connection, req models.ConnectionRequest) {
	conn.request = req
	conn.challenged, conn.willFail = false, false
	for _, c := range req.Credentials {
		switch c.Value {
		case CredentialChallenge:
			conn.challenged = true
		case CredentialFail:
			conn.willFail = true
		}
	}
}

func (a *Adapter) lookupLocked(id, userID string) (*connection, error) {
	conn, ok := a.connections[id]
	if !ok || (userID != "" && conn.UserID != userID) {
		return nil, errors.Wrap(ErrConnectionNotFound, id)
	}
	return conn, nil
}

func (a *Adapter) snapshot(conn *connection) models.Connection {
	out := conn.Connection
	out.Challenges = append([]models.Challenge(nil), conn.Challenges...)
	return out
}

func strPtr(s string) *string { return &s }

// Institutions is the fixed set of institutions the sandbox serves.
func Institutions() []models.Institution {
	return []models.Institution{
		{
			ID:         "sandbox_bank",
			Name:       "Sandbox Bank",
			URL:        "https://sandbox.invalid",
			IsTestBank: true,
			Capabilities: map[string]models.AggregatorCapability{
				Name: {
					ExternalID:             strPtr("sandbox_bank"),
					SupportsAggregation:    true,
					SupportsOAuth:          true,
					SupportsIdentification: true,
					SupportsVerification:   true,
					SupportsFullHistory:    true,
				},
				// Lets test-bank routing through mx land on the sandbox.
				"mx": {
					ExternalID:          strPtr("sandbox_bank"),
					SupportsAggregation: true,
				},
			},
		},
		{
			ID:         "sandbox_credit_union",
			Name:       "Sandbox Credit Union",
			URL:        "https://cu.sandbox.invalid",
			IsTestBank: true,
			Capabilities: map[string]models.AggregatorCapability{
				Name: {
					ExternalID:          strPtr("sandbox_credit_union"),
					SupportsAggregation: true,
				},
			},
		},
	}
}
