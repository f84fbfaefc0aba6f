// Package aggregatortest provides a testify mock of the aggregator adapter contract.
package aggregatortest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/models"
)

var _ aggregator.Adapter = (*MockAdapter)(nil)

type MockAdapter struct{ mock.Mock }

func (m *MockAdapter) GetInstitutionByID(ctx context.Context, id string) (*models.Institution, error) {
	args := m.Called(ctx, id)
	inst, _ := args.Get(0).(*models.Institution)
	return inst, args.Error(1)
}

func (m *MockAdapter) ListInstitutionCredentials(ctx context.Context, institutionID string) ([]models.Credential, error) {
	args := m.Called(ctx, institutionID)
	creds, _ := args.Get(0).([]models.Credential)
	return creds, args.Error(1)
}

func (m *MockAdapter) ListConnectionCredentials(ctx context.Context, connectionID, userID string) ([]models.Credential, error) {
	args := m.Called(ctx, connectionID, userID)
	creds, _ := args.Get(0).([]models.Credential)
	return creds, args.Error(1)
}

func (m *MockAdapter) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	args := m.Called(ctx, userID)
	conns, _ := args.Get(0).([]models.Connection)
	return conns, args.Error(1)
}

func (m *MockAdapter) CreateConnection(ctx context.Context, req models.ConnectionRequest, userID string) (*models.Connection, error) {
	args := m.Called(ctx, req, userID)
	conn, _ := args.Get(0).(*models.Connection)
	return conn, args.Error(1)
}

func (m *MockAdapter) DeleteConnection(ctx context.Context, id, userID string) error {
	return m.Called(ctx, id, userID).Error(0)
}

func (m *MockAdapter) UpdateConnection(ctx context.Context, req models.ConnectionRequest, userID string) (*models.Connection, error) {
	args := m.Called(ctx, req, userID)
	conn, _ := args.Get(0).(*models.Connection)
	return conn, args.Error(1)
}

func (m *MockAdapter) GetConnectionByID(ctx context.Context, id, userID string) (*models.Connection, error) {
	args := m.Called(ctx, id, userID)
	conn, _ := args.Get(0).(*models.Connection)
	return conn, args.Error(1)
}

func (m *MockAdapter) GetConnectionStatus(ctx context.Context, id, jobID string, singleAccountSelect bool, userID string) (*models.Connection, error) {
	args := m.Called(ctx, id, jobID, singleAccountSelect, userID)
	conn, _ := args.Get(0).(*models.Connection)
	return conn, args.Error(1)
}

func (m *MockAdapter) AnswerChallenge(ctx context.Context, req models.ChallengeAnswerRequest, jobID string) (bool, error) {
	args := m.Called(ctx, req, jobID)
	return args.Bool(0), args.Error(1)
}

func (m *MockAdapter) ResolveUserID(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}
