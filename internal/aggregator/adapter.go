package aggregator

import (
	"context"

	"github.com/stanstork/aggregator-router/internal/models"
)

// Adapter is the capability contract every backend aggregator integration implements.
// The routing core only calls GetConnectionStatus, GetConnectionByID and DeleteConnection;
// the rest belongs to the connect flow and the vendor integrations themselves.
type Adapter interface {
	GetInstitutionByID(ctx context.Context, id string) (*models.Institution, error)
	ListInstitutionCredentials(ctx context.Context, institutionID string) ([]models.Credential, error)
	ListConnectionCredentials(ctx context.Context, connectionID, userID string) ([]models.Credential, error)
	ListConnections(ctx context.Context, userID string) ([]models.Connection, error)
	CreateConnection(ctx context.Context, req models.ConnectionRequest, userID string) (*models.Connection, error)
	DeleteConnection(ctx context.Context, id, userID string) error
	UpdateConnection(ctx context.Context, req models.ConnectionRequest, userID string) (*models.Connection, error)
	GetConnectionByID(ctx context.Context, id, userID string) (*models.Connection, error)
	GetConnectionStatus(ctx context.Context, id, jobID string, singleAccountSelect bool, userID string) (*models.Connection, error)
	AnswerChallenge(ctx context.Context, req models.ChallengeAnswerRequest, jobID string) (bool, error)
	ResolveUserID(ctx context.Context, userID string) (string, error)
}
