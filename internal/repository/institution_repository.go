package repository

import (
	"context"
	"database/sql"
	"sort"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/stanstork/aggregator-router/internal/models"
)

var ErrInstitutionNotFound = errors.New("institution not found")

type InstitutionRepository interface {
	GetInstitution(ctx context.Context, id string) (*models.Institution, error)
	ListInstitutions(ctx context.Context) ([]*models.Institution, error)
	UpsertInstitution(ctx context.Context, inst *models.Institution) error
	DeleteInstitution(ctx context.Context, id string) error
}

type institutionRepository struct {
	db *sql.DB
}

func NewInstitutionRepository(db *sql.DB) InstitutionRepository {
	return &institutionRepository{db: db}
}

func (r *institutionRepository) GetInstitution(ctx context.Context, id string) (*models.Institution, error) {
	inst := &models.Institution{}
	var url, logoURL sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, url, logo_url, routing_numbers, is_test_bank
		FROM router.institutions
		WHERE id = $1`, id,
	).Scan(&inst.ID, &inst.Name, &url, &logoURL, pq.Array(&inst.RoutingNumbers), &inst.IsTestBank)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInstitutionNotFound
		}
		return nil, errors.Wrapf(err, "failed to query institution %s", id)
	}
	inst.URL, inst.LogoURL = url.String, logoURL.String

	caps, err := r.capabilities(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	inst.Capabilities = caps[id]
	return inst, nil
}

func (r *institutionRepository) ListInstitutions(ctx context.Context) ([]*models.Institution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, url, logo_url, routing_numbers, is_test_bank
		FROM router.institutions
		ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list institutions")
	}
	defer rows.Close()

	var (
		institutions []*models.Institution
		ids          []string
	)
	for rows.Next() {
		inst := &models.Institution{}
		var url, logoURL sql.NullString
		if err := rows.Scan(&inst.ID, &inst.Name, &url, &logoURL, pq.Array(&inst.RoutingNumbers), &inst.IsTestBank); err != nil {
			return nil, errors.Wrap(err, "failed to scan institution")
		}
		inst.URL, inst.LogoURL = url.String, logoURL.String
		institutions = append(institutions, inst)
		ids = append(ids, inst.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list institutions")
	}

	caps, err := r.capabilities(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, inst := range institutions {
		inst.Capabilities = caps[inst.ID]
	}
	return institutions, nil
}

func (r *institutionRepository) capabilities(ctx context.Context, ids []string) (map[string]map[string]models.AggregatorCapability, error) {
	out := make(map[string]map[string]models.AggregatorCapability, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT institution_id, aggregator, external_id, supports_aggregation, supports_oauth,
		       supports_identification, supports_verification, supports_history
		FROM router.institution_capabilities
		WHERE institution_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query institution capabilities")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			instID, agg string
			externalID  sql.NullString
			c           models.AggregatorCapability
		)
		if err := rows.Scan(&instID, &agg, &externalID, &c.SupportsAggregation, &c.SupportsOAuth,
			&c.SupportsIdentification, &c.SupportsVerification, &c.SupportsFullHistory); err != nil {
			return nil, errors.Wrap(err, "failed to scan institution capability")
		}
		if externalID.Valid {
			c.ExternalID = &externalID.String
		}
		if out[instID] == nil {
			out[instID] = make(map[string]models.AggregatorCapability)
		}
		out[instID][agg] = c
	}
	return out, errors.Wrap(rows.Err(), "failed to read institution capabilities")
}

// UpsertInstitution writes the institution and replaces its capability rows in
// one transaction.
func (r *institutionRepository) UpsertInstitution(ctx context.Context, inst *models.Institution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	routingNumbers := inst.RoutingNumbers
	if routingNumbers == nil {
		routingNumbers = []string{}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO router.institutions (id, name, url, logo_url, routing_numbers, is_test_bank)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, url = EXCLUDED.url, logo_url = EXCLUDED.logo_url,
		    routing_numbers = EXCLUDED.routing_numbers, is_test_bank = EXCLUDED.is_test_bank,
		    updated_at = NOW()`,
		inst.ID, inst.Name, nullString(inst.URL), nullString(inst.LogoURL), pq.Array(routingNumbers), inst.IsTestBank,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert institution %s", inst.ID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM router.institution_capabilities WHERE institution_id = $1", inst.ID); err != nil {
		return errors.Wrapf(err, "failed to clear capabilities for %s", inst.ID)
	}

	aggs := make([]string, 0, len(inst.Capabilities))
	for agg := range inst.Capabilities {
		aggs = append(aggs, agg)
	}
	sort.Strings(aggs)
	for _, agg := range aggs {
		c := inst.Capabilities[agg]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO router.institution_capabilities
				(institution_id, aggregator, external_id, supports_aggregation, supports_oauth,
				 supports_identification, supports_verification, supports_history)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			inst.ID, agg, c.ExternalID, c.SupportsAggregation, c.SupportsOAuth,
			c.SupportsIdentification, c.SupportsVerification, c.SupportsFullHistory,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to insert %s capability for %s", agg, inst.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit institution upsert")
}

func (r *institutionRepository) DeleteInstitution(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM router.institutions WHERE id = $1", id)
	return errors.Wrapf(err, "failed to delete institution %s", id)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
