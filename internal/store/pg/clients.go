package pg

import (
	"context"

	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

const clientColumns = `
	id, client_id, name, allowed_scopes, default_scopes, redirect_uris,
	default_redirect_url, skip_consent, is_active, created_at`

func (s *Store) scanClient(ctx context.Context, query string, arg any) (*core.ClientApplication, error) {
	row := s.pool.QueryRow(ctx, query, arg)
	var c core.ClientApplication
	if err := row.Scan(
		&c.ID, &c.ClientID, &c.Name, &c.AllowedScopes, &c.DefaultScopes, &c.RedirectURIs,
		&c.DefaultRedirectURL, &c.SkipConsent, &c.IsActive, &c.CreatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*core.ClientApplication, error) {
	return s.scanClient(ctx, `SELECT `+clientColumns+` FROM client_applications WHERE id = $1`, id)
}

func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (*core.ClientApplication, error) {
	return s.scanClient(ctx, `SELECT `+clientColumns+` FROM client_applications WHERE client_id = $1`, clientID)
}
