package pg

import (
	"context"
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// ---------- auth sessions ----------

const authSessionColumns = `
	id, session_id, client_id, user_id, state, redirect_uri, final_redirect_url,
	scope, response_type, code_challenge, code_challenge_method,
	auth_code, auth_code_expires_at, is_completed, created_at, updated_at`

func (s *Store) CreateAuthSession(ctx context.Context, a *core.AuthSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_sessions (`+authSessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.SessionID, a.ClientID, a.UserID, a.State, a.RedirectURI, a.FinalRedirectURL,
		a.Scope, a.ResponseType, a.CodeChallenge, a.CodeChallengeMethod,
		a.AuthCode, a.AuthCodeExpiresAt, a.IsCompleted, a.CreatedAt, a.UpdatedAt)
	return mapErr(err)
}

func (s *Store) GetAuthSessionBySessionID(ctx context.Context, sessionID string) (*core.AuthSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+authSessionColumns+` FROM auth_sessions WHERE session_id = $1`, sessionID)
	var a core.AuthSession
	if err := row.Scan(
		&a.ID, &a.SessionID, &a.ClientID, &a.UserID, &a.State, &a.RedirectURI, &a.FinalRedirectURL,
		&a.Scope, &a.ResponseType, &a.CodeChallenge, &a.CodeChallengeMethod,
		&a.AuthCode, &a.AuthCodeExpiresAt, &a.IsCompleted, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *Store) SetAuthSessionUser(ctx context.Context, sessionID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE auth_sessions SET user_id = $2, updated_at = now()
		WHERE session_id = $1`, sessionID, userID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// CompleteAuthSession: check-and-set sobre is_completed. La condición en el
// WHERE garantiza exactamente un ganador bajo canjes concurrentes.
func (s *Store) CompleteAuthSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE auth_sessions SET is_completed = TRUE, updated_at = now()
		WHERE session_id = $1 AND is_completed = FALSE`, sessionID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM auth_sessions WHERE session_id = $1)`, sessionID).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if exists {
		return core.ErrAlreadyCompleted
	}
	return core.ErrNotFound
}

func (s *Store) PurgeAuthSessions(ctx context.Context, now, completedBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM auth_sessions
		WHERE auth_code_expires_at < $1
		   OR (is_completed AND updated_at < $2)`, now, completedBefore)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// ---------- mfa sessions ----------

const mfaSessionColumns = `
	id, user_id, session_id, method, code, code_expires_at,
	attempts, max_attempts, is_verified, created_at, updated_at`

func (s *Store) GetMFASession(ctx context.Context, sessionID string) (*core.MFASession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mfaSessionColumns+` FROM mfa_sessions WHERE session_id = $1`, sessionID)
	var m core.MFASession
	if err := row.Scan(
		&m.ID, &m.UserID, &m.SessionID, &m.Method, &m.Code, &m.CodeExpiresAt,
		&m.Attempts, &m.MaxAttempts, &m.IsVerified, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (s *Store) CreateMFASession(ctx context.Context, m *core.MFASession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mfa_sessions (`+mfaSessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.UserID, m.SessionID, m.Method, m.Code, m.CodeExpiresAt,
		m.Attempts, m.MaxAttempts, m.IsVerified, m.CreatedAt, m.UpdatedAt)
	return mapErr(err)
}

func (s *Store) UpsertMFACode(ctx context.Context, userID, sessionID string, method core.MFAMethod, code string, expiresAt time.Time, maxAttempts int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mfa_sessions (id, user_id, session_id, method, code, code_expires_at, attempts, max_attempts)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (session_id)
		DO UPDATE SET method = EXCLUDED.method,
		              code = EXCLUDED.code,
		              code_expires_at = EXCLUDED.code_expires_at,
		              attempts = 0,
		              updated_at = now()`,
		userID, sessionID, string(method), code, expiresAt, maxAttempts)
	return mapErr(err)
}

// IncrementMFAAttempts: incremento atómico a nivel fila, sostiene el
// invariante de max attempts bajo verificaciones concurrentes.
func (s *Store) IncrementMFAAttempts(ctx context.Context, id string, verified bool) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE mfa_sessions
		SET attempts = attempts + 1, is_verified = $2, updated_at = now()
		WHERE id = $1
		RETURNING attempts`, id, verified).Scan(&attempts)
	if err != nil {
		return 0, mapErr(err)
	}
	return attempts, nil
}

func (s *Store) DeleteMFASessionsForUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mfa_sessions WHERE user_id = $1`, userID)
	return mapErr(err)
}

func (s *Store) PurgeMFASessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mfa_sessions
		WHERE code_expires_at < $1
		   OR (is_verified AND updated_at < $1 - interval '30 minutes')
		   OR attempts >= max_attempts`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// ---------- identity sessions ----------

func (s *Store) CreateIdentitySession(ctx context.Context, is *core.IdentitySession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identity_sessions (id, session_id, user_id, token, expires_at, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		is.ID, is.SessionID, is.UserID, is.Token, is.ExpiresAt, is.IsActive, is.CreatedAt, is.UpdatedAt)
	return mapErr(err)
}

func (s *Store) GetIdentitySession(ctx context.Context, sessionID string) (*core.IdentitySession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, user_id, token, expires_at, is_active, created_at, updated_at
		FROM identity_sessions WHERE session_id = $1`, sessionID)
	var is core.IdentitySession
	if err := row.Scan(
		&is.ID, &is.SessionID, &is.UserID, &is.Token, &is.ExpiresAt, &is.IsActive, &is.CreatedAt, &is.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &is, nil
}

func (s *Store) RefreshIdentitySession(ctx context.Context, sessionID, token string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identity_sessions
		SET token = $2, expires_at = $3, updated_at = now()
		WHERE session_id = $1 AND is_active`, sessionID, token, expiresAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeactivateIdentitySessions(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE identity_sessions SET is_active = FALSE, updated_at = now()
		WHERE user_id = $1 AND is_active`, userID)
	return mapErr(err)
}

func (s *Store) PurgeIdentitySessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM identity_sessions WHERE expires_at < $1 OR NOT is_active`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}
