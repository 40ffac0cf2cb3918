package pg

import (
	"context"
	"strconv"
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

const userColumns = `
	id, email, password_hash, role, status, email_verified,
	first_name, last_name, avatar,
	mfa_enabled, mfa_method, mfa_secret, backup_codes, phone_number,
	mfa_created_at, last_mfa_used, created_at, updated_at`

func (s *Store) scanUser(ctx context.Context, query string, arg any) (*core.User, error) {
	row := s.pool.QueryRow(ctx, query, arg)

	var u core.User
	var method, secret *string
	if err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.EmailVerified,
		&u.FirstName, &u.LastName, &u.Avatar,
		&u.MFAEnabled, &method, &secret, &u.BackupCodes, &u.PhoneNumber,
		&u.MFACreatedAt, &u.LastMFAUsed, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	if method != nil {
		u.MFAMethod = core.MFAMethod(*method)
	}
	if secret != nil {
		u.MFASecret = *secret
	}

	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.name
		FROM memberships m
		JOIN organizations o ON o.id = m.organization_id
		WHERE m.user_id = $1
		ORDER BY m.created_at`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var mb core.Membership
		if err := rows.Scan(&mb.OrganizationID, &mb.OrganizationName); err != nil {
			return nil, err
		}
		u.Memberships = append(u.Memberships, mb)
	}
	return &u, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	return s.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return s.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *Store) UpdateUserMFA(ctx context.Context, userID string, upd core.MFAUpdate) error {
	// armado dinámico: sólo pisa lo que viene seteado
	set := "updated_at = now()"
	args := []any{userID}
	n := 2
	add := func(col string, v any) {
		set += ", " + col + " = $" + strconv.Itoa(n)
		args = append(args, v)
		n++
	}
	if upd.Enabled != nil {
		add("mfa_enabled", *upd.Enabled)
	}
	if upd.Method != nil {
		if *upd.Method == "" {
			set += ", mfa_method = NULL"
		} else {
			add("mfa_method", string(*upd.Method))
		}
	}
	if upd.Secret != nil {
		if *upd.Secret == "" {
			set += ", mfa_secret = NULL"
		} else {
			add("mfa_secret", *upd.Secret)
		}
	}
	if upd.BackupCodes != nil {
		codes := *upd.BackupCodes
		if codes == nil {
			codes = []string{}
		}
		add("backup_codes", codes)
	}
	if upd.PhoneNumber != nil {
		add("phone_number", *upd.PhoneNumber)
	}
	if upd.CreatedAt != nil {
		add("mfa_created_at", *upd.CreatedAt)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE users SET `+set+` WHERE id = $1`, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ConsumeBackupCode elimina el código en un solo UPDATE condicional; la fila
// del usuario serializa intentos concurrentes del mismo código.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET backup_codes = array_remove(backup_codes, $2), updated_at = now()
		WHERE id = $1 AND $2 = ANY(backup_codes)`, userID, code)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetLastMFAUsed(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET last_mfa_used = $2, updated_at = now() WHERE id = $1`, userID, at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
