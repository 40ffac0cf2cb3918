package mfa_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aether-broker/internal/mfa"
	"github.com/skygenesisenterprise/aether-broker/internal/notify"
	"github.com/skygenesisenterprise/aether-broker/internal/security/password"
	"github.com/skygenesisenterprise/aether-broker/internal/security/totp"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
	"github.com/skygenesisenterprise/aether-broker/internal/store/memory"
)

func newEngine(t *testing.T) (*mfa.Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	hash, err := password.Hash(password.Default, "hunter2")
	require.NoError(t, err)
	st.PutUser(&core.User{
		ID:           "u-1",
		Email:        "ana@example.com",
		PasswordHash: hash,
		PhoneNumber:  "+5491155550000",
		Status:       core.StatusActive,
	})
	return mfa.NewEngine(st, notify.NewDispatcher(nil, nil), 0, 0, ""), st
}

func setupTOTP(t *testing.T, e *mfa.Engine) *mfa.SetupResult {
	t.Helper()
	res, err := e.Setup(context.Background(), mfa.SetupRequest{UserID: "u-1", Method: core.MFATOTP})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.Secret)
	require.Len(t, res.BackupCodes, 10)
	require.Contains(t, res.OTPAuthURL, "otpauth://totp/")
	return res
}

func TestSetupTOTPAndVerify(t *testing.T) {
	e, _ := newEngine(t)
	res := setupTOTP(t, e)

	raw, err := totp.DecodeSecret(res.Secret)
	require.NoError(t, err)

	out, err := e.Verify(context.Background(), mfa.VerifyRequest{
		UserID:    "u-1",
		SessionID: uuid.NewString(),
		Code:      totp.Generate(raw, time.Now()),
	})
	require.NoError(t, err)
	require.True(t, out.Success)
}

func TestVerifyLockoutAfterMaxAttempts(t *testing.T) {
	e, _ := newEngine(t)
	setupTOTP(t, e)
	ctx := context.Background()
	sessionID := uuid.NewString()

	// los códigos generados siempre son de 6 dígitos; 7 no matchea nunca
	for _, want := range []int{2, 1, 0} {
		out, err := e.Verify(ctx, mfa.VerifyRequest{UserID: "u-1", SessionID: sessionID, Code: "0000000"})
		require.NoError(t, err)
		require.False(t, out.Success)
		require.Equal(t, "Invalid code", out.Message)
		require.NotNil(t, out.RemainingAttempts)
		require.Equal(t, want, *out.RemainingAttempts)
	}

	out, err := e.Verify(ctx, mfa.VerifyRequest{UserID: "u-1", SessionID: sessionID, Code: "0000000"})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "Too many attempts. Please start over.", out.Message)
}

func TestBackupCodeConsumedOnce(t *testing.T) {
	e, _ := newEngine(t)
	res := setupTOTP(t, e)
	ctx := context.Background()
	code := res.BackupCodes[0]

	out, err := e.Verify(ctx, mfa.VerifyRequest{
		UserID:    "u-1",
		SessionID: uuid.NewString(),
		Code:      code,
		Method:    core.MFABackupCode,
	})
	require.NoError(t, err)
	require.True(t, out.Success)

	// el mismo backup code no vale dos veces
	out, err = e.Verify(ctx, mfa.VerifyRequest{
		UserID:    "u-1",
		SessionID: uuid.NewString(),
		Code:      code,
		Method:    core.MFABackupCode,
	})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "Invalid code", out.Message)
}

func TestVerifyExpiredCode(t *testing.T) {
	e, st := newEngine(t)
	setupTOTP(t, e)
	ctx := context.Background()
	sessionID := uuid.NewString()

	expired := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.UpsertMFACode(ctx, "u-1", sessionID, core.MFAEmail, "123456", expired, 3))

	out, err := e.Verify(ctx, mfa.VerifyRequest{
		UserID:    "u-1",
		SessionID: sessionID,
		Code:      "123456",
		Method:    core.MFAEmail,
	})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "Code expired", out.Message)
}

func TestVerifyWithoutMFAEnabled(t *testing.T) {
	e, _ := newEngine(t)
	out, err := e.Verify(context.Background(), mfa.VerifyRequest{
		UserID:    "u-1",
		SessionID: uuid.NewString(),
		Code:      "123456",
	})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "MFA not enabled for user", out.Message)
}

func TestSetupSMSRequiresPhone(t *testing.T) {
	e, st := newEngine(t)
	st.PutUser(&core.User{ID: "u-2", Email: "sinfono@example.com", Status: core.StatusActive})

	res, err := e.Setup(context.Background(), mfa.SetupRequest{UserID: "u-2", Method: core.MFASMS})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "Phone number required for SMS MFA", res.Message)
}

func TestDisableChecksPassword(t *testing.T) {
	e, st := newEngine(t)
	setupTOTP(t, e)
	ctx := context.Background()

	out, err := e.Disable(ctx, "u-1", "nope")
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "Invalid password", out.Message)
	require.True(t, e.Required(ctx, "u-1"))

	out, err = e.Disable(ctx, "u-1", "hunter2")
	require.NoError(t, err)
	require.True(t, out.Success)
	require.False(t, e.Required(ctx, "u-1"))

	user, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, user.MFASecret)
	require.Empty(t, user.BackupCodes)
}

func TestStatusReflectsSetup(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	st := e.GetStatus(ctx, "u-1")
	require.False(t, st.Enabled)

	setupTOTP(t, e)
	st = e.GetStatus(ctx, "u-1")
	require.True(t, st.Enabled)
	require.Equal(t, core.MFATOTP, st.Method)
	require.True(t, st.HasBackupCodes)

	// el teléfono sale enmascarado, sólo los últimos 4 dígitos visibles
	require.Equal(t, "**********0000", st.PhoneNumber)
	require.NotContains(t, st.PhoneNumber, "+549115555")
}
