// Package mfa implementa el engine de autenticación multifactor: TOTP,
// códigos one-time por SMS/Email y backup codes, con sesiones de
// verificación limitadas por intentos.
package mfa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skygenesisenterprise/aether-broker/internal/notify"
	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/security/password"
	tokens "github.com/skygenesisenterprise/aether-broker/internal/security/token"
	"github.com/skygenesisenterprise/aether-broker/internal/security/totp"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

const (
	defaultCodeTTL     = 5 * time.Minute
	defaultMaxAttempts = 3
	backupCodeCount    = 10

	// ventana TOTP: +/- 2 pasos de 30s para drift de reloj
	totpWindowSteps = 2
)

// Engine orquesta setup, verificación y baja de MFA.
type Engine struct {
	store    core.Store
	notifier *notify.Dispatcher

	CodeTTL     time.Duration
	MaxAttempts int
	TOTPIssuer  string
}

// NewEngine crea el engine MFA.
func NewEngine(st core.Store, n *notify.Dispatcher, codeTTL time.Duration, maxAttempts int, totpIssuer string) *Engine {
	if codeTTL <= 0 {
		codeTTL = defaultCodeTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if totpIssuer == "" {
		totpIssuer = "Aether Identity"
	}
	return &Engine{
		store:       st,
		notifier:    n,
		CodeTTL:     codeTTL,
		MaxAttempts: maxAttempts,
		TOTPIssuer:  totpIssuer,
	}
}

// ---------- Setup ----------

// SetupRequest pide habilitar un método MFA para un usuario.
type SetupRequest struct {
	UserID      string
	Method      core.MFAMethod
	PhoneNumber string // requerido para SMS si el usuario no tiene uno
}

// SetupResult es el resultado de un setup. Success=false trae Message.
type SetupResult struct {
	Success     bool     `json:"success"`
	Secret      string   `json:"secret,omitempty"`
	OTPAuthURL  string   `json:"otpauthUrl,omitempty"`
	BackupCodes []string `json:"backupCodes,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Setup habilita MFA según el método pedido. Los errores de negocio se
// reportan en el resultado; error sólo ante fallas del store.
func (e *Engine) Setup(ctx context.Context, req SetupRequest) (*SetupResult, error) {
	user, err := e.store.GetUser(ctx, req.UserID)
	if err != nil {
		if core.IsNotFound(err) {
			return &SetupResult{Success: false, Message: "User not found"}, nil
		}
		return nil, err
	}

	switch req.Method {
	case core.MFATOTP:
		return e.setupTOTP(ctx, user)
	case core.MFASMS:
		return e.setupSMS(ctx, user, req.PhoneNumber)
	case core.MFAEmail:
		return e.setupEmail(ctx, user)
	default:
		return &SetupResult{Success: false, Message: "Unsupported MFA method"}, nil
	}
}

func (e *Engine) setupTOTP(ctx context.Context, user *core.User) (*SetupResult, error) {
	_, secretB32, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	backupCodes, err := tokens.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	enabled := true
	method := core.MFATOTP
	now := time.Now().UTC()
	upd := core.MFAUpdate{
		Enabled:     &enabled,
		Method:      &method,
		Secret:      &secretB32,
		BackupCodes: &backupCodes,
		CreatedAt:   &now,
	}
	if err := e.store.UpdateUserMFA(ctx, user.ID, upd); err != nil {
		return nil, fmt.Errorf("enable totp: %w", err)
	}

	logger.Named("mfa").Info("totp enabled", logger.UserID(user.ID))
	return &SetupResult{
		Success:     true,
		Secret:      secretB32,
		OTPAuthURL:  totp.OTPAuthURL(e.TOTPIssuer, user.Email, secretB32),
		BackupCodes: backupCodes,
	}, nil
}

func (e *Engine) setupSMS(ctx context.Context, user *core.User, phoneNumber string) (*SetupResult, error) {
	if phoneNumber == "" {
		phoneNumber = user.PhoneNumber
	}
	if phoneNumber == "" {
		return &SetupResult{Success: false, Message: "Phone number required for SMS MFA"}, nil
	}

	backupCodes, err := tokens.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	enabled := true
	method := core.MFASMS
	now := time.Now().UTC()
	upd := core.MFAUpdate{
		Enabled:     &enabled,
		Method:      &method,
		BackupCodes: &backupCodes,
		PhoneNumber: &phoneNumber,
		CreatedAt:   &now,
	}
	if err := e.store.UpdateUserMFA(ctx, user.ID, upd); err != nil {
		return nil, fmt.Errorf("enable sms mfa: %w", err)
	}

	// código de verificación inicial sobre una sesión efímera
	e.SendCode(ctx, user.ID, uuid.NewString(), core.MFASMS)

	logger.Named("mfa").Info("sms mfa enabled", logger.UserID(user.ID))
	return &SetupResult{
		Success:     true,
		Message:     "SMS MFA enabled. Verification code sent to your phone.",
		BackupCodes: backupCodes,
	}, nil
}

func (e *Engine) setupEmail(ctx context.Context, user *core.User) (*SetupResult, error) {
	backupCodes, err := tokens.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	enabled := true
	method := core.MFAEmail
	now := time.Now().UTC()
	upd := core.MFAUpdate{
		Enabled:     &enabled,
		Method:      &method,
		BackupCodes: &backupCodes,
		CreatedAt:   &now,
	}
	if err := e.store.UpdateUserMFA(ctx, user.ID, upd); err != nil {
		return nil, fmt.Errorf("enable email mfa: %w", err)
	}

	e.SendCode(ctx, user.ID, uuid.NewString(), core.MFAEmail)

	logger.Named("mfa").Info("email mfa enabled", logger.UserID(user.ID))
	return &SetupResult{
		Success:     true,
		Message:     "Email MFA enabled. Verification code sent to your email.",
		BackupCodes: backupCodes,
	}, nil
}

// ---------- Verificación ----------

// VerifyRequest valida un código contra una sesión MFA.
type VerifyRequest struct {
	UserID    string
	SessionID string
	Code      string
	Method    core.MFAMethod // opcional; default método del usuario
}

// VerifyResult indica éxito o el motivo del rechazo.
type VerifyResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
}

// Verify valida el código contra la sesión. Cada intento, válido o no,
// consume uno de los MaxAttempts de la sesión; agotados, la sesión queda
// bloqueada y hay que arrancar de nuevo.
func (e *Engine) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	user, err := e.store.GetUser(ctx, req.UserID)
	if err != nil {
		if core.IsNotFound(err) {
			return &VerifyResult{Success: false, Message: "MFA not enabled for user"}, nil
		}
		return nil, err
	}
	if !user.MFAEnabled {
		return &VerifyResult{Success: false, Message: "MFA not enabled for user"}, nil
	}

	method := req.Method
	if method == "" {
		method = user.MFAMethod
	}

	session, err := e.store.GetMFASession(ctx, req.SessionID)
	if core.IsNotFound(err) {
		session = &core.MFASession{
			ID:            uuid.NewString(),
			UserID:        req.UserID,
			SessionID:     req.SessionID,
			Method:        method,
			CodeExpiresAt: time.Now().UTC().Add(e.CodeTTL),
			MaxAttempts:   e.MaxAttempts,
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
		if err := e.store.CreateMFASession(ctx, session); err != nil {
			return nil, fmt.Errorf("create mfa session: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if session.Attempts >= session.MaxAttempts {
		zero := 0
		return &VerifyResult{
			Success:           false,
			Message:           "Too many attempts. Please start over.",
			RemainingAttempts: &zero,
		}, nil
	}

	if !session.CodeExpiresAt.IsZero() && session.CodeExpiresAt.Before(time.Now().UTC()) {
		return &VerifyResult{Success: false, Message: "Code expired"}, nil
	}

	var valid bool
	switch method {
	case core.MFATOTP:
		valid = e.verifyTOTP(user, req.Code)
	case core.MFASMS, core.MFAEmail:
		valid = session.Code != "" && session.Code == req.Code
	case core.MFABackupCode:
		valid, err = e.store.ConsumeBackupCode(ctx, user.ID, req.Code)
		if err != nil {
			return nil, err
		}
	default:
		return &VerifyResult{Success: false, Message: "Invalid MFA method"}, nil
	}

	attempts, err := e.store.IncrementMFAAttempts(ctx, session.ID, valid)
	if err != nil {
		return nil, fmt.Errorf("record mfa attempt: %w", err)
	}

	if !valid {
		remaining := session.MaxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		logger.Named("mfa").Warn("mfa verification failed",
			logger.UserID(user.ID), logger.SessionID(req.SessionID),
			logger.String("method", string(method)), logger.Int("remaining", remaining))
		return &VerifyResult{
			Success:           false,
			Message:           "Invalid code",
			RemainingAttempts: &remaining,
		}, nil
	}

	if err := e.store.SetLastMFAUsed(ctx, user.ID, time.Now().UTC()); err != nil {
		logger.Named("mfa").Warn("failed to record mfa usage", logger.Err(err))
	}

	logger.Named("mfa").Info("mfa verified",
		logger.UserID(user.ID), logger.String("method", string(method)))
	return &VerifyResult{Success: true}, nil
}

func (e *Engine) verifyTOTP(user *core.User, code string) bool {
	raw, err := totp.DecodeSecret(user.MFASecret)
	if err != nil {
		return false
	}
	return totp.Verify(raw, code, time.Now(), totpWindowSteps)
}

// ---------- Envío de códigos ----------

// SendCode genera un código one-time, lo deja en la sesión (attempts=0) y
// lo despacha por el canal pedido. Retorna éxito como booleano.
func (e *Engine) SendCode(ctx context.Context, userID, sessionID string, method core.MFAMethod) bool {
	log := logger.Named("mfa")

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return false
	}

	code, err := tokens.GenerateNumericCode(6)
	if err != nil {
		log.Error("failed to generate mfa code", logger.Err(err))
		return false
	}
	expiresAt := time.Now().UTC().Add(e.CodeTTL)

	if err := e.store.UpsertMFACode(ctx, userID, sessionID, method, code, expiresAt, e.MaxAttempts); err != nil {
		log.Error("failed to store mfa code", logger.Err(err))
		return false
	}

	switch method {
	case core.MFASMS:
		if user.PhoneNumber == "" {
			return false
		}
		return e.notifier.SendSMS(ctx, user.PhoneNumber,
			fmt.Sprintf("Your Aether Identity verification code is: %s", code))
	case core.MFAEmail:
		body := fmt.Sprintf("Your verification code is: %s. This code will expire in 5 minutes.", code)
		return e.notifier.SendEmail(ctx, user.Email, "Aether Identity Verification Code", "", body)
	default:
		return false
	}
}

// ---------- Baja y estado ----------

// DisableResult indica éxito o el motivo del rechazo.
type DisableResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Disable apaga MFA del usuario previa verificación de password, y limpia
// secreto, backup codes, teléfono y sesiones pendientes.
func (e *Engine) Disable(ctx context.Context, userID, plainPassword string) (*DisableResult, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if core.IsNotFound(err) {
			return &DisableResult{Success: false, Message: "User not found"}, nil
		}
		return nil, err
	}

	if !password.Verify(plainPassword, user.PasswordHash) {
		return &DisableResult{Success: false, Message: "Invalid password"}, nil
	}

	disabled := false
	var noMethod core.MFAMethod
	empty := ""
	var noCodes []string
	upd := core.MFAUpdate{
		Enabled:     &disabled,
		Method:      &noMethod,
		Secret:      &empty,
		BackupCodes: &noCodes,
		PhoneNumber: &empty,
	}
	if err := e.store.UpdateUserMFA(ctx, userID, upd); err != nil {
		return nil, fmt.Errorf("disable mfa: %w", err)
	}
	if err := e.store.DeleteMFASessionsForUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("cleanup mfa sessions: %w", err)
	}

	logger.Named("mfa").Info("mfa disabled", logger.UserID(userID))
	return &DisableResult{Success: true}, nil
}

// Required informa si el usuario tiene MFA habilitado.
func (e *Engine) Required(ctx context.Context, userID string) bool {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return false
	}
	return user.MFAEnabled
}

// Status es el estado MFA visible del usuario.
type Status struct {
	Enabled        bool           `json:"enabled"`
	Method         core.MFAMethod `json:"method,omitempty"`
	PhoneNumber    string         `json:"phoneNumber,omitempty"`
	HasBackupCodes bool           `json:"hasBackupCodes"`
	MFACreatedAt   *time.Time     `json:"mfaCreatedAt,omitempty"`
	LastMFAUsed    *time.Time     `json:"lastMfaUsed,omitempty"`
}

// GetStatus retorna el estado MFA del usuario; usuario inexistente degrada
// a estado deshabilitado.
func (e *Engine) GetStatus(ctx context.Context, userID string) *Status {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return &Status{Enabled: false, HasBackupCodes: false}
	}
	return &Status{
		Enabled:        user.MFAEnabled,
		Method:         user.MFAMethod,
		PhoneNumber:    maskPhone(user.PhoneNumber),
		HasBackupCodes: len(user.BackupCodes) > 0,
		MFACreatedAt:   user.MFACreatedAt,
		LastMFAUsed:    user.LastMFAUsed,
	}
}

// maskPhone deja visibles sólo los últimos 4 dígitos.
func maskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
