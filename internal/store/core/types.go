// Package core define los tipos de dominio y los contratos del entity store.
// Los adapters (pg, memory) implementan Store; los services sólo dependen de
// estas interfaces.
package core

import "time"

// ---------- Usuarios ----------

type UserRoleKind string

const (
	RoleUser    UserRoleKind = "USER"
	RoleManager UserRoleKind = "MANAGER"
	RoleAdmin   UserRoleKind = "ADMIN"
)

type UserStatus string

const (
	StatusActive    UserStatus = "ACTIVE"
	StatusInactive  UserStatus = "INACTIVE"
	StatusSuspended UserStatus = "SUSPENDED"
)

type MFAMethod string

const (
	MFATOTP       MFAMethod = "TOTP"
	MFASMS        MFAMethod = "SMS"
	MFAEmail      MFAMethod = "EMAIL"
	MFABackupCode MFAMethod = "BACKUP_CODE"
)

type Membership struct {
	OrganizationID   string
	OrganizationName string
}

type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          UserRoleKind
	Status        UserStatus
	EmailVerified bool

	// Perfil
	FirstName string
	LastName  string
	Avatar    string

	// MFA
	MFAEnabled   bool
	MFAMethod    MFAMethod
	MFASecret    string // TOTP secret (base32)
	BackupCodes  []string
	PhoneNumber  string
	MFACreatedAt *time.Time
	LastMFAUsed  *time.Time

	Memberships []Membership

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName arma el nombre para el ID token; cae al email si falta perfil.
func (u *User) DisplayName() string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Email
}

// ---------- Client applications ----------

type ClientApplication struct {
	ID                 string
	ClientID           string
	Name               string
	AllowedScopes      []string
	DefaultScopes      []string
	RedirectURIs       []string
	DefaultRedirectURL string
	SkipConsent        bool
	IsActive           bool
	CreatedAt          time.Time
}

// ---------- Auth sessions (flujo authorize/exchange) ----------

type AuthSession struct {
	ID                  string
	SessionID           string
	ClientID            string // id interno del client
	UserID              string // vacío hasta autenticar
	State               string
	RedirectURI         string
	FinalRedirectURL    string
	Scope               string
	ResponseType        string
	CodeChallenge       string
	CodeChallengeMethod string
	AuthCode            string
	AuthCodeExpiresAt   time.Time
	IsCompleted         bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ---------- MFA sessions ----------

type MFASession struct {
	ID            string
	UserID        string
	SessionID     string
	Method        MFAMethod
	Code          string // one-time code para SMS/Email; vacío para TOTP
	CodeExpiresAt time.Time
	Attempts      int
	MaxAttempts   int
	IsVerified    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ---------- RBAC ----------

type Role struct {
	ID          string
	Name        string
	Description string
	// Lista denormalizada de nombres de permisos.
	Permissions []string
	IsSystem    bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Permission struct {
	ID          string
	Name        string
	Description string
	Resource    string
	Action      string
	Category    string
	IsActive    bool
	CreatedAt   time.Time
}

type UserRole struct {
	UserID     string
	RoleID     string
	AssignedBy string
	AssignedAt time.Time
	ExpiresAt  *time.Time
	IsActive   bool
}

// Expired informa si la asignación venció a un instante dado.
func (ur *UserRole) Expired(now time.Time) bool {
	return ur.ExpiresAt != nil && !ur.ExpiresAt.After(now)
}

// ---------- Webhooks ----------

type Webhook struct {
	ID          string
	URL         string
	Secret      string
	Events      []string
	Description string
	IsActive    bool
	Timeout     time.Duration
	RetryCount  int
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SubscribedTo informa si el webhook está suscripto al tipo de evento.
func (w *Webhook) SubscribedTo(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery es un registro inmutable de intento de entrega.
type WebhookDelivery struct {
	ID          string
	WebhookID   string
	EventType   string
	Payload     string
	Response    string
	StatusCode  *int
	Success     bool
	Attempts    int
	MaxAttempts int
	DeliveredAt *time.Time
	NextRetryAt *time.Time
	CreatedAt   time.Time
}

// ---------- Identity sessions (cookie cross-domain) ----------

type IdentitySession struct {
	ID        string
	SessionID string
	UserID    string
	Token     string
	ExpiresAt time.Time
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
