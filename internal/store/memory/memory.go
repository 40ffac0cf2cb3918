// Package memory implementa core.Store en memoria. Útil para desarrollo y
// tests; respeta los mismos contratos de atomicidad que el adapter pg
// (CAS sobre is_completed, incremento atómico de attempts).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

type Store struct {
	mu sync.RWMutex

	users            map[string]*core.User              // por id
	clients          map[string]*core.ClientApplication // por clientId
	authSessions     map[string]*core.AuthSession       // por sessionId
	mfaSessions      map[string]*core.MFASession        // por sessionId
	mfaByID          map[string]*core.MFASession        // por id
	roles            map[string]*core.Role              // por id
	permissions      map[string]*core.Permission        // por id
	rolePerms        map[string][]string                // roleID -> permissionIDs
	userRoles        map[string]*core.UserRole          // key userID|roleID
	webhooks         map[string]*core.Webhook
	deliveries       []*core.WebhookDelivery
	identitySessions map[string]*core.IdentitySession // por sessionId
}

func New() *Store {
	return &Store{
		users:            make(map[string]*core.User),
		clients:          make(map[string]*core.ClientApplication),
		authSessions:     make(map[string]*core.AuthSession),
		mfaSessions:      make(map[string]*core.MFASession),
		mfaByID:          make(map[string]*core.MFASession),
		roles:            make(map[string]*core.Role),
		permissions:      make(map[string]*core.Permission),
		rolePerms:        make(map[string][]string),
		userRoles:        make(map[string]*core.UserRole),
		webhooks:         make(map[string]*core.Webhook),
		identitySessions: make(map[string]*core.IdentitySession),
	}
}

var _ core.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

// ---------- seeds (dev/tests) ----------

// PutUser inserta o reemplaza un usuario.
func (s *Store) PutUser(u *core.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	s.users[u.ID] = &cp
}

// PutClient inserta o reemplaza un client application.
func (s *Store) PutClient(c *core.ClientApplication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	s.clients[c.ClientID] = &cp
}

// ---------- users ----------

func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	cp.BackupCodes = append([]string(nil), u.BackupCodes...)
	return &cp, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			cp.BackupCodes = append([]string(nil), u.BackupCodes...)
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) UpdateUserMFA(ctx context.Context, userID string, upd core.MFAUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	if upd.Enabled != nil {
		u.MFAEnabled = *upd.Enabled
	}
	if upd.Method != nil {
		u.MFAMethod = *upd.Method
	}
	if upd.Secret != nil {
		u.MFASecret = *upd.Secret
	}
	if upd.BackupCodes != nil {
		u.BackupCodes = append([]string(nil), (*upd.BackupCodes)...)
	}
	if upd.PhoneNumber != nil {
		u.PhoneNumber = *upd.PhoneNumber
	}
	if upd.CreatedAt != nil {
		if upd.CreatedAt.IsZero() {
			u.MFACreatedAt = nil
		} else {
			at := *upd.CreatedAt
			u.MFACreatedAt = &at
		}
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, core.ErrNotFound
	}
	for i, c := range u.BackupCodes {
		if c == code {
			u.BackupCodes = append(u.BackupCodes[:i], u.BackupCodes[i+1:]...)
			u.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SetLastMFAUsed(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	t := at
	u.LastMFAUsed = &t
	return nil
}

// ---------- clients ----------

func (s *Store) GetClient(ctx context.Context, id string) (*core.ClientApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (*core.ClientApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ---------- auth sessions ----------

func (s *Store) CreateAuthSession(ctx context.Context, as *core.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if as.ID == "" {
		as.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	as.CreatedAt = now
	as.UpdatedAt = now
	cp := *as
	s.authSessions[as.SessionID] = &cp
	return nil
}

func (s *Store) GetAuthSessionBySessionID(ctx context.Context, sessionID string) (*core.AuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	as, ok := s.authSessions[sessionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *as
	return &cp, nil
}

func (s *Store) SetAuthSessionUser(ctx context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.authSessions[sessionID]
	if !ok {
		return core.ErrNotFound
	}
	as.UserID = userID
	as.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CompleteAuthSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.authSessions[sessionID]
	if !ok {
		return core.ErrNotFound
	}
	if as.IsCompleted {
		return core.ErrAlreadyCompleted
	}
	as.IsCompleted = true
	as.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) PurgeAuthSessions(ctx context.Context, now, completedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, as := range s.authSessions {
		if as.AuthCodeExpiresAt.Before(now) || (as.IsCompleted && as.UpdatedAt.Before(completedBefore)) {
			delete(s.authSessions, k)
			n++
		}
	}
	return n, nil
}

// ---------- mfa sessions ----------

func (s *Store) GetMFASession(ctx context.Context, sessionID string) (*core.MFASession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.mfaSessions[sessionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *ms
	return &cp, nil
}

func (s *Store) CreateMFASession(ctx context.Context, ms *core.MFASession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms.ID == "" {
		ms.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ms.CreatedAt = now
	ms.UpdatedAt = now
	cp := *ms
	s.mfaSessions[ms.SessionID] = &cp
	s.mfaByID[ms.ID] = &cp
	return nil
}

func (s *Store) UpsertMFACode(ctx context.Context, userID, sessionID string, method core.MFAMethod, code string, expiresAt time.Time, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if ms, ok := s.mfaSessions[sessionID]; ok {
		ms.Code = code
		ms.CodeExpiresAt = expiresAt
		ms.Attempts = 0
		ms.Method = method
		ms.UpdatedAt = now
		return nil
	}
	ms := &core.MFASession{
		ID:            uuid.NewString(),
		UserID:        userID,
		SessionID:     sessionID,
		Method:        method,
		Code:          code,
		CodeExpiresAt: expiresAt,
		MaxAttempts:   maxAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.mfaSessions[sessionID] = ms
	s.mfaByID[ms.ID] = ms
	return nil
}

func (s *Store) IncrementMFAAttempts(ctx context.Context, id string, verified bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.mfaByID[id]
	if !ok {
		return 0, core.ErrNotFound
	}
	ms.Attempts++
	ms.IsVerified = verified
	ms.UpdatedAt = time.Now().UTC()
	return ms.Attempts, nil
}

func (s *Store) DeleteMFASessionsForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ms := range s.mfaSessions {
		if ms.UserID == userID {
			delete(s.mfaSessions, k)
			delete(s.mfaByID, ms.ID)
		}
	}
	return nil
}

func (s *Store) PurgeMFASessions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, ms := range s.mfaSessions {
		if ms.CodeExpiresAt.Before(now) || ms.Attempts >= ms.MaxAttempts {
			delete(s.mfaSessions, k)
			delete(s.mfaByID, ms.ID)
			n++
		}
	}
	return n, nil
}

// ---------- rbac ----------

func userRoleKey(userID, roleID string) string { return userID + "|" + roleID }

func (s *Store) CreateRole(ctx context.Context, r *core.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	for _, ex := range s.roles {
		if ex.Name == r.Name {
			return core.ErrConflict
		}
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	s.roles[r.ID] = &cp
	return nil
}

func (s *Store) UpdateRole(ctx context.Context, r *core.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return core.ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	s.roles[r.ID] = &cp
	return nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return core.ErrNotFound
	}
	delete(s.roles, roleID)
	delete(s.rolePerms, roleID)
	// Las asignaciones quedan inertes a propósito (sin cascada).
	return nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (*core.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*core.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			cp := *r
			cp.Permissions = append([]string(nil), r.Permissions...)
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) ListRoles(ctx context.Context, f core.RoleFilter) ([]*core.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Role
	for _, r := range s.roles {
		if f.IsActive != nil && r.IsActive != *f.IsActive {
			continue
		}
		if f.IsSystem != nil && r.IsSystem != *f.IsSystem {
			continue
		}
		cp := *r
		cp.Permissions = append([]string(nil), r.Permissions...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreatePermission(ctx context.Context, p *core.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, ex := range s.permissions {
		if ex.Name == p.Name {
			return core.ErrConflict
		}
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	s.permissions[p.ID] = &cp
	return nil
}

func (s *Store) UpdatePermission(ctx context.Context, p *core.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[p.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *p
	s.permissions[p.ID] = &cp
	return nil
}

func (s *Store) DeletePermission(ctx context.Context, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[permissionID]; !ok {
		return core.ErrNotFound
	}
	delete(s.permissions, permissionID)
	return nil
}

func (s *Store) GetPermission(ctx context.Context, permissionID string) (*core.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[permissionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (*core.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) ListPermissions(ctx context.Context, f core.PermissionFilter) ([]*core.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Permission
	for _, p := range s.permissions {
		if f.Resource != "" && p.Resource != f.Resource {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.IsActive != nil && p.IsActive != *f.IsActive {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID string) ([]*core.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Permission
	for _, pid := range s.rolePerms[roleID] {
		if p, ok := s.permissions[pid]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return core.ErrNotFound
	}
	s.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

func (s *Store) AssignRole(ctx context.Context, ur *core.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userRoleKey(ur.UserID, ur.RoleID)
	if _, ok := s.userRoles[k]; ok {
		return core.ErrConflict
	}
	ur.AssignedAt = time.Now().UTC()
	cp := *ur
	s.userRoles[k] = &cp
	return nil
}

func (s *Store) RemoveUserRole(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userRoleKey(userID, roleID)
	if _, ok := s.userRoles[k]; !ok {
		return core.ErrNotFound
	}
	delete(s.userRoles, k)
	return nil
}

func (s *Store) UpdateUserRole(ctx context.Context, ur *core.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userRoleKey(ur.UserID, ur.RoleID)
	if _, ok := s.userRoles[k]; !ok {
		return core.ErrNotFound
	}
	cp := *ur
	s.userRoles[k] = &cp
	return nil
}

func (s *Store) ListUserRoles(ctx context.Context, userID string) ([]*core.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.UserRole
	for _, ur := range s.userRoles {
		if ur.UserID == userID {
			cp := *ur
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListUsersWithRole(ctx context.Context, roleID string) ([]*core.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.UserRole
	for _, ur := range s.userRoles {
		if ur.RoleID == roleID && ur.IsActive && !ur.Expired(time.Now().UTC()) {
			cp := *ur
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---------- webhooks ----------

func (s *Store) CreateWebhook(ctx context.Context, w *core.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	cp := *w
	cp.Events = append([]string(nil), w.Events...)
	s.webhooks[w.ID] = &cp
	return nil
}

func (s *Store) UpdateWebhook(ctx context.Context, w *core.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[w.ID]; !ok {
		return core.ErrNotFound
	}
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	cp.Events = append([]string(nil), w.Events...)
	s.webhooks[w.ID] = &cp
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.webhooks, id)
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*core.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.webhooks[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *w
	cp.Events = append([]string(nil), w.Events...)
	return &cp, nil
}

func (s *Store) ListWebhooks(ctx context.Context, f core.WebhookFilter) ([]*core.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Webhook
	for _, w := range s.webhooks {
		if f.IsActive != nil && w.IsActive != *f.IsActive {
			continue
		}
		if f.CreatedBy != "" && w.CreatedBy != f.CreatedBy {
			continue
		}
		if f.Event != "" && !w.SubscribedTo(f.Event) {
			continue
		}
		cp := *w
		cp.Events = append([]string(nil), w.Events...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListActiveWebhooksForEvent(ctx context.Context, eventType string) ([]*core.Webhook, error) {
	active := true
	return s.ListWebhooks(ctx, core.WebhookFilter{IsActive: &active, Event: eventType})
}

func (s *Store) CreateDelivery(ctx context.Context, d *core.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	cp := *d
	s.deliveries = append(s.deliveries, &cp)
	return nil
}

func (s *Store) ListPendingRetries(ctx context.Context, now time.Time) ([]*core.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.WebhookDelivery
	for _, d := range s.deliveries {
		if !d.Success && d.Attempts < d.MaxAttempts && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListRecentDeliveries(ctx context.Context, webhookID string, limit int) ([]*core.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.WebhookDelivery
	for i := len(s.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.deliveries[i].WebhookID == webhookID {
			cp := *s.deliveries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetDeliveryStats(ctx context.Context, webhookID string) (core.DeliveryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st core.DeliveryStats
	for _, d := range s.deliveries {
		if d.WebhookID != webhookID {
			continue
		}
		st.Total++
		if d.Success {
			st.Successful++
		} else {
			st.Failed++
		}
	}
	return st, nil
}

func (s *Store) PurgeDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.deliveries[:0]
	n := 0
	for _, d := range s.deliveries {
		if d.CreatedAt.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	s.deliveries = kept
	return n, nil
}

// ---------- identity sessions ----------

func (s *Store) CreateIdentitySession(ctx context.Context, is *core.IdentitySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if is.ID == "" {
		is.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	is.CreatedAt = now
	is.UpdatedAt = now
	cp := *is
	s.identitySessions[is.SessionID] = &cp
	return nil
}

func (s *Store) GetIdentitySession(ctx context.Context, sessionID string) (*core.IdentitySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	is, ok := s.identitySessions[sessionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *is
	return &cp, nil
}

func (s *Store) RefreshIdentitySession(ctx context.Context, sessionID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.identitySessions[sessionID]
	if !ok {
		return core.ErrNotFound
	}
	is.Token = token
	is.ExpiresAt = expiresAt
	is.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeactivateIdentitySessions(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, is := range s.identitySessions {
		if is.UserID == userID {
			is.IsActive = false
			is.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (s *Store) PurgeIdentitySessions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, is := range s.identitySessions {
		if is.ExpiresAt.Before(now) || !is.IsActive {
			delete(s.identitySessions, k)
			n++
		}
	}
	return n, nil
}
