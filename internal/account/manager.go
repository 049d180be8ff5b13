// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package account implements the account flows: registration, account creation,
// authentication, password reset, session keys and field-level data access.
//
// All state lives in the store. A Manager holds no per-account state, so any number of
// instances may serve the same accounts. Every error carries a classification that
// CodeOf turns into the numeric code reported to callers.
package account

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/credential"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/internal/ticket"
	"github.com/holomush/accountd/pkg/errutil"
)

// Storage layout.
const (
	Table   = "users"
	KeyName = "Guuid"

	AllowlistTable   = "whitelist"
	AllowlistKeyName = "email"
)

// Ticket validity windows.
const (
	RegistrationWindow = 24 * time.Hour
	ResetWindow        = 20 * time.Minute
)

// MinPasswordLength is the shortest accepted password hash.
const MinPasswordLength = 8

// Authentication methods reported to metrics.
const (
	MethodPassword     = "password"
	MethodSessionToken = "session_token"
)

// Backend is the storage the manager needs.
type Backend interface {
	store.Reader
	store.Writer
}

// IDSource allocates user ids.
type IDSource interface {
	NextUserID(ctx context.Context) (string, error)
}

// Tickets stores registration and reset tickets.
type Tickets interface {
	Open(ctx context.Context, kind ticket.Kind, issue func(id string) ticket.Record) (string, error)
	Get(ctx context.Context, id string, kind ticket.Kind) (ticket.Record, error)
	Consume(ctx context.Context, id string, kind ticket.Kind, issuedAt int64) error
}

// StatsSink receives successful logins.
type StatsSink interface {
	RecordLogin(userID string)
}

// Metrics receives authentication outcomes.
type Metrics interface {
	AuthAttempt(method string, ok bool)
}

// Settings are the deployment values the flows depend on.
type Settings struct {
	UserIDPrefix         string
	SuperuserID          string
	SuperuserEmail       string
	SuperuserPwdHash     string
	RestrictRegistration bool
	DefaultClient        string
}

// Ticket is handed to the caller of a registration or reset request. Token goes to the
// user, typically by email; only its hash is stored.
type Ticket struct {
	UserID   string
	Type     IDType
	TicketID string
	Token    string
	Time     int64
}

// CreateUserRequest confirms a registration.
type CreateUserRequest struct {
	UserID   string
	Type     IDType
	Token    string
	Time     string
	TicketID string
	Password string
	Language string
}

// ResetRequest asks for a password reset ticket.
type ResetRequest struct {
	UserID string
	Type   IDType
}

// ChangePasswordRequest confirms a password reset.
type ChangePasswordRequest struct {
	UserID      string
	Type        IDType
	NewPassword string
	Token       string
	Time        string
	TicketID    string
}

// AuthRequest is one authentication attempt. An empty IDType is detected from UserID;
// an empty Client selects the default client.
type AuthRequest struct {
	UserID     string
	IDType     IDType
	Credential Credential
	Client     string
}

// Identity is the outcome of a successful authentication.
type Identity struct {
	UserID       string
	Client       string
	AccessLevel  int
	RawBasicInfo map[string]any
}

// LocalUser describes an account created without the registration protocol.
type LocalUser struct {
	Email    string
	Password string
	Language string
	Roles    []string
}

// Manager runs the account flows.
type Manager struct {
	store    Backend
	ids      IDSource
	tickets  Tickets
	hasher   credential.Hasher
	trust    *TrustPolicy
	settings Settings
	stats    StatsSink
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
}

var _ Authenticator = (*Manager)(nil)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSettings sets the deployment values.
func WithSettings(s Settings) ManagerOption {
	return func(m *Manager) {
		m.settings = s
	}
}

// WithTrustPolicy sets the client trust policy.
func WithTrustPolicy(p *TrustPolicy) ManagerOption {
	return func(m *Manager) {
		m.trust = p
	}
}

// WithStats sets the login statistics sink.
func WithStats(s StatsSink) ManagerOption {
	return func(m *Manager) {
		m.stats = s
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager.
func NewManager(backend Backend, ids IDSource, tickets Tickets, hasher credential.Hasher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    backend,
		ids:      ids,
		tickets:  tickets,
		hasher:   hasher,
		settings: Settings{UserIDPrefix: "uid", DefaultClient: "web_app"},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterByEmail opens a registration ticket for email.
func (m *Manager) RegisterByEmail(ctx context.Context, email string) (*Ticket, error) {
	email = Clean(email)
	if email == "" {
		return nil, oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "email cannot be empty")
	}
	if m.isSuperuserEmail(email) {
		return nil, oops.Code(ErrCodeTokenRejected).Wrapf(ErrTokenRejected, "registration not allowed")
	}

	existing, err := m.UserExists(ctx, email, IDTypeEmail)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return nil, oops.Code(ErrCodeTokenRejected).Wrapf(ErrTokenRejected, "registration not allowed")
	}

	if m.settings.RestrictRegistration {
		allowed, err := m.IsAllowlisted(ctx, email)
		if err != nil {
			return nil, err
		}
		if !allowed {
			m.logger.DebugContext(ctx, "registration blocked by allow-list")
			return nil, oops.Code(ErrCodeTokenRejected).Wrapf(ErrTokenRejected, "registration not allowed")
		}
	}

	return m.openTicket(ctx, ticket.Registration, email, IDTypeEmail)
}

// CreateUser confirms a registration ticket and creates the account. It returns the new
// user id.
func (m *Manager) CreateUser(ctx context.Context, req CreateUserRequest) (string, error) {
	if req.Type != IDTypeEmail {
		return "", oops.Code(ErrCodeInvalidInput).With("id_type", req.Type).Wrapf(ErrInvalidInput, "accounts are created by email only")
	}
	issuedAt, err := m.checkWindow(req.Time, RegistrationWindow)
	if err != nil {
		return "", err
	}
	email := Clean(req.UserID)

	rec, err := m.checkTicket(ctx, ticket.Registration, email, req.Token, req.Time, req.TicketID, issuedAt)
	if err != nil {
		return "", err
	}
	if len(req.Password) < MinPasswordLength {
		return "", oops.Code(ErrCodePasswordPolicy).Wrap(ErrPasswordPolicy)
	}

	existing, err := m.UserExists(ctx, email, IDTypeEmail)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return "", oops.Code(ErrCodeTokenRejected).Wrapf(ErrTokenRejected, "registration not allowed")
	}

	derived, err := m.derive(req.Password)
	if err != nil {
		return "", err
	}
	if err := m.tickets.Consume(ctx, req.TicketID, ticket.Registration, rec.IssuedAt); err != nil {
		return "", err
	}
	return m.writeAccount(ctx, email, req.Language, DefaultRoles, derived)
}

// CreateLocalUser creates an account directly, without a registration ticket or the
// allow-list. It returns the new user id.
func (m *Manager) CreateLocalUser(ctx context.Context, u LocalUser) (string, error) {
	email := Clean(u.Email)
	if email == "" {
		return "", oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "email cannot be empty")
	}
	if len(u.Password) < MinPasswordLength {
		return "", oops.Code(ErrCodePasswordPolicy).Wrap(ErrPasswordPolicy)
	}
	existing, err := m.UserExists(ctx, email, IDTypeEmail)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return "", oops.Code(ErrCodeTokenRejected).With("userid", existing).Wrapf(ErrTokenRejected, "account exists")
	}

	derived, err := m.derive(u.Password)
	if err != nil {
		return "", err
	}
	roles := u.Roles
	if len(roles) == 0 {
		roles = DefaultRoles
	}
	return m.writeAccount(ctx, email, u.Language, roles, derived)
}

// Authenticate checks a password hash or session token. Unknown accounts are reported
// as Denied so callers cannot probe for them.
func (m *Manager) Authenticate(ctx context.Context, req AuthRequest) (*Identity, error) {
	method := MethodPassword
	if req.Credential.Kind() == CredentialSessionToken {
		method = MethodSessionToken
	}
	id, err := m.authenticate(ctx, req)
	if m.metrics != nil {
		m.metrics.AuthAttempt(method, err == nil)
	}
	if err != nil {
		m.logger.DebugContext(ctx, "authentication failed", "method", method, "code", CodeOf(err).String())
		return nil, err
	}
	if m.stats != nil {
		m.stats.RecordLogin(id.UserID)
	}
	return id, nil
}

func (m *Manager) authenticate(ctx context.Context, req AuthRequest) (*Identity, error) {
	userID := Clean(req.UserID)
	secret := req.Credential.Value()
	if userID == "" || secret == "" {
		return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
	}
	idType := req.IDType
	if idType == "" {
		detected, ok := DetectType(userID, m.settings.UserIDPrefix)
		if !ok {
			return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
		}
		idType = detected
	}
	client := normalizeClient(req.Client, m.settings.DefaultClient)
	tokenPath := ClientPath(client)

	fields := append([]string{KeyName}, basicFields...)
	switch req.Credential.Kind() {
	case CredentialSessionToken:
		fields = append(fields, tokenPath, tokenPath+"_ts")
	case CredentialPasswordHash:
		fields = append(fields, AttrPwd.String(), AttrPwdSalt.String(), AttrPwdIteration.String())
	default:
		return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
	}

	item, err := m.lookup(ctx, userID, idType, fields...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, reclassify(ErrCodeDenied, nil).With("id_type", idType).Wrap(ErrDenied)
	}
	if err != nil {
		return nil, oops.With("operation", "authenticate").Wrap(err)
	}

	switch req.Credential.Kind() {
	case CredentialSessionToken:
		stored := item.String(tokenPath)
		issued, ok := item.Int64(tokenPath + "_ts")
		if !ok || stored == "" || stored == LoggedOut || !credential.Equal(stored, secret) {
			return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
		}
		window := m.trust.SessionWindow(client)
		if m.now().UnixMilli()-issued > window.Milliseconds() {
			return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
		}
	default:
		hash := item.String(AttrPwd.String())
		salt := item.String(AttrPwdSalt.String())
		iterations, ok := item.Int64(AttrPwdIteration.String())
		if hash == "" || salt == "" || !ok {
			return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
		}
		match, err := m.hasher.Verify(secret, hash, salt, int(iterations))
		if err != nil {
			errutil.LogErrorContext(ctx, m.logger, "password verification failed", err)
			return nil, reclassify(ErrCodeDerivationFailed, err).Wrap(ErrDerivation)
		}
		if !match {
			return nil, oops.Code(ErrCodeDenied).Wrap(ErrDenied)
		}
	}

	uid := item.String(KeyName)
	if uid == "" {
		uid = userID
	}
	return &Identity{
		UserID:       uid,
		Client:       client,
		AccessLevel:  0,
		RawBasicInfo: map[string]any(item.Project(basicFields...)),
	}, nil
}

// UpgradeBasicInfo turns the raw snapshot captured at authentication into BasicInfo.
func (m *Manager) UpgradeBasicInfo(userID string, raw map[string]any) BasicInfo {
	return upgradeBasicInfo(userID, raw)
}

// RequestPasswordChange opens a reset ticket for an existing account.
func (m *Manager) RequestPasswordChange(ctx context.Context, req ResetRequest) (*Ticket, error) {
	if req.Type != IDTypeEmail {
		return nil, oops.Code(ErrCodeInvalidInput).With("id_type", req.Type).Wrapf(ErrInvalidInput, "passwords are reset by email only")
	}
	email := Clean(req.UserID)
	if m.isSuperuserEmail(email) {
		return nil, oops.Code(ErrCodeTokenRejected).Wrapf(ErrTokenRejected, "reset not allowed")
	}
	existing, err := m.UserExists(ctx, email, IDTypeEmail)
	if err != nil {
		return nil, err
	}
	if existing == "" || m.isSuperuserID(existing) {
		return nil, oops.Code(ErrCodeTokenRejected).Wrapf(ErrTokenRejected, "reset not allowed")
	}
	return m.openTicket(ctx, ticket.Reset, email, IDTypeEmail)
}

// ChangePassword confirms a reset ticket and replaces the password.
func (m *Manager) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	issuedAt, err := m.checkWindow(req.Time, ResetWindow)
	if err != nil {
		return err
	}
	if req.Type != IDTypeEmail {
		return oops.Code(ErrCodeInvalidInput).With("id_type", req.Type).Wrapf(ErrInvalidInput, "passwords are reset by email only")
	}
	email := Clean(req.UserID)
	if m.isSuperuserEmail(email) {
		return oops.Code(ErrCodeTokenRejected).Wrap(ErrTokenRejected)
	}

	uid, err := m.UserExists(ctx, email, IDTypeEmail)
	if err != nil {
		return err
	}
	if uid == "" {
		return oops.Code(ErrCodeDenied).Wrap(ErrDenied)
	}
	if m.isSuperuserID(uid) {
		return oops.Code(ErrCodeTokenRejected).Wrap(ErrTokenRejected)
	}

	rec, err := m.checkTicket(ctx, ticket.Reset, email, req.Token, req.Time, req.TicketID, issuedAt)
	if err != nil {
		return err
	}
	if len(req.NewPassword) < MinPasswordLength {
		return oops.Code(ErrCodePasswordPolicy).Wrap(ErrPasswordPolicy)
	}
	derived, err := m.derive(req.NewPassword)
	if err != nil {
		return err
	}
	if err := m.tickets.Consume(ctx, req.TicketID, ticket.Reset, rec.IssuedAt); err != nil {
		return err
	}

	err = m.store.WriteFields(ctx, Table, KeyName, uid, map[string]any{
		AttrPwd.String():          derived.Hash,
		AttrPwdSalt.String():      derived.Salt,
		AttrPwdIteration.String(): derived.Iterations,
	}, store.IfEqual(KeyName, uid))
	if errors.Is(err, store.ErrConditionFailed) {
		return reclassify(ErrCodeNotFound, err).With("userid", uid).Wrap(ErrNotFound)
	}
	if err != nil {
		return oops.With("operation", "change password").With("userid", uid).Wrap(err)
	}
	m.logger.InfoContext(ctx, "password changed", "userid", uid)
	return nil
}

// DeleteUser removes the account record. Index cleanup beyond what the store does itself
// is not attempted.
func (m *Manager) DeleteUser(ctx context.Context, userID string) error {
	userID = Clean(userID)
	if userID == "" {
		return oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "userid cannot be empty")
	}
	if err := m.store.DeleteItem(ctx, Table, KeyName, userID); err != nil {
		return oops.With("operation", "delete user").With("userid", userID).Wrap(err)
	}
	m.logger.InfoContext(ctx, "account deleted", "userid", userID)
	return nil
}

// IssueSessionKey writes a new session token for client and returns it. Tokens of other
// clients are untouched.
func (m *Manager) IssueSessionKey(ctx context.Context, userID, client string) (string, error) {
	if userID == "" {
		return "", oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "userid cannot be empty")
	}
	token, err := credential.RandomToken()
	if err != nil {
		return "", reclassify(ErrCodeDerivationFailed, err).Wrap(ErrDerivation)
	}
	path := ClientPath(normalizeClient(client, m.settings.DefaultClient))
	err = m.store.WriteFields(ctx, Table, KeyName, userID, map[string]any{
		path:         token,
		path + "_ts": m.now().UnixMilli(),
	}, store.IfEqual(KeyName, userID))
	if err != nil {
		return "", m.tokenWriteError(err, userID, "issue session key")
	}
	return token, nil
}

// Logout revokes the session token of client.
func (m *Manager) Logout(ctx context.Context, userID, client string) error {
	if userID == "" {
		return oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "userid cannot be empty")
	}
	path := ClientPath(normalizeClient(client, m.settings.DefaultClient))
	err := m.store.WriteFields(ctx, Table, KeyName, userID,
		map[string]any{path: LoggedOut},
		store.IfEqual(KeyName, userID))
	if err != nil {
		return m.tokenWriteError(err, userID, "logout")
	}
	return nil
}

// tokenWriteError reports writes guarded against creating accounts as NotFound when the
// guard failed.
func (m *Manager) tokenWriteError(err error, userID, op string) error {
	if errors.Is(err, store.ErrConditionFailed) {
		return reclassify(ErrCodeNotFound, err).With("userid", userID).Wrap(ErrNotFound)
	}
	return oops.With("operation", op).With("userid", userID).Wrap(err)
}

// UserExists resolves an identifier to a user id. It returns "" when no account matches.
func (m *Manager) UserExists(ctx context.Context, identifier string, idType IDType) (string, error) {
	identifier = Clean(identifier)
	if identifier == "" {
		return "", nil
	}
	item, err := m.lookup(ctx, identifier, idType, KeyName)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", oops.With("operation", "user exists").With("id_type", idType).Wrap(err)
	}
	return item.String(KeyName), nil
}

// Allow adds email to the registration allow-list.
func (m *Manager) Allow(ctx context.Context, email string) error {
	email = Clean(email)
	if email == "" {
		return oops.Code(ErrCodeInvalidInput).Wrapf(ErrInvalidInput, "email cannot be empty")
	}
	err := m.store.WriteFields(ctx, AllowlistTable, AllowlistKeyName, email, map[string]any{
		"added": m.now().UnixMilli(),
	})
	if err != nil {
		return oops.With("operation", "allow").Wrap(err)
	}
	return nil
}

// IsAllowlisted reports whether email may register while registration is restricted.
func (m *Manager) IsAllowlisted(ctx context.Context, email string) (bool, error) {
	_, err := m.store.GetItem(ctx, AllowlistTable, AllowlistKeyName, Clean(email), AllowlistKeyName)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.With("operation", "read allow-list").Wrap(err)
	}
	return true, nil
}

func (m *Manager) lookup(ctx context.Context, id string, idType IDType, fields ...string) (store.Item, error) {
	switch idType {
	case IDTypeUID:
		return m.store.GetItem(ctx, Table, KeyName, id, fields...)
	case IDTypeEmail, IDTypePhone:
		if id == noPhone {
			return nil, oops.Code(store.CodeNotFound).Wrap(store.ErrNotFound)
		}
		return m.store.QueryBySecondaryKey(ctx, Table, string(idType), id, fields...)
	default:
		return nil, oops.Code(ErrCodeInvalidInput).With("id_type", idType).Wrapf(ErrInvalidInput, "unsupported identifier type")
	}
}

func (m *Manager) openTicket(ctx context.Context, kind ticket.Kind, userID string, idType IDType) (*Ticket, error) {
	token, err := credential.RandomToken()
	if err != nil {
		return nil, reclassify(ErrCodeDerivationFailed, err).Wrap(ErrDerivation)
	}
	issuedAt := m.now().UnixMilli()
	stamp := strconv.FormatInt(issuedAt, 10)

	id, err := m.tickets.Open(ctx, kind, func(id string) ticket.Record {
		return ticket.Record{Token: ticketHash(userID, token, stamp, id), IssuedAt: issuedAt}
	})
	if err != nil {
		return nil, oops.With("operation", "open ticket").With("kind", kind.String()).Wrap(err)
	}
	return &Ticket{UserID: userID, Type: idType, TicketID: id, Token: token, Time: issuedAt}, nil
}

// checkWindow parses the ticket time sent back by the caller and requires it to lie
// within window of now.
func (m *Manager) checkWindow(stamp string, window time.Duration) (int64, error) {
	issuedAt, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return 0, reclassify(ErrCodeTokenRejected, err).Wrap(ErrTokenRejected)
	}
	if m.now().UnixMilli()-issuedAt > window.Milliseconds() {
		return 0, oops.Code(ErrCodeTokenRejected).With("window", window.String()).Wrap(ErrTokenRejected)
	}
	return issuedAt, nil
}

// checkTicket recomputes the expected token hash and compares it and the issue time
// with the stored record.
func (m *Manager) checkTicket(ctx context.Context, kind ticket.Kind, userID, token, stamp, ticketID string, issuedAt int64) (ticket.Record, error) {
	if ticketID == "" || token == "" {
		return ticket.Record{}, oops.Code(ErrCodeTokenRejected).Wrap(ErrTokenRejected)
	}
	rec, err := m.tickets.Get(ctx, ticketID, kind)
	if err != nil {
		if CodeOf(err) == Unreachable {
			return ticket.Record{}, err
		}
		return ticket.Record{}, reclassify(ErrCodeTokenRejected, err).With("ticket_id", ticketID).Wrap(ErrTokenRejected)
	}
	expected := ticketHash(userID, token, stamp, ticketID)
	if !credential.Equal(rec.Token, expected) || rec.IssuedAt != issuedAt {
		return ticket.Record{}, oops.Code(ErrCodeTokenRejected).With("ticket_id", ticketID).Wrap(ErrTokenRejected)
	}
	return rec, nil
}

func (m *Manager) derive(password string) (credential.Derived, error) {
	derived, err := m.hasher.New(password)
	if err != nil {
		errutil.LogError(m.logger, "password derivation failed", err)
		return credential.Derived{}, reclassify(ErrCodeDerivationFailed, err).Wrap(ErrDerivation)
	}
	return derived, nil
}

func (m *Manager) writeAccount(ctx context.Context, email, language string, roles []string, d credential.Derived) (string, error) {
	uid, err := m.ids.NextUserID(ctx)
	if err != nil {
		return "", err
	}
	err = m.store.WriteFields(ctx, Table, KeyName, uid, newRecord(email, language, roles, d.Hash, d.Salt, d.Iterations))
	if err != nil {
		return "", oops.With("operation", "create account").With("userid", uid).Wrap(err)
	}
	m.logger.InfoContext(ctx, "account created", "userid", uid)
	return uid, nil
}

func (m *Manager) isSuperuserEmail(email string) bool {
	return m.settings.SuperuserEmail != "" && email == Clean(m.settings.SuperuserEmail)
}

func (m *Manager) isSuperuserID(uid string) bool {
	return m.settings.SuperuserID != "" && Clean(uid) == Clean(m.settings.SuperuserID)
}

// ticketHash is the stored form of a ticket token.
func ticketHash(userID, token, stamp, ticketID string) string {
	return credential.ClientHash(userID + token + stamp + ticketID)
}
