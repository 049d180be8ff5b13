// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/internal/account"
	"github.com/holomush/accountd/internal/credential"
	"github.com/holomush/accountd/internal/idgen"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/internal/ticket"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// testIterations keeps derivations fast.
const testIterations = 64

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *store.MemoryStore
	tickets *ticket.Store
	manager *account.Manager
	clock   *fakeClock
}

var testSettings = account.Settings{
	UserIDPrefix:   "uid",
	SuperuserID:    "uid998",
	SuperuserEmail: "root@example.com",
	DefaultClient:  "web_app_v1.0",
}

func newFixture(t *testing.T, opts ...account.ManagerOption) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.EnsureCounter(context.Background(), idgen.DefaultCounterDoc))
	ids := idgen.New(s, idgen.WithLogger(quiet))
	tickets := ticket.New(s, ids, ticket.WithLogger(quiet))
	clock := newClock()

	policy, err := account.NewTrustPolicy(account.ClientRule{Pattern: "web_app*"})
	require.NoError(t, err)

	base := []account.ManagerOption{
		account.WithSettings(testSettings),
		account.WithTrustPolicy(policy),
		account.WithLogger(quiet),
		account.WithClock(clock.Now),
	}
	m := account.NewManager(s, ids, tickets, credential.NewPBKDF2Hasher(testIterations), append(base, opts...)...)
	return &fixture{store: s, tickets: tickets, manager: m, clock: clock}
}

// register runs the registration protocol to completion and returns the new user id.
func (f *fixture) register(t *testing.T, email, password string) string {
	t.Helper()
	ctx := context.Background()
	tk, err := f.manager.RegisterByEmail(ctx, email)
	require.NoError(t, err)
	uid, err := f.manager.CreateUser(ctx, confirmation(tk, password))
	require.NoError(t, err)
	return uid
}

func confirmation(tk *account.Ticket, password string) account.CreateUserRequest {
	return account.CreateUserRequest{
		UserID:   tk.UserID,
		Type:     tk.Type,
		Token:    tk.Token,
		Time:     strconv.FormatInt(tk.Time, 10),
		TicketID: tk.TicketID,
		Password: password,
		Language: "de",
	}
}

func passwordLogin(user, password string) account.AuthRequest {
	return account.AuthRequest{UserID: user, Credential: account.PasswordHash(password)}
}
