// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package idgen_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/accountd/internal/idgen"
	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/pkg/errutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newGenerator(t *testing.T, opts ...idgen.Option) (*idgen.Generator, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.EnsureCounter(context.Background(), idgen.DefaultCounterDoc))
	return idgen.New(s, append([]idgen.Option{idgen.WithLogger(quiet)}, opts...)...), s
}

func TestGenerator_Rendering(t *testing.T) {
	ctx := context.Background()
	g, _ := newGenerator(t, idgen.WithUserPrefix("uid"))

	user, err := g.NextUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "uid998", user)

	ticket, err := g.NextTicketID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t999", ticket, "users and tickets share one counter")

	assert.Equal(t, int64(2), g.LastIssued())
	assert.Equal(t, "uid", g.UserPrefix())
}

func TestGenerator_ConcurrentIDsAreUniqueWithoutGaps(t *testing.T) {
	defer goleak.VerifyNone(t)

	const callers, perCaller = 12, 40
	g, _ := newGenerator(t)

	var (
		mu  sync.Mutex
		ids = make(map[string]struct{})
		wg  sync.WaitGroup
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perCaller {
				id, err := g.NextUserID(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, ids, callers*perCaller)
	for v := int64(1); v <= callers*perCaller; v++ {
		assert.Contains(t, ids, "uid"+strconv.FormatInt(idgen.Offset+v, 10))
	}
	assert.Equal(t, int64(callers*perCaller), g.LastIssued())
}

func TestGenerator_IndependentGeneratorsShareCounter(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.EnsureCounter(ctx, idgen.DefaultCounterDoc))

	a := idgen.New(s, idgen.WithLogger(quiet))
	b := idgen.New(s, idgen.WithLogger(quiet))

	first, err := a.NextTicketID(ctx)
	require.NoError(t, err)
	second, err := b.NextTicketID(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	// Each hint only knows what its own process saw.
	assert.Equal(t, int64(1), a.LastIssued())
	assert.Equal(t, int64(2), b.LastIssued())
}

func TestGenerator_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing counter document is fatal", func(t *testing.T) {
		g := idgen.New(store.NewMemoryStore(), idgen.WithLogger(quiet))
		id, err := g.NextUserID(ctx)
		require.Error(t, err)
		assert.Empty(t, id)
		errutil.AssertErrorCode(t, err, idgen.CodeFailed)
		assert.Equal(t, int64(0), g.LastIssued())
	})

	t.Run("unreachable store keeps store classification", func(t *testing.T) {
		g, s := newGenerator(t)
		require.NoError(t, s.Close())

		_, err := g.NextTicketID(ctx)
		errutil.AssertErrorCode(t, err, store.CodeUnavailable)
	})

	t.Run("custom counter doc must exist", func(t *testing.T) {
		g, _ := newGenerator(t, idgen.WithCounterDoc("other"))
		_, err := g.NextUserID(ctx)
		errutil.AssertErrorCode(t, err, idgen.CodeFailed)
		errutil.AssertErrorContext(t, err, "doc", "other")
	})
}

func TestGenerator_Metrics(t *testing.T) {
	m := observability.NewAccountMetrics(prometheus.NewRegistry())
	g, _ := newGenerator(t, idgen.WithMetrics(m))

	_, err := g.NextUserID(context.Background())
	require.NoError(t, err)
	_, err = g.NextTicketID(context.Background())
	require.NoError(t, err)
	_, err = g.NextTicketID(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.IDsIssued.WithLabelValues(idgen.KindUser)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.IDsIssued.WithLabelValues(idgen.KindTicket)), 0)
}

func TestGenerator_TicketIDsCarryPrefix(t *testing.T) {
	g, _ := newGenerator(t)
	id, err := g.NextTicketID(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, idgen.TicketPrefix))
}
