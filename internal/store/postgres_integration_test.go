// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/accountd/internal/store"
)

var _ = Describe("PostgresStore", Ordered, func() {
	var (
		ctx     context.Context
		connStr string
		pg      *store.PostgresStore
	)

	BeforeAll(func() {
		ctx = context.Background()
		connStr = suiteConnStr

		var err error
		pg, err = store.NewPostgresStore(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pg != nil {
			_ = pg.Close()
		}
	})

	Describe("migrations", func() {
		It("reports the latest version with nothing pending", func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer migrator.Close()

			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(uint(2)))
			Expect(dirty).To(BeFalse())

			pending, err := migrator.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})

	Describe("items", func() {
		It("round-trips nested fields", func() {
			Expect(pg.WriteFields(ctx, "users", "Guuid", "uid2001", map[string]any{
				"email":      "pg@example.com",
				"name.first": "Grace",
				"roles":      map[string]any{"all": []string{"user"}},
			})).To(Succeed())

			item, err := pg.GetItem(ctx, "users", "Guuid", "uid2001")
			Expect(err).NotTo(HaveOccurred())
			Expect(item.String("name.first")).To(Equal("Grace"))
			roles, ok := item.Lookup("roles.all")
			Expect(ok).To(BeTrue())
			Expect(roles).To(Equal([]any{"user"}))
		})

		It("finds items by email", func() {
			item, err := pg.QueryBySecondaryKey(ctx, "users", "email", "pg@example.com", "Guuid")
			Expect(err).NotTo(HaveOccurred())
			Expect(item.String("Guuid")).To(Equal("uid2001"))
		})

		It("applies increments atomically", func() {
			var wg sync.WaitGroup
			for range 10 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(pg.WriteFields(ctx, "users", "Guuid", "uid2001", map[string]any{
						"statistics.totalCalls": store.Increment(1),
					})).To(Succeed())
				}()
			}
			wg.Wait()

			item, err := pg.GetItem(ctx, "users", "Guuid", "uid2001", "statistics.totalCalls")
			Expect(err).NotTo(HaveOccurred())
			n, ok := item.Int64("statistics.totalCalls")
			Expect(ok).To(BeTrue())
			Expect(n).To(Equal(int64(10)))
		})

		It("lets exactly one conditional writer win", func() {
			Expect(pg.WriteFields(ctx, "tickets", "ticket_id", "t2001", map[string]any{
				"tokens_reg": "h", "tokens_reg_ts": int64(77),
			})).To(Succeed())

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for range 5 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := pg.WriteFields(ctx, "tickets", "ticket_id", "t2001",
						map[string]any{"tokens_reg_ts": int64(0)},
						store.IfEqual("tokens_reg_ts", int64(77)))
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					Expect(err).To(MatchError(store.ErrConditionFailed))
				}()
			}
			wg.Wait()
			Expect(wins).To(Equal(1))
		})

		It("deletes items", func() {
			Expect(pg.DeleteItem(ctx, "users", "Guuid", "uid2001")).To(Succeed())
			_, err := pg.GetItem(ctx, "users", "Guuid", "uid2001")
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("counters", func() {
		It("bumps the seeded guid counter", func() {
			Expect(pg.EnsureCounter(ctx, "guid")).To(Succeed())
			first, err := pg.AtomicVersionBump(ctx, "guid", map[string]any{"last": 1})
			Expect(err).NotTo(HaveOccurred())
			second, err := pg.AtomicVersionBump(ctx, "guid", map[string]any{"last": 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first + 1))
		})

		It("rejects unknown counters", func() {
			_, err := pg.AtomicVersionBump(ctx, "nope", map[string]any{})
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})
})
