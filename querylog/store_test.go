package querylog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/helpertest"
	"github.com/fleetdns/querylogd/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func newMemoryStore() *Store {
	store, err := NewStore(config.Database{
		Type:             config.DatabaseTypeSqlite,
		Target:           memoryTarget,
		CreationAttempts: 1,
	})
	Expect(err).Should(Succeed())

	DeferCleanup(store.Close)

	return store
}

func entryAt(ts time.Time, qname string) model.LogEntry {
	return model.LogEntry{
		Timestamp:       ts.UTC().Format(time.RFC3339Nano),
		ClientIPAddress: "10.0.0.1",
		Protocol:        "Udp",
		ResponseType:    "Recursive",
		Rcode:           "NoError",
		Qname:           qname,
		Qtype:           "A",
		Qclass:          "IN",
	}
}

var _ = Describe("Store", func() {
	var (
		ctx  context.Context
		sut  *Store
		node Node
		now  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		node = Node{ID: "n1", BaseURL: "http://n1:5380"}
		now = time.Now().Truncate(time.Millisecond)
	})

	Describe("Creation", func() {
		When("database type is unknown", func() {
			It("should fail", func() {
				_, err := NewStore(config.Database{Type: "oracle", Target: "x"})
				Expect(err).Should(HaveOccurred())
				Expect(err.Error()).Should(ContainSubstring("incorrect database type provided"))
			})
		})

		When("mysql connection parameters are wrong", func() {
			It("should fail after the configured attempts", func() {
				_, err := NewStore(config.Database{
					Type:             config.DatabaseTypeMysql,
					Target:           "wrong param",
					CreationAttempts: 2,
				})
				Expect(err).Should(HaveOccurred())
				Expect(err.Error()).Should(HavePrefix("can't create database connection"))
			})
		})

		When("sqlite file database is used", func() {
			It("should be opened in WAL mode", func() {
				tmpDir := helpertest.NewTmpFolder("querylog")
				Expect(tmpDir.Error).Should(Succeed())

				store, err := NewStore(config.Database{
					Type:             config.DatabaseTypeSqlite,
					Target:           filepath.Join(tmpDir.Path, "querylog.db"),
					CreationAttempts: 1,
				})
				Expect(err).Should(Succeed())
				DeferCleanup(store.Close)

				var mode string
				Expect(store.db.Raw("PRAGMA journal_mode").Scan(&mode).Error).Should(Succeed())
				Expect(mode).Should(Equal("wal"))

				Expect(store.Ping(ctx)).Should(Succeed())
			})

			It("should create the schema idempotently", func() {
				tmpDir := helpertest.NewTmpFolder("querylog")
				Expect(tmpDir.Error).Should(Succeed())

				cfg := config.Database{
					Type:             config.DatabaseTypeSqlite,
					Target:           filepath.Join(tmpDir.Path, "querylog.db"),
					CreationAttempts: 1,
				}

				first, err := NewStore(cfg)
				Expect(err).Should(Succeed())

				_, err = first.InsertBatch(ctx, node, []model.LogEntry{entryAt(now, "a.com")})
				Expect(err).Should(Succeed())
				Expect(first.Close()).Should(Succeed())

				second, err := NewStore(cfg)
				Expect(err).Should(Succeed())
				DeferCleanup(second.Close)

				Expect(second.Count(ctx, "")).Should(BeEquivalentTo(1))
				Expect(second.db.Migrator().HasIndex(&entryRow{}, "idx_qle_node_ts")).Should(BeTrue())
				Expect(second.db.Migrator().HasIndex(&entryRow{}, "idx_qle_qtype_ts")).Should(BeTrue())
			})
		})
	})

	Describe("Insert", func() {
		BeforeEach(func() {
			sut = newMemoryStore()
		})

		It("should ignore re-delivered entries", func() {
			entries := []model.LogEntry{
				entryAt(now.Add(-2*time.Second), "a.com"),
				entryAt(now.Add(-time.Second), "b.com"),
			}

			res, err := sut.InsertBatch(ctx, node, entries)
			Expect(err).Should(Succeed())
			Expect(res.Inserted).Should(BeEquivalentTo(2))
			Expect(res.MaxTimestamp.UnixMilli()).Should(Equal(now.Add(-time.Second).UnixMilli()))

			overlapping := append(entries, entryAt(now, "c.com"))

			res, err = sut.InsertBatch(ctx, node, overlapping)
			Expect(err).Should(Succeed())
			Expect(res.Inserted).Should(BeEquivalentTo(1))

			Expect(sut.Count(ctx, node.ID)).Should(BeEquivalentTo(3))
		})

		It("should collapse identical entries inside one batch", func() {
			e := entryAt(now, "a.com")

			res, err := sut.InsertBatch(ctx, node, []model.LogEntry{e, e, e})
			Expect(err).Should(Succeed())
			Expect(res.Inserted).Should(BeEquivalentTo(1))
		})

		It("should store the same event of different nodes separately", func() {
			e := entryAt(now, "a.com")

			_, err := sut.InsertBatch(ctx, node, []model.LogEntry{e})
			Expect(err).Should(Succeed())
			_, err = sut.InsertBatch(ctx, Node{ID: "n2"}, []model.LogEntry{e})
			Expect(err).Should(Succeed())

			Expect(sut.Count(ctx, "")).Should(BeEquivalentTo(2))
			Expect(sut.Count(ctx, "n2")).Should(BeEquivalentTo(1))
		})

		It("should skip entries with invalid timestamp", func() {
			broken := entryAt(now, "broken.com")
			broken.Timestamp = "yesterday"

			res, err := sut.InsertBatch(ctx, node, []model.LogEntry{broken, entryAt(now, "a.com")})
			Expect(err).Should(Succeed())
			Expect(res.Inserted).Should(BeEquivalentTo(1))
			Expect(res.Skipped).Should(Equal(1))
		})

		It("should insert more entries than one statement batch", func() {
			entries := make([]model.LogEntry, 0, 120)
			for i := range 120 {
				entries = append(entries, entryAt(now.Add(-time.Duration(i)*time.Second), "a.com"))
			}

			res, err := sut.InsertBatch(ctx, node, entries)
			Expect(err).Should(Succeed())
			Expect(res.Inserted).Should(BeEquivalentTo(120))
		})

		It("should keep the received record", func() {
			e := entryAt(now, "a.com")
			e.Raw = []byte(`{"timestamp":"` + e.Timestamp + `","qname":"a.com","qtype":"A","answer":"1.2.3.4",` +
				`"customField":"kept"}`)

			_, err := sut.InsertBatch(ctx, node, []model.LogEntry{e})
			Expect(err).Should(Succeed())

			res, err := sut.Query(ctx, PageQuery{Limit: 10})
			Expect(err).Should(Succeed())
			Expect(res.Entries).Should(HaveLen(1))
			Expect(res.Entries[0].Answer).Should(Equal("1.2.3.4"))
			Expect(res.Entries[0].NodeID).Should(Equal("n1"))
			Expect(res.Entries[0].BaseURL).Should(Equal("http://n1:5380"))

			b, err := json.Marshal(res.Entries[0])
			Expect(err).Should(Succeed())
			Expect(string(b)).Should(ContainSubstring(`"customField":"kept"`))
			Expect(string(b)).Should(ContainSubstring(`"nodeId":"n1"`))
		})

		When("context is canceled", func() {
			It("should fail and store nothing", func() {
				canceled, cancel := context.WithCancel(ctx)
				cancel()

				_, err := sut.InsertBatch(canceled, node, []model.LogEntry{entryAt(now, "a.com")})
				Expect(err).Should(HaveOccurred())

				Expect(sut.Count(ctx, "")).Should(BeEquivalentTo(0))
			})
		})
	})

	Describe("Retention", func() {
		BeforeEach(func() {
			sut = newMemoryStore()
		})

		It("should delete only entries older than the cutoff", func() {
			_, err := sut.InsertBatch(ctx, node, []model.LogEntry{
				entryAt(now.Add(-2*time.Hour), "old.com"),
				entryAt(now, "new.com"),
			})
			Expect(err).Should(Succeed())

			deleted, err := sut.DeleteOlderThan(ctx, now.Add(-time.Hour))
			Expect(err).Should(Succeed())
			Expect(deleted).Should(BeEquivalentTo(1))

			Expect(sut.CountInWindow(ctx, node.ID, now.Add(-3*time.Hour), now.Add(-time.Hour))).Should(BeEquivalentTo(0))
			Expect(sut.Count(ctx, node.ID)).Should(BeEquivalentTo(1))
		})
	})

	Describe("Hostname backfill", func() {
		BeforeEach(func() {
			sut = newMemoryStore()
		})

		It("should replace missing or IP echoing names only", func() {
			noName := entryAt(now, "a.com")
			echo := entryAt(now.Add(-time.Second), "b.com")
			echo.ClientName = "10.0.0.1"
			named := entryAt(now.Add(-2*time.Second), "c.com")
			named.ClientName = "laptop"

			_, err := sut.InsertBatch(ctx, node, []model.LogEntry{noName, echo, named})
			Expect(err).Should(Succeed())

			updated, err := sut.BackfillHostnames(ctx, map[string]string{"10.0.0.1": "Desktop.lan"}, 10)
			Expect(err).Should(Succeed())
			Expect(updated).Should(BeEquivalentTo(2))

			res, err := sut.Query(ctx, PageQuery{Filter: Filter{Client: "desktop"}, Limit: 10})
			Expect(err).Should(Succeed())
			Expect(res.TotalMatching).Should(BeEquivalentTo(2))

			for _, e := range res.Entries {
				Expect(e.ClientName).Should(Equal("Desktop.lan"))
			}
		})

		It("should update at most the configured number of IPs", func() {
			var entries []model.LogEntry

			for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
				e := entryAt(now.Add(-time.Duration(i)*time.Second), "a.com")
				e.ClientIPAddress = ip
				entries = append(entries, e)
			}

			_, err := sut.InsertBatch(ctx, node, entries)
			Expect(err).Should(Succeed())

			updated, err := sut.BackfillHostnames(ctx, map[string]string{
				"10.0.0.3": "c", "10.0.0.1": "a", "10.0.0.2": "b",
			}, 2)
			Expect(err).Should(Succeed())
			Expect(updated).Should(BeEquivalentTo(2))

			res, err := sut.Query(ctx, PageQuery{Filter: Filter{Client: "10.0.0.3"}, Limit: 10})
			Expect(err).Should(Succeed())
			Expect(res.Entries).Should(HaveLen(1))
			Expect(res.Entries[0].ClientName).Should(BeEmpty())

			By("updating the remaining IP on the next call", func() {
				updated, err := sut.BackfillHostnames(ctx, map[string]string{
					"10.0.0.3": "c", "10.0.0.1": "a", "10.0.0.2": "b",
				}, 2)
				Expect(err).Should(Succeed())
				Expect(updated).Should(BeEquivalentTo(1))

				res, err := sut.Query(ctx, PageQuery{Filter: Filter{Client: "10.0.0.3"}, Limit: 10})
				Expect(err).Should(Succeed())
				Expect(res.Entries[0].ClientName).Should(Equal("c"))
			})
		})

		It("should not count IPs without missing names against the limit", func() {
			var entries []model.LogEntry

			for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.9"} {
				e := entryAt(now.Add(-time.Duration(i)*time.Second), "a.com")
				e.ClientIPAddress = ip
				entries = append(entries, e)
			}

			entries[0].ClientName = "one.lan"
			entries[1].ClientName = "two.lan"

			_, err := sut.InsertBatch(ctx, node, entries)
			Expect(err).Should(Succeed())

			updated, err := sut.BackfillHostnames(ctx, map[string]string{
				"10.0.0.1": "one.lan", "10.0.0.2": "two.lan", "10.0.0.9": "nine.lan",
			}, 2)
			Expect(err).Should(Succeed())
			Expect(updated).Should(BeEquivalentTo(1))

			res, err := sut.Query(ctx, PageQuery{Filter: Filter{Client: "10.0.0.9"}, Limit: 10})
			Expect(err).Should(Succeed())
			Expect(res.Entries).Should(HaveLen(1))
			Expect(res.Entries[0].ClientName).Should(Equal("nine.lan"))
		})
	})
})
