package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fleetdns/querylogd/cache/expirationcache"
	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/evt"
	"github.com/fleetdns/querylogd/log"
	"github.com/fleetdns/querylogd/model"
	"github.com/fleetdns/querylogd/querylog"
)

var (
	// ErrNotReady is returned if the engine is disabled or has no store
	ErrNotReady = errors.New("query log cache is not ready")
	// ErrUnknownNode is returned for node ids without configuration
	ErrUnknownNode = errors.New("unknown node")
	// ErrPollInProgress is returned if a poll cycle is started while another one runs
	ErrPollInProgress = errors.New("poll cycle already in progress")
	// ErrInvalidFilter is returned for filters with unsupported values
	ErrInvalidFilter = errors.New("invalid filter")
)

// Fetcher reads the query log of a node
type Fetcher interface {
	// FetchEntries returns the entries of the node with event time in [start, end], newest first,
	// at most maxTotal entries
	FetchEntries(ctx context.Context, nodeID string, start, end time.Time, maxTotal, pageSize int) ([]model.LogEntry, error)
}

// HostnameEnricher sets the best known host name of the clients
type HostnameEnricher interface {
	EnrichWithHostnames(ctx context.Context, entries []model.LogEntry) []model.LogEntry
}

// Engine ingests the query logs of all nodes into the store and answers queries on top of it
type Engine struct {
	cfg      config.QueryLogCache
	nodes    config.Nodes
	store    *querylog.Store
	fetcher  Fetcher
	enricher HostnameEnricher

	// nil if the response cache is disabled
	cache expirationcache.ExpiringCache[Page]

	mu       sync.RWMutex
	cursors  map[string]time.Time
	lastPoll map[string]time.Time

	polling atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// Option customizes the engine
type Option func(e *Engine)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates the engine. A nil store leaves the engine not ready: queries fail and nothing is ingested.
func New(cfg config.QueryLogCache, nodes config.Nodes, store *querylog.Store,
	fetcher Fetcher, enricher HostnameEnricher, opts ...Option,
) *Engine {
	e := &Engine{
		cfg:      cfg,
		nodes:    nodes,
		store:    store,
		fetcher:  fetcher,
		enricher: enricher,
		cursors:  make(map[string]time.Time, len(nodes)),
		lastPoll: make(map[string]time.Time, len(nodes)),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if cfg.CacheTTL.IsAboveZero() {
		e.cache = expirationcache.NewCache[Page](expirationcache.Options{
			MaxSize: uint(cfg.CacheMaxEntries),
			OnCacheHitFn: func(key string) {
				evt.Bus().Publish(evt.QueryLogCacheHit, kindOfKey(key))
			},
			OnCacheMissFn: func(key string) {
				evt.Bus().Publish(evt.QueryLogCacheMiss, kindOfKey(key))
			},
			OnAfterPutFn: func(newSize int) {
				evt.Bus().Publish(evt.QueryLogCacheChanged, newSize)
			},
		})
	}

	return e
}

func logger() *logrus.Entry {
	return log.PrefixedLog("querylog_engine")
}

// Ready returns true if the engine is enabled and has a store
func (e *Engine) Ready() bool {
	return e.cfg.Enabled && e.store != nil
}

// Start runs an initial poll cycle and starts the poll and cleanup timers.
// The timers stop when ctx is done or Close is called.
func (e *Engine) Start(ctx context.Context) {
	if !e.Ready() {
		logger().Warn("query log ingestion not started: engine is not ready")

		return
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)

	go func() {
		defer e.wg.Done()

		e.periodically(ctx, e.cfg.PollInterval.ToDuration(), true, e.runPoll)
	}()

	go func() {
		defer e.wg.Done()

		e.periodically(ctx, e.cfg.CleanupInterval.ToDuration(), false, e.runSweep)
	}()
}

func (e *Engine) periodically(ctx context.Context, interval time.Duration, immediately bool,
	fn func(ctx context.Context),
) {
	if immediately {
		fn(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) runPoll(ctx context.Context) {
	err := e.PollOnce(ctx)

	switch {
	case err == nil:
	case errors.Is(err, ErrPollInProgress):
		logger().Debug("skipping poll: ", err)
	default:
		logger().Error("poll cycle finished with errors: ", err)
	}
}

func (e *Engine) runSweep(ctx context.Context) {
	if _, err := e.Sweep(ctx); err != nil {
		logger().Error("retention cleanup failed: ", err)
	}
}

// Close stops the timers and closes the store
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}

	e.wg.Wait()

	if e.store != nil {
		return e.store.Close()
	}

	return nil
}

// PollOnce runs one ingestion cycle over all nodes, followed by the hostname backfill and
// the retention cleanup. Failed nodes keep their cursor and do not affect the other nodes,
// their errors are returned combined.
func (e *Engine) PollOnce(ctx context.Context) error {
	if !e.Ready() {
		return ErrNotReady
	}

	if !e.polling.CompareAndSwap(false, true) {
		return ErrPollInProgress
	}
	defer e.polling.Store(false)

	cycleLogger := logger().WithField("cycle", uuid.NewString())
	now := e.now()

	var (
		mu    sync.Mutex
		errs  *multierror.Error
		names = make(map[string]string)
		group errgroup.Group
	)

	group.SetLimit(max(e.cfg.Concurrency, 1))

	for _, node := range e.nodes {
		group.Go(func() error {
			nodeNames, err := e.pollNode(ctx, cycleLogger.WithField("node", node.ID), node, now)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = multierror.Append(errs, err)

				evt.Bus().Publish(evt.QueryLogIngestionFailed, node.ID)

				return nil
			}

			for ip, name := range nodeNames {
				names[ip] = name
			}

			return nil
		})
	}

	_ = group.Wait()

	if updated, err := e.store.BackfillHostnames(ctx, names, e.cfg.MaxBackfillIPs); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("hostname backfill: %w", err))
	} else if updated > 0 {
		cycleLogger.Debugf("backfilled client name of %d entries", updated)

		evt.Bus().Publish(evt.QueryLogHostnamesBackfilled, updated)
	}

	if _, err := e.Sweep(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("retention cleanup: %w", err))
	}

	return errs.ErrorOrNil()
}

// pollNode ingests the entries of one node since its cursor minus the overlap window.
// It returns the usable client names seen in the batch.
func (e *Engine) pollNode(ctx context.Context, logger *logrus.Entry, node config.Node,
	now time.Time,
) (map[string]string, error) {
	start := now.Add(-e.cfg.Retention())

	if cursor, ok := e.cursor(node.ID); ok {
		if c := cursor.Add(-e.cfg.Overlap.ToDuration()); c.After(start) {
			start = c
		}
	}

	entries, err := e.fetcher.FetchEntries(ctx, node.ID, start, now, e.cfg.MaxEntriesPerPoll, e.cfg.FetchPageSize)
	if err != nil {
		logger.Warn("can't fetch query log: ", err)

		return nil, fmt.Errorf("node '%s': %w", node.ID, err)
	}

	if len(entries) == 0 {
		e.markPolled(node.ID, now, time.Time{})

		return nil, nil
	}

	if e.enricher != nil {
		entries = e.enricher.EnrichWithHostnames(ctx, entries)
	}

	res, err := e.store.InsertBatch(ctx, querylog.Node{ID: node.ID, BaseURL: node.BaseURL}, entries)
	if err != nil {
		logger.Warn("can't store query log batch: ", err)

		return nil, fmt.Errorf("node '%s': can't store entries: %w", node.ID, err)
	}

	e.markPolled(node.ID, now, res.MaxTimestamp)

	logger.WithField("window_start", start.Format(time.RFC3339)).
		Debugf("fetched %d entries, stored %d new, skipped %d", len(entries), res.Inserted, res.Skipped)

	evt.Bus().Publish(evt.QueryLogIngested, node.ID, int(res.Inserted))

	names := make(map[string]string)

	for i := range entries {
		if entries[i].HasUsableClientName() {
			names[entries[i].ClientIPAddress] = entries[i].ClientName
		}
	}

	return names, nil
}

func (e *Engine) cursor(nodeID string) (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.cursors[nodeID]

	return c, ok
}

// markPolled records a successful poll and moves the cursor forward, never backwards
func (e *Engine) markPolled(nodeID string, polledAt, maxTimestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPoll[nodeID] = polledAt

	if maxTimestamp.IsZero() {
		return
	}

	if c, ok := e.cursors[nodeID]; !ok || maxTimestamp.After(c) {
		e.cursors[nodeID] = maxTimestamp
	}
}

func (e *Engine) lastPolledAt(nodeID string) *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if t, ok := e.lastPoll[nodeID]; ok {
		return &t
	}

	return nil
}

// Sweep deletes all entries older than the retention horizon
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	if !e.Ready() {
		return 0, ErrNotReady
	}

	cutoff := e.now().Add(-e.cfg.Retention())

	deleted, err := e.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		logger().Debugf("deleted %d entries older than %s", deleted, cutoff.Format(time.RFC3339))

		evt.Bus().Publish(evt.QueryLogRetentionDeleted, deleted)
	}

	return deleted, nil
}
