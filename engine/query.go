package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetdns/querylogd/cache/expirationcache"
	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/model"
	"github.com/fleetdns/querylogd/querylog"
)

// Status operational state of the engine
type Status struct {
	Enabled        bool                  `json:"enabled"`
	Ready          bool                  `json:"ready"`
	RetentionHours int                   `json:"retentionHours"`
	PollIntervalMs int64                 `json:"pollIntervalMs"`
	CacheStats     expirationcache.Stats `json:"cacheStats"`
}

// Page one page of query log entries
type Page struct {
	FetchedAt            time.Time     `json:"fetchedAt"`
	PageNumber           int           `json:"pageNumber"`
	EntriesPerPage       int           `json:"entriesPerPage"`
	TotalPages           int           `json:"totalPages"`
	TotalMatchingEntries int64         `json:"totalMatchingEntries"`
	TotalEntries         int64         `json:"totalEntries"`
	DuplicatesRemoved    *int64        `json:"duplicatesRemoved,omitempty"`
	Entries              []model.Entry `json:"entries"`
	// Nodes is only set for the combined view
	Nodes []NodeSummary `json:"nodes,omitempty"`
}

// NodeSummary contribution of one node to a combined page
type NodeSummary struct {
	NodeID  string `json:"nodeId"`
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	// TotalEntries all entries of the node in the window, like Page.TotalEntries
	TotalEntries int64 `json:"totalEntries"`
	// TotalPages pages of TotalEntries with the requested page size
	TotalPages int `json:"totalPages"`
	// TotalMatchingEntries entries of the node passing the filter
	TotalMatchingEntries int64      `json:"totalMatchingEntries"`
	LastPolledAt         *time.Time `json:"lastPolledAt,omitempty"`
}

// Status returns the configuration summary and the response cache counters
func (e *Engine) Status() Status {
	s := Status{
		Enabled:        e.cfg.Enabled,
		Ready:          e.Ready(),
		RetentionHours: e.cfg.RetentionHours,
		PollIntervalMs: e.cfg.PollInterval.Milliseconds(),
	}

	if e.cache != nil {
		s.CacheStats = e.cache.Stats()
	}

	return s
}

// Query returns a page of one node or, for config.AllNodes, the combined page of all nodes
func (e *Engine) Query(ctx context.Context, nodeID string, f Filter) (*Page, error) {
	if nodeID == config.AllNodes {
		return e.QueryAll(ctx, f)
	}

	return e.QueryNode(ctx, nodeID, f)
}

// QueryNode returns a page of the entries of one node
func (e *Engine) QueryNode(ctx context.Context, nodeID string, f Filter) (*Page, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}

	if _, ok := e.nodes.ByID(nodeID); !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownNode, nodeID)
	}

	return e.cached(ctx, kindNode, nodeID, f, func(f *Filter) (*Page, error) {
		return e.queryPage(ctx, nodeID, f)
	})
}

// QueryAll returns a page over the entries of all nodes, together with a summary per node
func (e *Engine) QueryAll(ctx context.Context, f Filter) (*Page, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}

	return e.cached(ctx, kindAll, "", f, func(f *Filter) (*Page, error) {
		page, err := e.queryPage(ctx, "", f)
		if err != nil {
			return nil, err
		}

		page.Nodes, err = e.nodeSummaries(ctx, f, page.FetchedAt)
		if err != nil {
			return nil, err
		}

		return page, nil
	})
}

func (e *Engine) cached(ctx context.Context, kind, nodeID string, f Filter,
	compute func(f *Filter) (*Page, error),
) (*Page, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	f = f.normalized()

	if e.cache == nil || f.DisableCache {
		return compute(&f)
	}

	key, err := cacheKey(kind, nodeID, &f)
	if err != nil {
		return nil, fmt.Errorf("can't build cache key: %w", err)
	}

	if val, _ := e.cache.Get(key); val != nil {
		res := *val

		return &res, nil
	}

	page, err := compute(&f)
	if err != nil {
		return nil, err
	}

	// results of canceled requests may be incomplete
	if ctx.Err() == nil {
		stored := *page
		e.cache.Put(key, &stored, e.cfg.CacheTTL.ToDuration())
	}

	return page, nil
}

func (e *Engine) queryPage(ctx context.Context, nodeID string, f *Filter) (*Page, error) {
	now := e.now()
	start, end := f.window(now, e.cfg.Retention())

	res, err := e.store.Query(ctx, f.pageQuery(nodeID, start, end))
	if err != nil {
		return nil, err
	}

	total, err := e.store.CountInWindow(ctx, nodeID, start, end)
	if err != nil {
		return nil, fmt.Errorf("can't count entries: %w", err)
	}

	page := &Page{
		FetchedAt:            now,
		PageNumber:           f.PageNumber,
		EntriesPerPage:       f.EntriesPerPage,
		TotalPages:           totalPages(res.TotalMatching, f.EntriesPerPage),
		TotalMatchingEntries: res.TotalMatching,
		TotalEntries:         total,
		Entries:              res.Entries,
	}

	if page.Entries == nil {
		page.Entries = []model.Entry{}
	}

	if f.DeduplicateDomains && res.DuplicatesRemoved > 0 {
		removed := res.DuplicatesRemoved
		page.DuplicatesRemoved = &removed
	}

	return page, nil
}

// nodeSummaries lists every configured node with its entries in the window,
// nodes without entries are listed with zero counts
func (e *Engine) nodeSummaries(ctx context.Context, f *Filter, now time.Time) ([]NodeSummary, error) {
	start, end := f.window(now, e.cfg.Retention())

	totals, err := e.store.CountByNode(ctx, querylog.Filter{Start: start, End: end})
	if err != nil {
		return nil, err
	}

	matching, err := e.store.CountByNode(ctx, f.storeFilter("", start, end))
	if err != nil {
		return nil, err
	}

	res := make([]NodeSummary, 0, len(e.nodes))

	for _, n := range e.nodes {
		res = append(res, NodeSummary{
			NodeID:               n.ID,
			Name:                 n.DisplayName(),
			BaseURL:              n.BaseURL,
			TotalEntries:         totals[n.ID],
			TotalPages:           totalPages(totals[n.ID], f.EntriesPerPage),
			TotalMatchingEntries: matching[n.ID],
			LastPolledAt:         e.lastPolledAt(n.ID),
		})
	}

	return res, nil
}
