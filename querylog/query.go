package querylog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fleetdns/querylogd/model"
)

// Status filters entries by blocking state
type Status string

const (
	StatusAny     Status = ""
	StatusBlocked Status = "blocked"
	StatusAllowed Status = "allowed"

	likeEscape = "!"
)

// dedupRanking keeps one row per domain: blocked before allowed, A before other types, newest first
const dedupRanking = "ROW_NUMBER() OVER (PARTITION BY qname_lc " +
	"ORDER BY blocked_rank DESC, a_record_rank DESC, ts DESC, node_id ASC, entry_hash ASC)"

// Filter selects stored entries. Zero values do not restrict the result.
type Filter struct {
	NodeID string
	Start  time.Time
	End    time.Time

	// Qname substring of the domain, case insensitive
	Qname string
	// Client substring of the client IP or hostname, case insensitive
	Client string

	Protocol     string
	ResponseType string
	Rcode        string
	Qtype        string
	Qclass       string
	Status       Status
}

// PageQuery selects one page of the filtered entries
type PageQuery struct {
	Filter

	Deduplicate bool
	Descending  bool
	Offset      int
	Limit       int
}

// PageResult one page with the totals of the complete filtered set
type PageResult struct {
	Entries []model.Entry
	// TotalMatching count of matching rows, or of distinct domains if deduplicated
	TotalMatching int64
	// DuplicatesRemoved rows collapsed by the deduplication
	DuplicatesRemoved int64
}

type predicate struct {
	clause string
	args   []interface{}
}

// predicates builds the WHERE conditions from a fixed field table, values are always bound
func (f *Filter) predicates() []predicate {
	var preds []predicate

	if f.NodeID != "" {
		preds = append(preds, predicate{"node_id = ?", []interface{}{f.NodeID}})
	}

	if !f.Start.IsZero() {
		preds = append(preds, predicate{"ts >= ?", []interface{}{f.Start.UnixMilli()}})
	}

	if !f.End.IsZero() {
		preds = append(preds, predicate{"ts <= ?", []interface{}{f.End.UnixMilli()}})
	}

	if q := likePattern(f.Qname); q != "" {
		preds = append(preds, predicate{"qname_lc LIKE ? ESCAPE '" + likeEscape + "'", []interface{}{q}})
	}

	if c := likePattern(f.Client); c != "" {
		preds = append(preds, predicate{
			"(client_ip_lc LIKE ? ESCAPE '" + likeEscape + "' OR client_name_lc LIKE ? ESCAPE '" + likeEscape + "')",
			[]interface{}{c, c},
		})
	}

	for _, exact := range []struct {
		column string
		value  string
	}{
		{"protocol", f.Protocol},
		{"response_type", f.ResponseType},
		{"rcode", f.Rcode},
		{"qtype", f.Qtype},
		{"qclass", f.Qclass},
	} {
		if v := strings.TrimSpace(exact.value); v != "" {
			preds = append(preds, predicate{exact.column + " = ?", []interface{}{v}})
		}
	}

	switch f.Status {
	case StatusBlocked:
		preds = append(preds, predicate{"blocked_rank = ?", []interface{}{1}})
	case StatusAllowed:
		preds = append(preds, predicate{"blocked_rank = ?", []interface{}{0}})
	case StatusAny:
	}

	return preds
}

func (f *Filter) where() (string, []interface{}) {
	preds := f.predicates()
	if len(preds) == 0 {
		return "1 = 1", nil
	}

	clauses := make([]string, 0, len(preds))
	args := make([]interface{}, 0, len(preds))

	for _, p := range preds {
		clauses = append(clauses, p.clause)
		args = append(args, p.args...)
	}

	return strings.Join(clauses, " AND "), args
}

func likePattern(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}

	value = strings.NewReplacer(
		likeEscape, likeEscape+likeEscape,
		"%", likeEscape+"%",
		"_", likeEscape+"_",
	).Replace(value)

	return "%" + value + "%"
}

func orderBy(descending bool) string {
	dir := "ASC"
	if descending {
		dir = "DESC"
	}

	return fmt.Sprintf("ts %s, node_id ASC, entry_hash ASC", dir)
}

// Query returns one page of the filtered entries. In deduplicate mode only the best ranked
// entry per lower-cased domain is kept. Stored rows with a corrupt record are skipped.
func (s *Store) Query(ctx context.Context, q PageQuery) (PageResult, error) {
	whereSQL, args := q.where()

	var totals struct {
		Total   int64
		Domains int64
	}

	err := s.db.WithContext(ctx).
		Raw("SELECT COUNT(*) AS total, COUNT(DISTINCT qname_lc) AS domains FROM "+tableName+" WHERE "+whereSQL, args...).
		Scan(&totals).Error
	if err != nil {
		return PageResult{}, fmt.Errorf("can't count entries: %w", err)
	}

	res := PageResult{TotalMatching: totals.Total}
	if q.Deduplicate {
		res.TotalMatching = totals.Domains
		res.DuplicatesRemoved = totals.Total - totals.Domains
	}

	// pages past the end are empty
	if q.Limit <= 0 || int64(q.Offset) >= res.TotalMatching {
		return res, nil
	}

	var sql string

	if q.Deduplicate {
		sql = "SELECT * FROM (SELECT t.*, " + dedupRanking + " AS dedup_rank FROM " + tableName + " t WHERE " + whereSQL +
			") ranked WHERE dedup_rank = 1 ORDER BY " + orderBy(q.Descending) + " LIMIT ? OFFSET ?"
	} else {
		sql = "SELECT * FROM " + tableName + " WHERE " + whereSQL +
			" ORDER BY " + orderBy(q.Descending) + " LIMIT ? OFFSET ?"
	}

	pageArgs := make([]interface{}, 0, len(args)+2)
	pageArgs = append(pageArgs, args...)
	pageArgs = append(pageArgs, q.Limit, max(q.Offset, 0))

	var rows []entryRow
	if err := s.db.WithContext(ctx).Raw(sql, pageArgs...).Scan(&rows).Error; err != nil {
		return PageResult{}, fmt.Errorf("can't query entries: %w", err)
	}

	res.Entries = make([]model.Entry, 0, len(rows))

	for i := range rows {
		e, err := rows[i].toEntry()
		if err != nil {
			logger().WithField("node", rows[i].NodeID).Debugf("skipping corrupt entry %s: %s", rows[i].EntryHash, err)

			continue
		}

		res.Entries = append(res.Entries, e)
	}

	return res, nil
}

// CountByNode returns the number of matching entries per node id
func (s *Store) CountByNode(ctx context.Context, f Filter) (map[string]int64, error) {
	whereSQL, args := f.where()

	var counts []struct {
		NodeID string
		Total  int64
	}

	err := s.db.WithContext(ctx).
		Raw("SELECT node_id, COUNT(*) AS total FROM "+tableName+" WHERE "+whereSQL+" GROUP BY node_id", args...).
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("can't count entries per node: %w", err)
	}

	res := make(map[string]int64, len(counts))
	for _, c := range counts {
		res[c.NodeID] = c.Total
	}

	return res, nil
}

// CountInWindow returns the number of entries of the node (all nodes if empty) in the time window
func (s *Store) CountInWindow(ctx context.Context, nodeID string, start, end time.Time) (int64, error) {
	f := Filter{NodeID: nodeID, Start: start, End: end}
	whereSQL, args := f.where()

	var cnt int64

	err := s.db.WithContext(ctx).Model(&entryRow{}).Where(whereSQL, args...).Count(&cnt).Error

	return cnt, err
}
