package querylog

import (
	"context"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fleetdns/querylogd/model"
)

const insertBatchSize = 50

// InsertResult summary of one ingested batch
type InsertResult struct {
	// Inserted number of new rows, re-delivered entries are not counted
	Inserted int64
	// Skipped number of entries without a parsable timestamp
	Skipped int
	// MaxTimestamp newest event time of the batch, zero if no entry was parsable
	MaxTimestamp time.Time
}

// InsertBatch stores the entries of one node in a single transaction. Entries which are
// already stored are ignored. On any error the whole batch is rolled back.
func (s *Store) InsertBatch(ctx context.Context, node Node, entries []model.LogEntry) (InsertResult, error) {
	var res InsertResult

	rows := make([]*entryRow, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for i := range entries {
		e := &entries[i]

		ts, err := ParseTimestamp(e.Timestamp)
		if err != nil {
			res.Skipped++

			logger().WithField("node", node.ID).Debugf("skipping entry with invalid timestamp '%s'", e.Timestamp)

			continue
		}

		row, err := newEntryRow(node, e, ts)
		if err != nil {
			return InsertResult{}, err
		}

		if ts.After(res.MaxTimestamp) {
			res.MaxTimestamp = ts
		}

		if _, ok := seen[row.EntryHash]; ok {
			continue
		}

		seen[row.EntryHash] = struct{}{}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return res, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += insertBatchSize {
			end := min(start+insertBatchSize, len(rows))

			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rows[start:end])
			if result.Error != nil {
				return result.Error
			}

			res.Inserted += result.RowsAffected
		}

		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}

	return res, nil
}

// BackfillHostnames replaces missing client names (empty or equal to the IP) with the passed
// IP -> hostname mapping. At most maxIPs distinct IPs get updated per call, IPs without stale
// rows do not count against the limit. IPs beyond the limit are left for the next call.
func (s *Store) BackfillHostnames(ctx context.Context, names map[string]string, maxIPs int) (int64, error) {
	if len(names) == 0 || maxIPs <= 0 {
		return 0, nil
	}

	ips := make([]string, 0, len(names))
	for ip := range names {
		ips = append(ips, ip)
	}

	sort.Strings(ips)

	var (
		updated    int64
		updatedIPs int
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ip := range ips {
			if updatedIPs >= maxIPs {
				return nil
			}

			name := names[ip]

			result := tx.Model(&entryRow{}).
				Where("client_ip_lc = ?", strings.ToLower(ip)).
				Where("(client_name IS NULL OR client_name = '' OR client_name = client_ip)").
				Updates(map[string]interface{}{
					"client_name":    name,
					"client_name_lc": strings.ToLower(name),
				})
			if result.Error != nil {
				return result.Error
			}

			if result.RowsAffected > 0 {
				updated += result.RowsAffected
				updatedIPs++
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return updated, nil
}

// DeleteOlderThan removes all entries with an event time before cutoff
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	logger().Debugf("deleting log entries with ts < %s", cutoff)

	result := s.db.WithContext(ctx).Where("ts < ?", cutoff.UnixMilli()).Delete(&entryRow{})

	return result.RowsAffected, result.Error
}

// Count returns the number of stored entries, for all nodes if nodeID is empty
func (s *Store) Count(ctx context.Context, nodeID string) (int64, error) {
	var cnt int64

	q := s.db.WithContext(ctx).Model(&entryRow{})
	if nodeID != "" {
		q = q.Where("node_id = ?", nodeID)
	}

	err := q.Count(&cnt).Error

	return cnt, err
}
