package querylog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fleetdns/querylogd/model"
)

const tableName = "query_log_entries"

// entryRow is the persisted form of one query log entry.
// The rank columns only order candidates inside a deduplication group.
type entryRow struct {
	NodeID       string `gorm:"column:node_id;primaryKey;size:64;index:idx_qle_node_ts,priority:1"`
	EntryHash    string `gorm:"column:entry_hash;primaryKey;size:64"`
	BaseURL      string `gorm:"column:base_url;size:255"`
	TimestampMs  int64  `gorm:"column:ts;not null;index:idx_qle_ts;index:idx_qle_node_ts,priority:2;index:idx_qle_qname_ts,priority:2;index:idx_qle_client_ts,priority:2;index:idx_qle_rtype_ts,priority:2;index:idx_qle_qtype_ts,priority:2"` //nolint:lll
	Timestamp    string `gorm:"column:timestamp;size:64"`
	Qname        string `gorm:"column:qname;size:255"`
	QnameLc      string `gorm:"column:qname_lc;size:255;index:idx_qle_qname_ts,priority:1"`
	ClientIP     string `gorm:"column:client_ip;size:64"`
	ClientIPLc   string `gorm:"column:client_ip_lc;size:64;index:idx_qle_client_ts,priority:1"`
	ClientName   string `gorm:"column:client_name;size:255"`
	ClientNameLc string `gorm:"column:client_name_lc;size:255"`
	Protocol     string `gorm:"column:protocol;size:16"`
	ResponseType string `gorm:"column:response_type;size:32;index:idx_qle_rtype_ts,priority:1"`
	Rcode        string `gorm:"column:rcode;size:32"`
	Qtype        string `gorm:"column:qtype;size:16;index:idx_qle_qtype_ts,priority:1"`
	Qclass       string `gorm:"column:qclass;size:16"`
	BlockedRank  int    `gorm:"column:blocked_rank;not null;default:0"`
	ARecordRank  int    `gorm:"column:a_record_rank;not null;default:0"`
	Raw          []byte `gorm:"column:raw"`
}

func (entryRow) TableName() string {
	return tableName
}

// Node identifies the origin of ingested entries
type Node struct {
	ID      string
	BaseURL string
}

// nolint:gochecknoglobals
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

var errInvalidTimestamp = errors.New("invalid timestamp")

// ParseTimestamp parses the textual event time of an upstream entry
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errInvalidTimestamp
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errInvalidTimestamp
}

// EntryHash returns the content hash identifying an event of a node
func EntryHash(nodeID string, e *model.LogEntry) string {
	h := sha256.New()

	for _, part := range []string{
		nodeID, e.Timestamp, e.Qname, e.Qtype, e.Qclass, e.Protocol, e.ClientIPAddress, e.ResponseType, e.Rcode,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}

	return hex.EncodeToString(h.Sum(nil))
}

func newEntryRow(node Node, e *model.LogEntry, ts time.Time) (*entryRow, error) {
	raw := []byte(e.Raw)
	if len(raw) == 0 {
		var err error

		if raw, err = json.Marshal(e); err != nil {
			return nil, err
		}
	}

	return &entryRow{
		NodeID:       node.ID,
		EntryHash:    EntryHash(node.ID, e),
		BaseURL:      node.BaseURL,
		TimestampMs:  ts.UnixMilli(),
		Timestamp:    e.Timestamp,
		Qname:        e.Qname,
		QnameLc:      strings.ToLower(e.Qname),
		ClientIP:     e.ClientIPAddress,
		ClientIPLc:   strings.ToLower(e.ClientIPAddress),
		ClientName:   e.ClientName,
		ClientNameLc: strings.ToLower(e.ClientName),
		Protocol:     e.Protocol,
		ResponseType: e.ResponseType,
		Rcode:        e.Rcode,
		Qtype:        e.Qtype,
		Qclass:       e.Qclass,
		BlockedRank:  boolToRank(e.IsBlocked()),
		ARecordRank:  boolToRank(e.IsARecord()),
		Raw:          raw,
	}, nil
}

func boolToRank(b bool) int {
	if b {
		return 1
	}

	return 0
}

// toEntry decodes the stored record. The client name column wins over the
// serialized one because it may have been corrected by the hostname backfill.
// The record is kept as Raw so fields unknown to LogEntry are served as well.
func (r *entryRow) toEntry() (model.Entry, error) {
	var le model.LogEntry

	if err := json.Unmarshal(r.Raw, &le); err != nil {
		return model.Entry{}, err
	}

	le.ClientName = r.ClientName
	le.Raw = r.Raw

	return model.Entry{
		LogEntry:    le,
		NodeID:      r.NodeID,
		BaseURL:     r.BaseURL,
		TimestampMs: r.TimestampMs,
	}, nil
}
