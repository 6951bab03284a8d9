package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fleetdns/querylogd/querylog"
)

const (
	defaultEntriesPerPage = 100
	maxEntriesPerPage     = 1000

	kindNode = "node"
	kindAll  = "all"

	noNode = "-"
)

// Filter selects a page of the query log. All fields are optional.
type Filter struct {
	Start              *time.Time      `json:"start,omitempty"`
	End                *time.Time      `json:"end,omitempty"`
	Qname              string          `json:"qname,omitempty"`
	ClientIPAddress    string          `json:"clientIpAddress,omitempty"`
	Protocol           string          `json:"protocol,omitempty"`
	ResponseType       string          `json:"responseType,omitempty"`
	Rcode              string          `json:"rcode,omitempty"`
	Qtype              string          `json:"qtype,omitempty"`
	Qclass             string          `json:"qclass,omitempty"`
	StatusFilter       querylog.Status `json:"statusFilter,omitempty"`
	DeduplicateDomains bool            `json:"deduplicateDomains,omitempty"`
	PageNumber         int             `json:"pageNumber,omitempty"`
	EntriesPerPage     int             `json:"entriesPerPage,omitempty"`
	DescendingOrder    *bool           `json:"descendingOrder,omitempty"`
	// DisableCache bypasses the response cache for reading and writing
	DisableCache bool `json:"disableCache,omitempty"`
}

// Validate rejects unknown status values
func (f *Filter) Validate() error {
	switch f.StatusFilter {
	case querylog.StatusAny, querylog.StatusBlocked, querylog.StatusAllowed:
		return nil
	default:
		return fmt.Errorf("%w: unknown statusFilter '%s'", ErrInvalidFilter, f.StatusFilter)
	}
}

// normalized returns a copy with paging defaults applied and trimmed search terms
func (f Filter) normalized() Filter {
	if f.PageNumber < 1 {
		f.PageNumber = 1
	}

	switch {
	case f.EntriesPerPage < 1:
		f.EntriesPerPage = defaultEntriesPerPage
	case f.EntriesPerPage > maxEntriesPerPage:
		f.EntriesPerPage = maxEntriesPerPage
	}

	if f.DescendingOrder == nil {
		desc := true
		f.DescendingOrder = &desc
	}

	for _, s := range []*string{&f.Qname, &f.ClientIPAddress, &f.Protocol, &f.ResponseType, &f.Rcode, &f.Qtype, &f.Qclass} {
		*s = strings.TrimSpace(*s)
	}

	return f
}

// window returns the effective time range: the start is clamped to the retention horizon
func (f *Filter) window(now time.Time, retention time.Duration) (time.Time, time.Time) {
	start := now.Add(-retention)
	if f.Start != nil && f.Start.After(start) {
		start = *f.Start
	}

	end := now
	if f.End != nil {
		end = *f.End
	}

	return start, end
}

func (f *Filter) storeFilter(nodeID string, start, end time.Time) querylog.Filter {
	return querylog.Filter{
		NodeID:       nodeID,
		Start:        start,
		End:          end,
		Qname:        f.Qname,
		Client:       f.ClientIPAddress,
		Protocol:     f.Protocol,
		ResponseType: f.ResponseType,
		Rcode:        f.Rcode,
		Qtype:        f.Qtype,
		Qclass:       f.Qclass,
		Status:       f.StatusFilter,
	}
}

func (f *Filter) pageQuery(nodeID string, start, end time.Time) querylog.PageQuery {
	return querylog.PageQuery{
		Filter:      f.storeFilter(nodeID, start, end),
		Deduplicate: f.DeduplicateDomains,
		Descending:  *f.DescendingOrder,
		Offset:      f.offset(),
		Limit:       f.EntriesPerPage,
	}
}

// offset of the first entry of the page, saturated at math.MaxInt
func (f *Filter) offset() int {
	if f.PageNumber-1 > math.MaxInt/f.EntriesPerPage {
		return math.MaxInt
	}

	return (f.PageNumber - 1) * f.EntriesPerPage
}

// cacheKey returns "kind|node|hash". The hash covers the name sorted filter fields
// without the cache bypass flag, so equal filters always share one key.
func cacheKey(kind, nodeID string, f *Filter) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return "", err
	}

	delete(fields, "disableCache")

	// map keys are marshaled in sorted order
	sorted, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	if nodeID == "" {
		nodeID = noNode
	}

	return fmt.Sprintf("%s|%s|%016x", kind, nodeID, xxhash.Sum64(sorted)), nil
}

func kindOfKey(key string) string {
	kind, _, _ := strings.Cut(key, "|")

	return kind
}

func totalPages(total int64, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 1
	}

	return int(math.Ceil(float64(total) / float64(perPage)))
}
