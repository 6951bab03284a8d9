package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/log"
	"github.com/fleetdns/querylogd/model"
	"github.com/fleetdns/querylogd/util"
)

const (
	defaultFetchTimeout  = 10 * time.Second
	defaultFetchAttempts = uint(3)
	defaultFetchCooldown = 500 * time.Millisecond

	queryLogPath = "/api/logs/query"
	statusOK     = "ok"
)

// ErrUnknownNode is returned for node ids without configuration
var ErrUnknownNode = errors.New("unknown node")

// TransientError represents a temporary error like timeout, network errors...
type TransientError struct {
	inner error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("temporary error occurred: %v", e.inner)
}

func (e *TransientError) Unwrap() error {
	return e.inner
}

// HTTPFetcher reads the query log of the nodes via the HTTP API of the log app
type HTTPFetcher struct {
	nodes         map[string]config.Node
	fetchTimeout  time.Duration
	fetchAttempts uint
	fetchCooldown time.Duration
	httpTransport http.RoundTripper
}

type FetcherOption func(f *HTTPFetcher)

// WithTimeout sets the timeout of one page request
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.fetchTimeout = timeout
	}
}

// WithCooldown sets the pause between 2 attempts
func WithCooldown(cooldown time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.fetchCooldown = cooldown
	}
}

// WithAttempts sets the attempt number for retry
func WithAttempts(attempts uint) FetcherOption {
	return func(f *HTTPFetcher) {
		f.fetchAttempts = attempts
	}
}

// WithTransport sets the HTTP transport
func WithTransport(transport http.RoundTripper) FetcherOption {
	return func(f *HTTPFetcher) {
		f.httpTransport = transport
	}
}

func NewHTTPFetcher(nodes config.Nodes, options ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		nodes:         make(map[string]config.Node, len(nodes)),
		fetchTimeout:  defaultFetchTimeout,
		fetchAttempts: defaultFetchAttempts,
		fetchCooldown: defaultFetchCooldown,
		httpTransport: util.DefaultHTTPTransport(),
	}

	for _, n := range nodes {
		f.nodes[n.ID] = n
	}

	for _, opt := range options {
		opt(f)
	}

	return f
}

func logger() *logrus.Entry {
	return log.PrefixedLog("upstream")
}

type queryLogResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		PageNumber   int               `json:"pageNumber"`
		TotalPages   int               `json:"totalPages"`
		TotalEntries int               `json:"totalEntries"`
		Entries      []json.RawMessage `json:"entries"`
	} `json:"response"`
}

// FetchEntries returns the entries of the node in the time window, newest first.
// Pages are requested until maxTotal entries are read or the log is exhausted.
func (f *HTTPFetcher) FetchEntries(ctx context.Context, nodeID string, start, end time.Time,
	maxTotal, pageSize int,
) ([]model.LogEntry, error) {
	node, ok := f.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownNode, nodeID)
	}

	if maxTotal <= 0 || pageSize <= 0 {
		return nil, nil
	}

	client := &http.Client{
		Timeout:   f.fetchTimeout,
		Transport: f.httpTransport,
	}

	var result []model.LogEntry

	for page := 1; len(result) < maxTotal; page++ {
		perPage := min(pageSize, maxTotal-len(result))

		resp, err := f.fetchPage(ctx, client, &node, start, end, page, perPage)
		if err != nil {
			return nil, err
		}

		for _, raw := range resp.Response.Entries {
			var e model.LogEntry

			if err := json.Unmarshal(raw, &e); err != nil {
				logger().WithField("node", nodeID).Debugf("skipping undecodable entry: %s", err)

				continue
			}

			e.Raw = raw
			result = append(result, e)

			if len(result) >= maxTotal {
				break
			}
		}

		lastPage := resp.Response.TotalPages > 0 && page >= resp.Response.TotalPages
		if len(resp.Response.Entries) < perPage || lastPage {
			break
		}
	}

	return result, nil
}

func (f *HTTPFetcher) fetchPage(ctx context.Context, client *http.Client, node *config.Node,
	start, end time.Time, page, perPage int,
) (*queryLogResponse, error) {
	link := pageURL(node, start, end, page, perPage)

	var res *queryLogResponse

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			resp, err := client.Do(req)
			if err != nil {
				err = withoutURL(err)

				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					return &TransientError{inner: netErr}
				}

				return err
			}

			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("got status code %d", resp.StatusCode)
				if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
					return err
				}

				return retry.Unrecoverable(err)
			}

			var body queryLogResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return retry.Unrecoverable(fmt.Errorf("can't decode response: %w", err))
			}

			if body.Status != statusOK {
				return retry.Unrecoverable(fmt.Errorf("log api returned status '%s': %s", body.Status, body.ErrorMessage))
			}

			res = &body

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.fetchAttempts),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(f.fetchCooldown),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			var transientErr *TransientError

			var dnsErr *net.DNSError

			logger := logger().WithField("node", node.ID).WithField("attempt",
				fmt.Sprintf("%d/%d", n+1, f.fetchAttempts))

			switch {
			case errors.As(err, &transientErr):
				logger.Warnf("Temporary network err / Timeout occurred: %s", transientErr)
			case errors.As(err, &dnsErr):
				logger.Warnf("Name resolution err: %s", dnsErr.Err)
			default:
				logger.Warnf("Can't fetch query log page: %s", err)
			}
		}))
	if err != nil {
		return nil, fmt.Errorf("can't fetch query log of node '%s': %w", node.ID, err)
	}

	return res, nil
}

// withoutURL drops the request URL from client errors since it contains the token
func withoutURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request failed: %w", urlErr.Op, urlErr.Err)
	}

	return err
}

// pageURL builds the request URL, the token is only part of the query string which is never logged
func pageURL(node *config.Node, start, end time.Time, page, perPage int) string {
	params := url.Values{}
	params.Set("token", node.Token)
	params.Set("name", node.LogApp)
	params.Set("classPath", node.LogClassPath)
	params.Set("pageNumber", strconv.Itoa(page))
	params.Set("entriesPerPage", strconv.Itoa(perPage))
	params.Set("descendingOrder", "true")
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))

	return strings.TrimSuffix(node.BaseURL, "/") + queryLogPath + "?" + params.Encode()
}
