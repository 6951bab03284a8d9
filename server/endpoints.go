package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/engine"
	"github.com/fleetdns/querylogd/querylog"
)

const (
	contentTypeHeader = "Content-Type"
	jsonContentType   = "application/json"

	apiPrefix = "/api/querylog"
)

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) registerAPIEndpoints(router chi.Router) {
	router.Route(apiPrefix, func(r chi.Router) {
		r.Get("/status", s.apiStatus)
		r.Get("/entries", s.apiEntries(config.AllNodes))
		r.Get("/nodes/{nodeID}/entries", s.apiNodeEntries)
		r.Post("/poll", s.apiPoll)
	})
}

func (s *Server) apiStatus(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, s.service.Status())
}

func (s *Server) apiNodeEntries(rw http.ResponseWriter, req *http.Request) {
	s.apiEntries(chi.URLParam(req, "nodeID"))(rw, req)
}

func (s *Server) apiEntries(nodeID string) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		f, err := parseFilter(req.URL.Query())
		if err != nil {
			writeError(rw, http.StatusBadRequest, err)

			return
		}

		page, err := s.service.Query(req.Context(), nodeID, f)
		if err != nil {
			writeError(rw, statusOf(err), err)

			return
		}

		writeJSON(rw, http.StatusOK, page)
	}
}

func (s *Server) apiPoll(rw http.ResponseWriter, req *http.Request) {
	err := s.service.PollOnce(req.Context())

	switch {
	case err == nil:
		rw.WriteHeader(http.StatusAccepted)
	case errors.Is(err, engine.ErrPollInProgress):
		writeError(rw, http.StatusConflict, err)
	case errors.Is(err, engine.ErrNotReady):
		writeError(rw, http.StatusServiceUnavailable, err)
	default:
		// the cycle ran, some nodes failed
		logger().Warn("manual poll finished with errors: ", err)
		writeJSON(rw, http.StatusAccepted, apiError{Error: err.Error()})
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidFilter):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseFilter(q url.Values) (engine.Filter, error) {
	var (
		f   engine.Filter
		err error
	)

	f.Qname = q.Get("qname")
	f.ClientIPAddress = q.Get("clientIpAddress")
	f.Protocol = q.Get("protocol")
	f.ResponseType = q.Get("responseType")
	f.Rcode = q.Get("rcode")
	f.Qtype = q.Get("qtype")
	f.Qclass = q.Get("qclass")
	f.StatusFilter = querylog.Status(q.Get("statusFilter"))

	if f.Start, err = parseTime(q, "start"); err != nil {
		return f, err
	}

	if f.End, err = parseTime(q, "end"); err != nil {
		return f, err
	}

	if f.PageNumber, err = parseInt(q, "pageNumber"); err != nil {
		return f, err
	}

	if f.EntriesPerPage, err = parseInt(q, "entriesPerPage"); err != nil {
		return f, err
	}

	if f.DeduplicateDomains, err = parseBool(q, "deduplicateDomains"); err != nil {
		return f, err
	}

	if f.DisableCache, err = parseBool(q, "disableCache"); err != nil {
		return f, err
	}

	if q.Has("descendingOrder") {
		desc, err := parseBool(q, "descendingOrder")
		if err != nil {
			return f, err
		}

		f.DescendingOrder = &desc
	}

	return f, nil
}

func parseTime(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil //nolint:nilnil
	}

	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("parameter '%s': '%s' is not a RFC3339 timestamp", name, v)
	}

	return &t, nil
}

func parseInt(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s': '%s' is not a number", name, v)
	}

	return i, nil
}

func parseBool(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parameter '%s': '%s' is not a boolean", name, v)
	}

	return b, nil
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, apiError{Error: err.Error()})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set(contentTypeHeader, jsonContentType)
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		logger().Error("can't write response: ", err)
	}
}
