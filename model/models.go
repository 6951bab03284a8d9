package model

import (
	"encoding/json"
	"strings"
)

// LogEntry is one DNS query event as delivered by the query log API of a node
type LogEntry struct {
	RowNumber       int64    `json:"rowNumber,omitempty"`
	Timestamp       string   `json:"timestamp"`
	ClientIPAddress string   `json:"clientIpAddress"`
	ClientName      string   `json:"clientName,omitempty"`
	Protocol        string   `json:"protocol"`
	ResponseType    string   `json:"responseType"`
	ResponseRtt     *float64 `json:"responseRtt,omitempty"`
	Rcode           string   `json:"rcode"`
	Qname           string   `json:"qname"`
	Qtype           string   `json:"qtype"`
	Qclass          string   `json:"qclass"`
	Answer          string   `json:"answer,omitempty"`

	// Raw is the record exactly as received, it is persisted for lossless round-trip
	Raw json.RawMessage `json:"-"`
}

// IsBlocked returns true if the response type indicates a blocked query
func (e *LogEntry) IsBlocked() bool {
	return strings.Contains(strings.ToLower(e.ResponseType), "blocked")
}

// IsARecord returns true for queries of type A
func (e *LogEntry) IsARecord() bool {
	return strings.EqualFold(e.Qtype, "A")
}

// HasUsableClientName returns true if the client name is set and is not just the client IP
func (e *LogEntry) HasUsableClientName() bool {
	name := strings.TrimSpace(e.ClientName)

	return name != "" && !strings.EqualFold(name, e.ClientIPAddress)
}

// Entry is a stored log entry together with its origin node
type Entry struct {
	LogEntry

	NodeID      string `json:"nodeId"`
	BaseURL     string `json:"baseUrl"`
	TimestampMs int64  `json:"timestampMs"`
}

// MarshalJSON writes the received record with the known fields and the
// origin of the entry laid over it
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry

	known, err := json.Marshal(plain(e))
	if err != nil || len(e.Raw) == 0 {
		return known, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(e.Raw, &merged); err != nil || merged == nil {
		return known, nil //nolint:nilerr
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}

	for k, v := range fields {
		merged[k] = v
	}

	if e.ClientName == "" {
		delete(merged, "clientName")
	}

	return json.Marshal(merged)
}
