package util

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

//nolint:gochecknoglobals
var baseTransport *http.Transport

//nolint:gochecknoinits
func init() {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		panic(fmt.Errorf(
			"unsupported Go version: http.DefaultTransport is not of type *http.Transport: it is a %T",
			http.DefaultTransport,
		))
	}

	baseTransport = base
}

// DefaultHTTPTransport returns a new Transport with the proxy, dialer and TLS defaults of net/http.
// Every node fetcher gets its own connection pool.
func DefaultHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext:           baseTransport.DialContext,
		ForceAttemptHTTP2:     baseTransport.ForceAttemptHTTP2,
		IdleConnTimeout:       baseTransport.IdleConnTimeout,
		MaxIdleConns:          baseTransport.MaxIdleConns,
		MaxIdleConnsPerHost:   4,
		Proxy:                 baseTransport.Proxy,
		TLSClientConfig:       baseTransport.TLSClientConfig,
		TLSHandshakeTimeout:   baseTransport.TLSHandshakeTimeout,
		ExpectContinueTimeout: baseTransport.ExpectContinueTimeout,
	}
}

// HTTPClientIP returns the address of the caller, the first X-Forwarded-For hop wins over the peer address
func HTTPClientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}

	return net.ParseIP(host)
}
