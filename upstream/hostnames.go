package upstream

import (
	"context"
	"net"
	"sort"
	"strings"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/fleetdns/querylogd/cache/expirationcache"
	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/model"
)

const defaultDNSPort = "53"

// HostnameResolver determines the best known host name of client IPs: the static
// mapping first, then a reverse lookup (rDNS) against the configured DNS server
type HostnameResolver struct {
	cfg      config.ClientLookup
	mapping  map[string]string
	upstream string
	client   *dns.Client

	// empty names are cached too, so unknown clients are not looked up on every poll
	cache expirationcache.ExpiringCache[string]
}

// NewHostnameResolver creates new resolver instance
func NewHostnameResolver(cfg config.ClientLookup) *HostnameResolver {
	r := &HostnameResolver{
		cfg:     cfg,
		mapping: ipToName(cfg.ClientnameIPMapping),
		cache:   expirationcache.NewCache[string](expirationcache.Options{}),
	}

	if cfg.Upstream != "" {
		r.upstream = withDefaultPort(cfg.Upstream)
		r.client = &dns.Client{Net: "udp", Timeout: cfg.Timeout.ToDuration()}
	}

	return r
}

// LogConfig implements `config.Configurable`.
func (r *HostnameResolver) LogConfig(logger *logrus.Entry) {
	r.cfg.LogConfig(logger)

	logger.Infof("cache entries = %d", r.cache.TotalCount())
}

// EnrichWithHostnames fills the client name of entries without a usable one.
// Names delivered by the node are kept.
func (r *HostnameResolver) EnrichWithHostnames(ctx context.Context, entries []model.LogEntry) []model.LogEntry {
	resolved := make(map[string]string)

	for i := range entries {
		e := &entries[i]

		if e.HasUsableClientName() || e.ClientIPAddress == "" {
			continue
		}

		name, ok := resolved[e.ClientIPAddress]
		if !ok {
			name = r.hostname(ctx, e.ClientIPAddress)
			resolved[e.ClientIPAddress] = name
		}

		if name != "" {
			e.ClientName = name
		}
	}

	return entries
}

func (r *HostnameResolver) hostname(ctx context.Context, clientIP string) string {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return ""
	}

	if name, ok := r.mapping[ip.String()]; ok {
		return name
	}

	if r.client == nil {
		return ""
	}

	if c, _ := r.cache.Get(ip.String()); c != nil {
		return *c
	}

	name := r.reverseLookup(ctx, ip)

	r.cache.Put(ip.String(), &name, r.cfg.CachePeriod.ToDuration())

	return name
}

func (r *HostnameResolver) reverseLookup(ctx context.Context, ip net.IP) string {
	logger := logger().WithField("client_ip", ip.String())

	reverse, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(reverse, dns.TypePTR)

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.upstream)
	if err != nil {
		logger.Debug("can't resolve client name: ", err)

		return ""
	}

	name := extractHostname(resp.Answer)
	if name == "" || strings.EqualFold(name, ip.String()) {
		return ""
	}

	logger.WithField("client_name", name).Debug("resolved client name from external resolver")

	return name
}

func extractHostname(answer []dns.RR) string {
	for _, rr := range answer {
		if t, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(t.Ptr, ".")
		}
	}

	return ""
}

// ipToName inverts the name -> IPs mapping, for IPs with several names the alphabetically first wins
func ipToName(mapping map[string][]string) map[string]string {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}

	sort.Strings(names)

	res := make(map[string]string)

	for _, name := range names {
		for _, s := range mapping[name] {
			ip := net.ParseIP(strings.TrimSpace(s))
			if ip == nil {
				continue
			}

			if _, ok := res[ip.String()]; !ok {
				res[ip.String()] = name
			}
		}
	}

	return res
}

func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(strings.Trim(addr, "[]"), defaultDNSPort)
}
