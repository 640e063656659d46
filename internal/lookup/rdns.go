package lookup

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"speakquery/internal/querylang"
)

// rdnsEntry is a cached reverse DNS result. An empty hostname is a cached
// miss.
type rdnsEntry struct {
	hostname string
	expires  time.Time
}

// RDNS resolves IP addresses to hostnames with a TTL cache. Uncached
// lookups pass through a token-bucket limiter so a large dataset cannot
// flood the resolver.
type RDNS struct {
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
	limiter    *rate.Limiter
	timeout    time.Duration
	posTTL     time.Duration
	negTTL     time.Duration
	cacheSize  int
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]rdnsEntry
}

// RDNSOption configures the RDNS table.
type RDNSOption func(*RDNS)

// WithTTL sets the positive and negative TTLs.
func WithTTL(positive, negative time.Duration) RDNSOption {
	return func(r *RDNS) {
		r.posTTL = positive
		r.negTTL = negative
	}
}

// WithTimeout sets the per-lookup timeout.
func WithTimeout(d time.Duration) RDNSOption {
	return func(r *RDNS) {
		r.timeout = d
	}
}

// WithCacheSize sets the max cache entries. A full cache is cleared.
func WithCacheSize(n int) RDNSOption {
	return func(r *RDNS) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// WithRateLimit caps uncached lookups at perSecond with the given burst.
// perSecond <= 0 disables the limit.
func WithRateLimit(perSecond float64, burst int) RDNSOption {
	return func(r *RDNS) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithResolver uses res for lookups.
func WithResolver(res *net.Resolver) RDNSOption {
	return func(r *RDNS) {
		r.lookupAddr = res.LookupAddr
	}
}

// WithLookupFunc replaces the resolver call entirely.
func WithLookupFunc(fn func(ctx context.Context, addr string) ([]string, error)) RDNSOption {
	return func(r *RDNS) {
		r.lookupAddr = fn
	}
}

// NewRDNS creates a reverse DNS lookup table.
func NewRDNS(opts ...RDNSOption) *RDNS {
	r := &RDNS{
		lookupAddr: net.DefaultResolver.LookupAddr,
		limiter:    rate.NewLimiter(50, 10),
		timeout:    2 * time.Second,
		posTTL:     5 * time.Minute,
		negTTL:     1 * time.Minute,
		cacheSize:  10_000,
		now:        time.Now,
		cache:      make(map[string]rdnsEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (*RDNS) suffixOutputs() {}

// Fields returns the output suffixes.
func (r *RDNS) Fields() []string {
	return []string{"hostname"}
}

// Lookup resolves an IP address to a hostname. Returns nil on failure,
// on a value that is not an IP, or when the limiter wait is cancelled.
func (r *RDNS) Lookup(ctx context.Context, key querylang.Value) map[string]querylang.Value {
	value := strings.TrimSpace(key.AsText())
	if net.ParseIP(value) == nil {
		return nil
	}

	r.mu.Lock()
	if entry, ok := r.cache[value]; ok && r.now().Before(entry.expires) {
		r.mu.Unlock()
		return hostnameResult(entry.hostname)
	}
	r.mu.Unlock()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	names, err := r.lookupAddr(lookupCtx, value)

	var hostname string
	if err == nil && len(names) > 0 {
		hostname = strings.TrimSuffix(names[0], ".")
	}

	ttl := r.negTTL
	if hostname != "" {
		ttl = r.posTTL
	}
	r.mu.Lock()
	if len(r.cache) >= r.cacheSize {
		clear(r.cache)
	}
	r.cache[value] = rdnsEntry{hostname: hostname, expires: r.now().Add(ttl)}
	r.mu.Unlock()

	return hostnameResult(hostname)
}

func hostnameResult(hostname string) map[string]querylang.Value {
	if hostname == "" {
		return nil
	}
	return map[string]querylang.Value{"hostname": querylang.StrValue(hostname)}
}
