package resolver

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/rendau/httpc/adapters/cache"
	"github.com/rendau/httpc/adapters/logger"
	"github.com/rendau/httpc/errs"
)

const (
	keyPrefix  = "resolve:"
	DefaultTTL = 5 * time.Minute
)

type lookupFn func(ctx context.Context, host string) ([]net.IPAddr, error)

// St resolves host names, keeping answers in a cache for ttl.
// IPv4 addresses always come first.
type St struct {
	lg    logger.Lite
	cache cache.Cache
	ttl   time.Duration

	lookup lookupFn
}

func New(lg logger.Lite, c cache.Cache, ttl time.Duration) *St {
	if c == nil {
		c = cache.None{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &St{
		lg:     logger.OrNop(lg),
		cache:  c,
		ttl:    ttl,
		lookup: net.DefaultResolver.LookupIPAddr,
	}
}

func (r *St) Lookup(ctx context.Context, host string) ([]string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errs.Desc(errs.Param, "empty host")
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return []string{ip.String()}, nil
	}

	key := keyPrefix + strings.ToLower(host)

	var addrs []string

	ok, err := r.cache.GetJsonObj(key, &addrs)
	if err != nil {
		r.lg.Warnw("resolver cache read fail", "host", host, "error", err)
	} else if ok && len(addrs) > 0 {
		return addrs, nil
	}

	ipAddrs, err := r.lookup(ctx, host)
	if err != nil {
		r.lg.Errorw("getaddrinfo fail", err, "host", host)
		return nil, errs.Desc(errs.Fail, "resolve "+host+": "+err.Error())
	}
	if len(ipAddrs) == 0 {
		return nil, errs.Desc(errs.Fail, "no address for "+host)
	}

	addrs = sortAddrs(ipAddrs)

	if err = r.cache.SetJsonObj(key, addrs, r.ttl); err != nil {
		r.lg.Warnw("resolver cache write fail", "host", host, "error", err)
	}

	r.lg.Debugw("host resolved", "host", host, "addrs", addrs)

	return addrs, nil
}

func sortAddrs(ipAddrs []net.IPAddr) []string {
	sorted := make([]net.IPAddr, len(ipAddrs))
	copy(sorted, ipAddrs)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].IP.To4() != nil && sorted[j].IP.To4() == nil
	})

	res := make([]string, 0, len(sorted))
	for _, a := range sorted {
		if a.Zone != "" {
			res = append(res, a.IP.String()+"%"+a.Zone)
			continue
		}
		res = append(res, a.IP.String())
	}

	return res
}
