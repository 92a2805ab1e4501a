// Copyright 2026 The RestPipe Authors
// This file is part of the RestPipe library.
//
// The RestPipe library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The RestPipe library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the RestPipe library. If not, see <http://www.gnu.org/licenses/>.

package rest

import (
	"context"
	"errors"
	"fmt"
	"net"

	lru "github.com/hashicorp/golang-lru"
)

// ErrUnknownHost marks a hostname the resolver cannot map to an
// address. The ingress reports it as 404; any other resolver failure
// is a 500.
var ErrUnknownHost = errors.New("unknown host")

// HostResolver maps an addressed hostname to the peer IP used as the
// catalog key.
type HostResolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// resolverCacheSize bounds the DNS resolver's answer cache. Catalog
// keys are stable for a connection's lifetime, so stale entries only
// cost a failed lookup in the catalog.
const resolverCacheSize = 512

// DNSResolver resolves hostnames through the system resolver with an
// LRU answer cache.
type DNSResolver struct {
	cache  *lru.Cache
	lookup func(ctx context.Context, host string) ([]string, error)
}

// NewDNSResolver creates a caching resolver over the default system
// resolver.
func NewDNSResolver() *DNSResolver {
	cache, _ := lru.New(resolverCacheSize)
	return &DNSResolver{
		cache:  cache,
		lookup: net.DefaultResolver.LookupHost,
	}
}

// Resolve returns one address for host. Negative answers are not
// cached; a host that appears later should start working immediately.
func (r *DNSResolver) Resolve(ctx context.Context, host string) (string, error) {
	if addr, ok := r.cache.Get(host); ok {
		return addr.(string), nil
	}

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return "", fmt.Errorf("%w: %s", ErrUnknownHost, host)
		}
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}

	r.cache.Add(host, addrs[0])
	return addrs[0], nil
}
