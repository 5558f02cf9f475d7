package dkim

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/idna"
)

// ErrKeyNotFound is returned by a KeyProvider when the selector/domain
// pair resolves to no usable key record, as opposed to a transient
// failure resolving it. The orchestrator maps both to TEMPFAIL, per
// https://datatracker.ietf.org/doc/html/rfc6376#section-6.1.2, but a
// KeyProvider implementation may still want to distinguish the two.
var ErrKeyNotFound = errors.New("no key record found")

// KeyProvider resolves a (selector, domain) pair to the list of key
// records published for it. This is the abstraction spec.md calls the
// Key Provider collaborator: the orchestrator never speaks DNS directly.
type KeyProvider interface {
	Fetch(ctx context.Context, selector, domain string) ([]*KeyRecord, error)
}

// DNSKeyProvider is the default KeyProvider: it queries
// <selector>._domainkey.<domain> over the standard resolver.
type DNSKeyProvider struct {
	// Resolver is used to perform the TXT lookup. Defaults to
	// net.DefaultResolver if nil.
	Resolver *net.Resolver
}

// NewDNSKeyProvider returns a DNSKeyProvider using the default resolver.
func NewDNSKeyProvider() *DNSKeyProvider {
	return &DNSKeyProvider{}
}

func (p *DNSKeyProvider) resolver() *net.Resolver {
	if p.Resolver != nil {
		return p.Resolver
	}
	return net.DefaultResolver
}

func (p *DNSKeyProvider) Fetch(ctx context.Context, selector, domain string) ([]*KeyRecord, error) {
	// IDNs must be queried as A-labels.
	// https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.2.2
	asciiDomain, err := idna.ToASCII(domain)
	if err != nil {
		return nil, fmt.Errorf("normalizing domain %q: %w", domain, err)
	}

	name := selector + "._domainkey." + asciiDomain
	values, err := p.resolver().LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
		}
		return nil, err
	}

	// There should be only a single record; RFC 6376 says the results are
	// undefined if there are multiple TXT records.
	// https://datatracker.ietf.org/doc/html/rfc6376#section-3.6.2.2
	//
	// We parse every TXT answer we got and let the orchestrator evaluate
	// each resulting KeyRecord on its own, rather than picking one here.
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}

	recs := make([]*KeyRecord, 0, len(values))
	for _, v := range values {
		recs = append(recs, parseKeyRecord(v))
	}
	return recs, nil
}

// StaticKeyProvider is a KeyProvider backed by an in-memory map, keyed by
// "selector._domainkey.domain". It is meant for tests and for callers
// that pre-fetch keys out of band.
type StaticKeyProvider map[string][]*KeyRecord

// NewStaticKeyProvider builds a StaticKeyProvider from raw TXT record
// strings, parsing each into a KeyRecord the way DNSKeyProvider would.
func NewStaticKeyProvider(txt map[string][]string) StaticKeyProvider {
	p := StaticKeyProvider{}
	for name, values := range txt {
		recs := make([]*KeyRecord, 0, len(values))
		for _, v := range values {
			recs = append(recs, parseKeyRecord(v))
		}
		p[name] = recs
	}
	return p
}

func (p StaticKeyProvider) Fetch(_ context.Context, selector, domain string) ([]*KeyRecord, error) {
	recs, ok := p[selector+"._domainkey."+domain]
	if !ok || len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s._domainkey.%s", ErrKeyNotFound, selector, domain)
	}
	return recs, nil
}
