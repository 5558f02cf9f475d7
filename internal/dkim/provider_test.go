package dkim

import (
	"context"
	"errors"
	"testing"

	"blitiri.com.ar/go/dkimverify/internal/dnstest"
)

func TestDNSKeyProviderFetch(t *testing.T) {
	srv, err := dnstest.NewServer()
	if err != nil {
		t.Fatalf("dnstest.NewServer: %v", err)
	}
	defer srv.Close()

	srv.AddTXT("brisbane._domainkey.example.com", "v=DKIM1; p="+testRSAKeyB64)

	p := &DNSKeyProvider{Resolver: srv.Resolver()}
	keys, err := p.Fetch(context.Background(), "brisbane", "example.com")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("Fetch returned %d keys, want 1", len(keys))
	}
	if keys[0].FormatErr != nil {
		t.Errorf("unexpected FormatErr: %v", keys[0].FormatErr)
	}
}

func TestDNSKeyProviderFetchNotFound(t *testing.T) {
	srv, err := dnstest.NewServer()
	if err != nil {
		t.Fatalf("dnstest.NewServer: %v", err)
	}
	defer srv.Close()

	p := &DNSKeyProvider{Resolver: srv.Resolver()}
	_, err = p.Fetch(context.Background(), "missing", "example.com")
	if err == nil {
		t.Errorf("Fetch for an unpublished selector: want error, got nil")
	}
}

func TestStaticKeyProviderFetch(t *testing.T) {
	p := NewStaticKeyProvider(map[string][]string{
		"brisbane._domainkey.example.com": {"v=DKIM1; p=" + testRSAKeyB64},
	})

	keys, err := p.Fetch(context.Background(), "brisbane", "example.com")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("Fetch returned %d keys, want 1", len(keys))
	}
	if keys[0].FormatErr != nil {
		t.Errorf("unexpected FormatErr: %v", keys[0].FormatErr)
	}
}

func TestStaticKeyProviderNotFound(t *testing.T) {
	p := StaticKeyProvider{}
	_, err := p.Fetch(context.Background(), "missing", "example.com")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Fetch error = %v, want ErrKeyNotFound", err)
	}
}

func TestStaticKeyProviderMultipleRecords(t *testing.T) {
	// Multiple TXT records for one selector/domain: every candidate is
	// returned, never just the first.
	p := NewStaticKeyProvider(map[string][]string{
		"s._domainkey.example.com": {
			"v=DKIM1; p=" + testRSAKeyB64,
			"v=DKIM1; p=",
		},
	})
	keys, err := p.Fetch(context.Background(), "s", "example.com")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Fetch returned %d keys, want 2", len(keys))
	}
}
