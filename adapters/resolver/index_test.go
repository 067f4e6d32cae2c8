package resolver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rendau/httpc/adapters/cache/mem"
	"github.com/rendau/httpc/errs"
)

func TestLookupCachesAndOrdersIPv4First(t *testing.T) {
	calls := 0

	r := New(nil, mem.New(), time.Minute)
	r.lookup = func(_ context.Context, host string) ([]net.IPAddr, error) {
		calls++
		return []net.IPAddr{
			{IP: net.ParseIP("2001:db8::1")},
			{IP: net.ParseIP("192.0.2.10")},
		}, nil
	}

	for i := 0; i < 3; i++ {
		addrs, err := r.Lookup(context.Background(), "Example.COM")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if len(addrs) != 2 || addrs[0] != "192.0.2.10" || addrs[1] != "2001:db8::1" {
			t.Fatalf("unexpected addrs %v", addrs)
		}
	}

	if calls != 1 {
		t.Fatalf("expected a single lookup, got %d", calls)
	}
}

func TestLookupLiteralAndErrors(t *testing.T) {
	r := New(nil, nil, 0)
	r.lookup = func(context.Context, string) ([]net.IPAddr, error) {
		return nil, errors.New("no such host")
	}

	addrs, err := r.Lookup(context.Background(), "127.0.0.1")
	if err != nil || len(addrs) != 1 || addrs[0] != "127.0.0.1" {
		t.Fatalf("literal lookup: %v %v", addrs, err)
	}

	addrs, err = r.Lookup(context.Background(), "[::1]")
	if err != nil || len(addrs) != 1 || addrs[0] != "::1" {
		t.Fatalf("bracketed literal lookup: %v %v", addrs, err)
	}

	if _, err = r.Lookup(context.Background(), ""); errs.Code(err) != errs.CodeParam {
		t.Fatalf("expected param error, got %v", err)
	}

	if _, err = r.Lookup(context.Background(), "missing.invalid"); errs.Code(err) != errs.CodeFail {
		t.Fatalf("expected fail, got %v", err)
	}
}
