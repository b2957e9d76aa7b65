package netutil

import (
	"errors"
	"net"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestSelectBindAddrPreferredFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	got, err := SelectBindAddr(addr, nil, false)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != addr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, addr)
	}
}

func TestSelectBindAddrFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen free: %v", err)
	}
	freeAddr := free.Addr().String()
	_ = free.Close()

	got, err := SelectBindAddr(busy.Addr().String(), []string{busy.Addr().String(), freeAddr}, true)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != freeAddr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, freeAddr)
	}
}

func TestSelectBindAddrBusyWithoutFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	if _, err := SelectBindAddr(busy.Addr().String(), nil, false); err == nil {
		t.Fatal("expected error for busy preferred address")
	}
	if _, err := SelectBindAddr(busy.Addr().String(), nil, true); !errors.Is(err, ErrNoBindAddr) {
		t.Fatalf("SelectBindAddr() error = %v; want ErrNoBindAddr", err)
	}
}

func TestParseCandidates(t *testing.T) {
	got := ParseCandidates(" 127.0.0.1:8787, ,127.0.0.1:8788 ")
	want := []string{"127.0.0.1:8787", "127.0.0.1:8788"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseCandidates() = %v; want %v", got, want)
	}
	if got := ParseCandidates(""); got != nil {
		t.Fatalf("ParseCandidates(\"\") = %v; want nil", got)
	}
}

func TestClientAddr(t *testing.T) {
	tests := map[string]string{
		"10.0.0.7:51234": "10.0.0.7",
		"[::1]:8080":     "::1",
		"10.0.0.8":       "10.0.0.8",
		"":               "unknown",
	}
	for remote, want := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = remote
		if got := ClientAddr(r); got != want {
			t.Fatalf("ClientAddr(%q) = %q; want %q", remote, got, want)
		}
	}
}
