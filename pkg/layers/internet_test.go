package layers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sony/gobreaker"

	"github.com/srex-dev/EVY-sub000/pkg/config"
)

func TestInternetPostsToPeer(t *testing.T) {
	var mu sync.Mutex
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = string(body)
		mu.Unlock()
	}))
	defer srv.Close()

	l := NewInternet(config.InternetConfig{
		Enable:    true,
		TimeoutMS: 2000,
		Peers:     []config.InternetPeer{{Name: "cloud-1", URL: srv.URL}},
	})
	if err := l.Send(context.Background(), "cloud-1", []byte("inference request")); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got != "inference request" {
		t.Fatalf("peer received %q", got)
	}
}

func TestInternetAcceptsRawURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	l := NewInternet(config.InternetConfig{TimeoutMS: 1000})
	if err := l.Send(context.Background(), srv.URL, []byte("x")); err != nil {
		t.Fatal(err)
	}
}

func TestInternetUnknownPeer(t *testing.T) {
	l := NewInternet(config.InternetConfig{TimeoutMS: 1000})
	if err := l.Send(context.Background(), "nowhere", []byte("x")); err == nil {
		t.Fatal("send to unknown peer succeeded")
	}
}

func TestInternetReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	l := NewInternet(config.InternetConfig{ProbeURL: srv.URL, TimeoutMS: 1000})
	if !l.Reachable() {
		t.Fatal("live probe target reported unreachable")
	}
	srv.Close()
	if l.Reachable() {
		t.Fatal("closed probe target reported reachable")
	}
}

func TestInternetProbeFallsBackToFirstPeer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	l := NewInternet(config.InternetConfig{
		TimeoutMS: 1000,
		Peers:     []config.InternetPeer{{Name: "cloud-1", URL: srv.URL}},
	})
	if !l.Reachable() {
		t.Fatal("probe did not fall back to the first peer URL")
	}
}

func TestInternetBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	l := NewInternet(config.InternetConfig{
		TimeoutMS: 1000,
		Peers:     []config.InternetPeer{{Name: "down", URL: srv.URL}},
	})
	for i := 0; i < 3; i++ {
		if err := l.Send(context.Background(), "down", []byte("x")); err == nil {
			t.Fatalf("send %d succeeded against a 500ing peer", i+1)
		}
	}
	err := l.Send(context.Background(), "down", []byte("x"))
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("after three failures err = %v, want open breaker", err)
	}
	if l.Reachable() {
		t.Fatal("open breaker should mark the layer unreachable")
	}
}
