package layers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/config"
)

// InternetLayer delivers payloads to known peers over HTTP. A circuit
// breaker keeps a flapping uplink from stalling every delivery attempt on
// connect timeouts.
type InternetLayer struct {
	client   *http.Client
	probeURL string
	peers    map[string]string // peer name -> URL
	breaker  *gobreaker.CircuitBreaker
}

func NewInternet(cfg config.InternetConfig) *InternetLayer {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	peers := make(map[string]string, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers[p.Name] = p.URL
	}
	probe := cfg.ProbeURL
	if probe == "" && len(cfg.Peers) > 0 {
		probe = cfg.Peers[0].URL
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "internet",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("internet breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &InternetLayer{
		client:   &http.Client{Timeout: timeout},
		probeURL: probe,
		peers:    peers,
		breaker:  breaker,
	}
}

func (l *InternetLayer) Layer() comm.Layer { return comm.LayerInternet }

// Send posts the payload to the named peer.
func (l *InternetLayer) Send(ctx context.Context, target string, payload []byte) error {
	url, err := l.resolve(target)
	if err != nil {
		return err
	}
	_, err = l.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("peer returned %s", resp.Status)
		}
		return nil, nil
	})
	return err
}

func (l *InternetLayer) resolve(target string) (string, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target, nil
	}
	if url, ok := l.peers[target]; ok {
		return url, nil
	}
	return "", fmt.Errorf("unknown internet peer %q", target)
}

// Reachable is the registry's availability probe: a quick request against
// the probe URL. Probe failure means the layer is down, never an error
// raised to callers.
func (l *InternetLayer) Reachable() bool {
	if l.probeURL == "" {
		return false
	}
	if l.breaker.State() == gobreaker.StateOpen {
		return false
	}
	req, err := http.NewRequest(http.MethodHead, l.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}
