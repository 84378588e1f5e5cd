package layers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/config"
)

// smsSegmentBytes is the classic single-SMS budget. Longer messages are
// split and sent as ordered segments.
const smsSegmentBytes = 140

// Modem is the physical SMS seam: something that can push one text to one
// number.
type Modem interface {
	SendSMS(ctx context.Context, number, text string) error
}

// simModem pretends to radiate. Used in development and tests.
type simModem struct {
	delay time.Duration
}

func (m simModem) SendSMS(ctx context.Context, number, text string) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	zap.L().Debug("sim sms sent",
		zap.String("to", number),
		zap.Int("bytes", len(text)))
	return nil
}

// gatewayModem posts each segment to an HTTP SMS gateway.
type gatewayModem struct {
	client *http.Client
	url    string
	token  string
}

func (m *gatewayModem) SendSMS(ctx context.Context, number, text string) error {
	body, err := json.Marshal(map[string]string{"to": number, "body": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sms gateway returned %s", resp.Status)
	}
	return nil
}

// SMSLayer carries payloads over the cellular store-and-forward channel.
// It is the channel of last resort: tiny and slow, but assumed to work
// when nothing else does.
type SMSLayer struct {
	modem  Modem
	bucket *TokenBucket
}

func NewSMS(cfg config.SMSConfig) *SMSLayer {
	var modem Modem
	switch cfg.Driver {
	case "gateway":
		modem = &gatewayModem{
			client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
			url:    cfg.GatewayURL,
			token:  cfg.GatewayToken,
		}
	default:
		modem = simModem{}
	}
	rate := int64(cfg.RatePerMin)
	if rate <= 0 {
		rate = 10
	}
	return &SMSLayer{
		modem:  modem,
		bucket: NewTokenBucket(rate, time.Minute, rate),
	}
}

func (l *SMSLayer) Layer() comm.Layer { return comm.LayerSMS }

// Send splits the payload into SMS-sized segments and pushes them through
// the modem in order, pacing against the rate limit. Binary payloads are
// base64-armored first; valid text rides as-is.
func (l *SMSLayer) Send(ctx context.Context, target string, payload []byte) error {
	if target == "" {
		return fmt.Errorf("sms send needs a recipient number")
	}
	segments := segmentText(smsText(payload), smsSegmentBytes)
	for i, seg := range segments {
		if err := l.waitForToken(ctx); err != nil {
			return err
		}
		if err := l.modem.SendSMS(ctx, target, seg); err != nil {
			return fmt.Errorf("sms segment %d/%d: %w", i+1, len(segments), err)
		}
	}
	return nil
}

func (l *SMSLayer) waitForToken(ctx context.Context) error {
	for {
		ok, wait := l.bucket.Allow(1)
		if ok {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// smsText renders a payload as modem-safe text.
func smsText(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	return base64.StdEncoding.EncodeToString(payload)
}

// segmentText chops s into chunks of at most max bytes without splitting a
// rune across segments.
func segmentText(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var segs []string
	start := 0
	for start < len(s) {
		end := start + max
		if end >= len(s) {
			segs = append(segs, s[start:])
			break
		}
		for end > start && !utf8.RuneStart(s[end]) {
			end--
		}
		segs = append(segs, s[start:end])
		start = end
	}
	return segs
}
