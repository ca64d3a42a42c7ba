// Package receipt talks to the external OCR service that turns a photo of a
// receipt into priced lines, and cleans up what comes back.
package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Parser extracts raw lines from a receipt image.
type Parser interface {
	Parse(ctx context.Context, image []byte, mimeType string) ([]RawItem, error)
}

// ErrUnparseable is returned when the OCR response holds no item list.
var ErrUnparseable = errors.New("receipt response could not be parsed")

// StatusError is a non-2xx answer from the OCR service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ocr service returned %d: %s", e.Code, e.Body)
}

// HTTPParser posts the image as a data URL to an OCR endpoint:
//
//	request:  {"image": "data:image/jpeg;base64,..."}
//	response: {"items": [{"item": "Burger", "amount": 2, "price": 24.99}]}
//
// Transport errors and 5xx answers are retried with exponential backoff;
// 4xx answers are not.
type HTTPParser struct {
	Endpoint    string
	APIKey      string
	Client      *http.Client
	MaxAttempts uint

	// newBackOff is swapped in tests to avoid sleeping.
	newBackOff func() backoff.BackOff
}

// NewHTTPParser builds a parser with a per-attempt timeout.
func NewHTTPParser(endpoint, apiKey string, timeout time.Duration, maxAttempts uint) *HTTPParser {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	return &HTTPParser{
		Endpoint:    endpoint,
		APIKey:      apiKey,
		Client:      &http.Client{Timeout: timeout},
		MaxAttempts: maxAttempts,
	}
}

type scanRequest struct {
	Image string `json:"image"`
}

// Parse implements Parser.
func (p *HTTPParser) Parse(ctx context.Context, image []byte, mimeType string) ([]RawItem, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	body, err := json.Marshal(scanRequest{
		Image: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}

	bo := p.backOff()
	attempt := 0
	op := func() ([]RawItem, error) {
		attempt++
		items, err := p.do(ctx, body)
		if err == nil {
			return items, nil
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, ErrUnparseable) {
			return nil, backoff.Permanent(err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("ocr request failed")
		return nil, err
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(p.MaxAttempts))
}

func (p *HTTPParser) backOff() backoff.BackOff {
	if p.newBackOff != nil {
		return p.newBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func (p *HTTPParser) do(ctx context.Context, body []byte) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return decodeItems(data)
}

// decodeItems accepts {"items": [...]}, a bare array, or free text with an
// embedded array.
func decodeItems(data []byte) ([]RawItem, error) {
	var env struct {
		Items []RawItem `json:"items"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Items != nil {
		return env.Items, nil
	}
	var bare []RawItem
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}

	text := string(data)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &bare); err == nil {
			return bare, nil
		}
	}
	return nil, ErrUnparseable
}
