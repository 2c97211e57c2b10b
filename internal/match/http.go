package match

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tunetable/internal/config"
	"tunetable/internal/nowplaying"
)

// ErrNoEndpoint is returned when no fingerprint service is configured.
var ErrNoEndpoint = errors.New("no match endpoint configured")

const (
	maxResponseBytes = 1 << 20
	wavBitDepth      = 16
)

// HTTPMatcher posts each frame as a WAV file to a fingerprint service and
// decodes a JSON answer:
//
//	{"status": "found", "match": {"id": "...", "title": "...", "artist": "...",
//	 "artwork_url": "...", "offset_ms": 61230}}
//	{"status": "not_found"}
type HTTPMatcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPMatcher returns a matcher for cfg. A nil client uses one without
// a timeout; per-request deadlines come from the context.
func NewHTTPMatcher(cfg config.MatchConfig, client *http.Client) *HTTPMatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPMatcher{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
	}
}

type matchResponse struct {
	Status string `json:"status"`
	Match  *struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		Artist     string `json:"artist"`
		ArtworkURL string `json:"artwork_url"`
		Artwork    string `json:"artwork"` // Opaque handle, used when there is no URL
		OffsetMS   int64  `json:"offset_ms"`
	} `json:"match"`
	Error string `json:"error"`
}

// Match implements Matcher.
func (m *HTTPMatcher) Match(ctx context.Context, req Request) (*Candidate, error) {
	if m.endpoint == "" {
		return nil, ErrNoEndpoint
	}

	body, err := EncodeWAV(req.Frame, wavBitDepth)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "audio/wav")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", req.ID.String())
	httpReq.Header.Set("X-Capture-Time-Ms", strconv.FormatInt(req.Time.Milliseconds(), 10))
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call match service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read match response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("match service returned status %d", resp.StatusCode)
	}

	var result matchResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse match response: %w", err)
	}

	switch result.Status {
	case "found":
		if result.Match == nil || result.Match.ID == "" {
			return nil, errors.New("match response is missing the match id")
		}
		return &Candidate{
			ID:     result.Match.ID,
			Title:  result.Match.Title,
			Artist: result.Match.Artist,
			Artwork: nowplaying.Artwork{
				URL:    result.Match.ArtworkURL,
				Handle: result.Match.Artwork,
			},
			Offset: time.Duration(result.Match.OffsetMS) * time.Millisecond,
		}, nil
	case "not_found":
		return nil, nil
	case "error":
		return nil, fmt.Errorf("match service error: %s", result.Error)
	default:
		return nil, fmt.Errorf("unknown match status %q", result.Status)
	}
}
