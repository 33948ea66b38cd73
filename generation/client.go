// Package generation orchestrates narration rounds against the external
// TTS job: submit, fan-out segment fetch, persist.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/narratekit/narrate/quota"
	"github.com/narratekit/narrate/store"
)

// Saver is the persistence sink for completed rounds. *store.AudioStore
// satisfies it.
type Saver interface {
	Save(contentID string, segments []store.AudioSegment, totalDuration float64) error
}

// Request describes one generation round.
type Request struct {
	ContentID string            `json:"contentId"`
	Provider  string            `json:"provider"`
	VoiceID   string            `json:"voiceId"`
	Language  string            `json:"language"`
	Style     map[string]string `json:"styleParams,omitempty"`
}

// SegmentDescriptor is one segment as announced by the provider, before its
// bytes are fetched.
type SegmentDescriptor struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"durationSeconds"`
	SequenceIndex   int     `json:"sequenceIndex"`
	SourceRef       string  `json:"sourceRef,omitempty"`
}

// Round summarizes a completed generation round.
type Round struct {
	JobID                string
	ContentID            string
	Requested            int
	Fetched              int
	TotalDurationSeconds float64
	Usage                *quota.Usage
}

type submitResponse struct {
	JobID    string              `json:"jobId"`
	Segments []SegmentDescriptor `json:"segments"`
	Usage    *quota.Usage        `json:"usage,omitempty"`
}

type errorResponse struct {
	Error string       `json:"error"`
	Usage *quota.Usage `json:"usage,omitempty"`
}

// ClientConfig holds configuration for the generation client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	FetchRate  rate.Limit // segment fetches per second
	FetchBurst int
}

// DefaultClientConfig returns a sensible default configuration.
func DefaultClientConfig(baseURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		FetchRate:  rate.Limit(8),
		FetchBurst: 4,
	}
}

// Client runs generation rounds. Cancelling a round is idempotent and
// guarantees no partially written cache entry becomes visible.
type Client struct {
	cfg     ClientConfig
	saver   Saver
	limiter *rate.Limiter

	mu     sync.Mutex
	rounds map[string]*roundState
}

type roundState struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

// NewClient creates a generation client that persists completed rounds
// through saver.
func NewClient(cfg ClientConfig, saver Saver) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.FetchRate <= 0 {
		cfg.FetchRate = rate.Limit(8)
	}
	if cfg.FetchBurst <= 0 {
		cfg.FetchBurst = 4
	}
	return &Client{
		cfg:     cfg,
		saver:   saver,
		limiter: rate.NewLimiter(cfg.FetchRate, cfg.FetchBurst),
		rounds:  make(map[string]*roundState),
	}
}

// Generate submits a request, fetches the announced segments concurrently,
// and persists the survivors as one cache entry. A segment whose fetch
// fails is dropped; the round succeeds as long as at least one segment was
// obtained. Survivors are renumbered contiguously before persisting so the
// stored sequence never has gaps.
func (c *Client) Generate(ctx context.Context, req Request) (*Round, error) {
	resp, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info("Generation job accepted",
		"contentID", req.ContentID,
		"jobID", resp.JobID,
		"segments", len(resp.Segments))

	fetchCtx, cancel := context.WithCancel(ctx)
	rs := &roundState{cancel: cancel}
	c.mu.Lock()
	c.rounds[resp.JobID] = rs
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.rounds, resp.JobID)
		c.mu.Unlock()
	}()

	fetched := c.fetchAll(fetchCtx, resp.Segments)

	// A cancelled round must never persist, even if every fetch already
	// finished. The round lock serializes this check against Cancel.
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.cancelled || fetchCtx.Err() != nil {
		return nil, ErrGenerationCancelled
	}

	if len(fetched) == 0 {
		return nil, fmt.Errorf("%w: none of %d segments could be fetched", ErrGenerationFailed, len(resp.Segments))
	}

	sort.Slice(fetched, func(i, j int) bool {
		return fetched[i].SequenceIndex < fetched[j].SequenceIndex
	})
	var total float64
	for i := range fetched {
		fetched[i].SequenceIndex = i
		total += fetched[i].DurationSeconds
	}

	if err := c.saver.Save(req.ContentID, fetched, total); err != nil {
		return nil, fmt.Errorf("failed to persist generation round: %w", err)
	}

	log.Info("Generation round complete",
		"contentID", req.ContentID,
		"jobID", resp.JobID,
		"fetched", len(fetched),
		"requested", len(resp.Segments),
		"duration", total)

	return &Round{
		JobID:                resp.JobID,
		ContentID:            req.ContentID,
		Requested:            len(resp.Segments),
		Fetched:              len(fetched),
		TotalDurationSeconds: total,
		Usage:                resp.Usage,
	}, nil
}

// Cancel stops the round for jobID. It is idempotent: cancelling an
// unknown or already-finished job is a no-op. The provider notification is
// best effort.
func (c *Client) Cancel(ctx context.Context, jobID string) {
	c.mu.Lock()
	rs := c.rounds[jobID]
	c.mu.Unlock()

	if rs != nil {
		rs.mu.Lock()
		already := rs.cancelled
		rs.cancelled = true
		rs.mu.Unlock()
		rs.cancel()
		if already {
			return
		}
	}

	url := fmt.Sprintf("%s/v1/generations/%s/cancel", c.cfg.BaseURL, jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		log.Warn("Failed to build cancellation request", "jobID", jobID, "error", err)
		return
	}
	c.authorize(httpReq)
	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		log.Warn("Failed to notify provider of cancellation", "jobID", jobID, "error", err)
		return
	}
	resp.Body.Close()
	log.Info("Generation cancelled", "jobID", jobID)
}

// Generating reports whether a round for jobID is still in flight.
func (c *Client) Generating(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rounds[jobID]
	return ok
}

func (c *Client) submit(ctx context.Context, req Request) (*submitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Usage != nil {
			return nil, &QuotaError{Usage: *errResp.Usage}
		}
		return nil, &QuotaError{}
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: provider returned %d: %s", ErrGenerationFailed, resp.StatusCode, bytes.TrimSpace(b))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: undecodable provider response: %v", ErrGenerationFailed, err)
	}
	return &out, nil
}

// fetchAll downloads segment bytes concurrently. There is no ordering
// requirement between fetches; the caller re-sorts by sequence index.
func (c *Client) fetchAll(ctx context.Context, descriptors []SegmentDescriptor) []store.AudioSegment {
	var (
		mu      sync.Mutex
		fetched []store.AudioSegment
		wg      sync.WaitGroup
	)

	for _, desc := range descriptors {
		wg.Add(1)
		go func(d SegmentDescriptor) {
			defer wg.Done()

			if err := c.limiter.Wait(ctx); err != nil {
				return
			}

			data, err := c.fetchSegment(ctx, d)
			if err != nil {
				log.Warn("Dropping segment after failed fetch",
					"segmentID", d.ID, "sequence", d.SequenceIndex, "error", err)
				return
			}

			mu.Lock()
			fetched = append(fetched, store.AudioSegment{
				ID:              d.ID,
				SequenceIndex:   d.SequenceIndex,
				SourceRef:       d.SourceRef,
				DurationSeconds: d.DurationSeconds,
				Bytes:           data,
			})
			mu.Unlock()
		}(desc)
	}
	wg.Wait()

	return fetched
}

func (c *Client) fetchSegment(ctx context.Context, d SegmentDescriptor) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segment fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
