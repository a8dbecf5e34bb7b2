package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/socket-chess-server/pkg/domain"
)

// Supabase upserts records through the PostgREST endpoint of a Supabase project.
type Supabase struct {
	baseURL    string
	serviceKey string
	table      string
	http       *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type SupabaseOption func(*Supabase)

func WithSupabaseTimeout(d time.Duration) SupabaseOption {
	return func(s *Supabase) { s.defaultTimeout = d }
}

func WithSupabaseRetry(max int) SupabaseOption {
	return func(s *Supabase) { s.retryMax = max }
}

func WithSupabaseTable(name string) SupabaseOption {
	return func(s *Supabase) { s.table = name }
}

// WithSupabaseDial overrides the dialer; tests route it to an in-memory listener.
func WithSupabaseDial(dial fasthttp.DialFunc) SupabaseOption {
	return func(s *Supabase) { s.http.Dial = dial }
}

func NewSupabase(baseURL, serviceKey string, opts ...SupabaseOption) *Supabase {
	s := &Supabase{
		baseURL:        strings.TrimRight(baseURL, "/"),
		serviceKey:     serviceKey,
		table:          "matches",
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supabase) Name() string { return "supabase" }

// Upsert inserts the row when it is absent and otherwise updates it only
// when the stored version is lower, so stale records from any instance
// leave the row alone.
func (s *Supabase) Upsert(ctx context.Context, rec MatchRecord) error {
	row := supabaseRow{MatchRecord: rec}
	if row.Moves == nil {
		row.Moves = []domain.Move{}
	}
	if rec.Finished() {
		row.PGN = BuildPGN(rec)
	}
	base := "/rest/v1/" + s.table
	if err := s.doJSON(ctx, fasthttp.MethodPost, base+"?on_conflict=id", preferInsertOnly, []supabaseRow{row}); err != nil {
		return fmt.Errorf("insert %s: %w", rec.MatchID, err)
	}
	q := url.Values{}
	q.Set("id", "eq."+rec.MatchID)
	q.Set("version", "lt."+strconv.FormatInt(rec.Version, 10))
	if err := s.doJSON(ctx, fasthttp.MethodPatch, base+"?"+q.Encode(), preferMinimal, row); err != nil {
		return fmt.Errorf("update %s: %w", rec.MatchID, err)
	}
	return nil
}

func (s *Supabase) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

const (
	preferInsertOnly = "resolution=ignore-duplicates,return=minimal"
	preferMinimal    = "return=minimal"
)

type supabaseRow struct {
	MatchRecord
	PGN string `json:"pgn"`
}

func (s *Supabase) doJSON(ctx context.Context, method, path, prefer string, in any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(s.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Prefer", prefer)

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := s.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.http.DoDeadline(req, resp, s.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("supabase error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (s *Supabase) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(s.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
