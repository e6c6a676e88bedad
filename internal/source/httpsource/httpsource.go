// Package httpsource is a reference connector for cursor-paginated REST
// APIs, grounded on the original platform's github.com/trello-style
// sources (cursor == last-seen page token or "since" timestamp). It is an
// example plugin, not part of the core engine, demonstrating the
// source.Connector contract end to end.
package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/source"
	"github.com/syncforge/core/internal/synccore"
)

// Page is what a PageFetcher returns for one page of results.
type Page struct {
	Items      []map[string]any
	NextCursor string
	HasMore    bool
}

// PageFetcher retrieves one page of raw items given the current cursor
// (empty string for the first page). Connectors implement this against
// their specific API; httpsource handles pagination, emission, and
// cancellation around it.
type PageFetcher func(ctx context.Context, client *http.Client, cursor string) (Page, error)

// Config configures a Source instance.
type Config struct {
	Kind      string
	IDField   string
	Fetch     PageFetcher
	Client    *http.Client
	PageDelay time.Duration // optional throttle between page fetches
}

// Source implements source.Connector over a cursor-paginated REST API.
type Source struct {
	cfg Config
}

// New constructs a Source. Panics if cfg.Fetch is nil — a programmer error.
func New(cfg Config) *Source {
	if cfg.Fetch == nil {
		panic("httpsource: Config.Fetch is required")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.IDField == "" {
		cfg.IDField = "id"
	}
	return &Source{cfg: cfg}
}

// Produce walks pages starting at cursor, emitting one entity per item,
// until the fetcher reports no more pages or ctx is cancelled.
func (s *Source) Produce(ctx context.Context, cursor source.Cursor, emit source.EmitFunc) (source.Cursor, error) {
	current := string(cursor)

	for {
		select {
		case <-ctx.Done():
			return source.Cursor(current), ctx.Err()
		default:
		}

		page, err := s.cfg.Fetch(ctx, s.cfg.Client, current)
		if err != nil {
			return source.Cursor(current), classifyFetchError(err)
		}

		for _, item := range page.Items {
			id, ok := item[s.cfg.IDField].(string)
			if !ok || id == "" {
				continue
			}
			e := entity.Entity{
				EntityID:  id,
				Kind:      s.cfg.Kind,
				Payload:   item,
				FetchedAt: time.Now(),
			}
			if err := emit(ctx, e); err != nil {
				return source.Cursor(current), err
			}
		}

		current = page.NextCursor
		if !page.HasMore {
			break
		}

		if s.cfg.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return source.Cursor(current), ctx.Err()
			case <-time.After(s.cfg.PageDelay):
			}
		}
	}

	return source.Cursor(current), nil
}

// Validate fetches the first page once to smoke-test auth/config.
func (s *Source) Validate(ctx context.Context, config map[string]any, auth map[string]any) error {
	_, err := s.cfg.Fetch(ctx, s.cfg.Client, "")
	if err != nil {
		return classifyFetchError(err)
	}
	return nil
}

// classifyFetchError maps a raw HTTP/JSON error into the connector error
// taxonomy the orchestrator understands.
func classifyFetchError(err error) error {
	var statusErr *StatusError
	if as(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return &synccore.SourceAuthError{Cause: err}
		case statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500:
			return &synccore.SourceTransientError{Cause: err}
		default:
			return &synccore.SourceFatalError{Cause: err}
		}
	}
	return &synccore.SourceTransientError{Cause: err}
}

// StatusError is returned by a PageFetcher when the HTTP response carries a
// non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

func as(err error, target **StatusError) bool {
	se, ok := err.(*StatusError)
	if ok {
		*target = se
	}
	return ok
}

// DecodeJSONPage is a helper Fetch implementations can use to turn a JSON
// array response body into a Page.
func DecodeJSONPage(body []byte, nextCursor string, hasMore bool) (Page, error) {
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		return Page{}, fmt.Errorf("decode page body: %w", err)
	}
	return Page{Items: items, NextCursor: nextCursor, HasMore: hasMore}, nil
}
