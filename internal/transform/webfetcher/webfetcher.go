// Package webfetcher fetches a URL referenced by an entity's payload and
// emits the fetched body as a new entity of kind "file", grounded on the
// original platform's web_fetcher stage (original_source's crawler
// transformer, which turns a discovered link into a fetchable document).
// It is re-entrant: the entity it emits has a different Kind than its
// input, so the router must look the new Kind up again rather than
// assuming a transformer's output stays on the same DAG edge.
package webfetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/synccore"
	"github.com/syncforge/core/internal/transform"
)

// FetchedKind is the entity kind emitted for a fetched page, routed back
// through the DAG as a fresh file entity (so it can feed filechunker
// like any other file).
const FetchedKind = "file"

// Config configures a Transformer.
type Config struct {
	Client  *http.Client
	Timeout time.Duration
	// URLField is the Payload key holding the URL to fetch.
	URLField string
}

// DefaultConfig matches the orchestrator's default external-call timeout.
func DefaultConfig() Config {
	return Config{Timeout: 60 * time.Second, URLField: "url"}
}

// Transformer fetches in.Payload[URLField] and emits the body as a new
// FetchedKind entity.
type Transformer struct {
	cfg Config
}

// New builds a Transformer from a registry config map (key "url_field",
// optional). It uses its own HTTP client whose timeout is Config.Timeout.
func New(config map[string]any) (transform.Transformer, error) {
	cfg := DefaultConfig()
	if v, ok := config["url_field"].(string); ok && v != "" {
		cfg.URLField = v
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Transformer{cfg: cfg}, nil
}

// Transform fetches the referenced URL and emits the page body as a new
// entity with EntityID "{parent}#fetched".
func (t *Transformer) Transform(ctx context.Context, in entity.Entity, emit transform.EmitFunc) error {
	rawURL, ok := in.Payload[t.cfg.URLField].(string)
	if !ok || rawURL == "" {
		return &synccore.TransformerError{Transformer: "webfetcher", EntityID: in.EntityID, Cause: fmt.Errorf("payload field %q missing or not a string", t.cfg.URLField)}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &synccore.TransformerError{Transformer: "webfetcher", EntityID: in.EntityID, Cause: err}
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return classifyFetchError(in.EntityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &synccore.TransformerError{Transformer: "webfetcher", EntityID: in.EntityID, Cause: fmt.Errorf("transient fetch failure: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return &synccore.TransformerError{Transformer: "webfetcher", EntityID: in.EntityID, Cause: fmt.Errorf("fetch failed: status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &synccore.TransformerError{Transformer: "webfetcher", EntityID: in.EntityID, Cause: err}
	}

	fetched := entity.Entity{
		EntityID:       in.EntityID + "#fetched",
		ParentEntityID: in.EntityID,
		Kind:           FetchedKind,
		Payload: map[string]any{
			"path":    rawURL,
			"content": string(body),
		},
		EmbeddableText: string(body),
		Breadcrumbs:    append(append([]entity.Breadcrumb(nil), in.Breadcrumbs...), entity.Breadcrumb{ID: in.EntityID, Name: rawURL, Kind: in.Kind}),
		Metadata:       in.Metadata,
		FetchedAt:      time.Now(),
	}

	return emit(ctx, fetched)
}

func classifyFetchError(entityID string, err error) error {
	return &synccore.TransformerError{Transformer: "webfetcher", EntityID: entityID, Cause: err}
}
