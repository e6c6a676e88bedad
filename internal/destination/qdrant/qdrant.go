// Package qdrant implements destination.Destination against a Qdrant-style
// HTTP vector database. There is no maintained Qdrant Go SDK in the
// example corpus, so this talks to Qdrant's REST API directly with
// net/http — the same approach the teacher pack takes for destinations
// that only ship a REST surface (see original_source's weaviate.py, whose
// batch-upsert/delete/search shape this mirrors for a points-based store).
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/syncforge/core/internal/destination"
	"github.com/syncforge/core/internal/synccore"
)

const defaultMaxBatchSize = 200

// Config configures a Destination.
type Config struct {
	BaseURL      string
	APIKey       string
	Client       *http.Client
	MaxBatchSize int
}

// Destination talks to a Qdrant-compatible REST endpoint.
type Destination struct {
	cfg Config
}

// New constructs a Destination, defaulting Client and MaxBatchSize.
func New(cfg Config) *Destination {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	return &Destination{cfg: cfg}
}

func (d *Destination) MaxBatchSize() int { return d.cfg.MaxBatchSize }

type createCollectionRequest struct {
	Vectors struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	} `json:"vectors"`
}

func (d *Destination) EnsureCollection(ctx context.Context, namespace string, vectorDim int, sparse bool) error {
	req := createCollectionRequest{}
	req.Vectors.Size = vectorDim
	req.Vectors.Distance = "Cosine"

	err := d.put(ctx, "/collections/"+url.PathEscape(namespace), req, nil)
	if err != nil {
		return classifyHTTPError(err)
	}
	return nil
}

type upsertPointsRequest struct {
	Points []upsertPoint `json:"points"`
}

type upsertPoint struct {
	ID      string         `json:"id"`
	Vector  any            `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (d *Destination) BulkUpsert(ctx context.Context, namespace string, points []destination.Point) error {
	req := upsertPointsRequest{Points: make([]upsertPoint, 0, len(points))}
	for _, p := range points {
		var vec any = p.Vector
		if len(p.SparseVector) > 0 {
			vec = map[string]any{"dense": p.Vector, "sparse": p.SparseVector}
		}
		req.Points = append(req.Points, upsertPoint{ID: p.PointID, Vector: vec, Payload: p.Payload})
	}

	if err := d.put(ctx, "/collections/"+url.PathEscape(namespace)+"/points", req, nil); err != nil {
		return classifyHTTPError(err)
	}
	return nil
}

type deletePointsRequest struct {
	Points []string `json:"points"`
}

func (d *Destination) BulkDelete(ctx context.Context, namespace string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	req := deletePointsRequest{Points: pointIDs}
	if err := d.post(ctx, "/collections/"+url.PathEscape(namespace)+"/points/delete", req, nil); err != nil {
		return classifyHTTPError(err)
	}
	return nil
}

type searchRequest struct {
	Vector      []float32      `json:"vector,omitempty"`
	Filter      map[string]any `json:"filter,omitempty"`
	Limit       int            `json:"limit"`
	Offset      int            `json:"offset,omitempty"`
	ScoreThreshold *float64    `json:"score_threshold,omitempty"`
}

type searchResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search issues a single dense-vector query; query.SparseVector is not
// sent. Qdrant's REST surface does not expose native RRF fusion, so any
// fusion happens client-side: the executor's vector_search operation
// fuses the dense results of its expanded queries with RRF, and issues no
// separate sparse query.
func (d *Destination) Search(ctx context.Context, query destination.SearchQuery) ([]destination.SearchResult, error) {
	req := searchRequest{
		Vector:         query.Vector,
		Filter:         query.Filter,
		Limit:          query.Limit,
		Offset:         query.Offset,
		ScoreThreshold: query.ScoreThreshold,
	}

	var resp searchResponse
	if err := d.post(ctx, "/collections/"+url.PathEscape(query.Namespace)+"/points/search", req, &resp); err != nil {
		return nil, classifyHTTPError(err)
	}

	results := make([]destination.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, destination.SearchResult{PointID: r.ID, Score: r.Score, Payload: r.Payload})
	}
	return results, nil
}

func (d *Destination) put(ctx context.Context, path string, body, out any) error {
	return d.do(ctx, http.MethodPut, path, body, out)
}

func (d *Destination) post(ctx context.Context, path string, body, out any) error {
	return d.do(ctx, http.MethodPost, path, body, out)
}

func (d *Destination) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		req.Header.Set("api-key", d.cfg.APIKey)
	}

	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpStatusError{StatusCode: resp.StatusCode}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type httpStatusError struct{ StatusCode int }

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("qdrant responded with status %d", e.StatusCode)
}

func classifyHTTPError(err error) error {
	var statusErr *httpStatusError
	if se, ok := err.(*httpStatusError); ok {
		statusErr = se
	}
	if statusErr != nil && statusErr.StatusCode >= 500 {
		return &synccore.DestinationTransientError{Cause: err}
	}
	if statusErr != nil && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
		return &synccore.DestinationFatalError{Cause: err}
	}
	if statusErr != nil {
		return &synccore.DestinationFatalError{Cause: err}
	}
	return &synccore.DestinationTransientError{Cause: err}
}
