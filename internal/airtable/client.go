// Package airtable is a small client for the Airtable REST API, the tabular
// store holding structures, batch settings, prompts and history.
package airtable

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/anatomie/orchestrator/internal/upstream"
)

// ServiceName identifies the store in errors, logs and spans.
const ServiceName = "airtable"

const (
	// DefaultBaseURL is the public Airtable API root.
	DefaultBaseURL = "https://api.airtable.com/v0"
	// MaxBatchSize is the most records Airtable accepts per create call.
	MaxBatchSize = 10
)

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("airtable: no API key configured")

// Config locates one Airtable base.
type Config struct {
	BaseURL string
	BaseID  string
	APIKey  string
	Timeout time.Duration
}

// Record is an Airtable record envelope.
type Record struct {
	ID          string         `json:"id,omitempty"`
	Fields      map[string]any `json:"fields"`
	CreatedTime string         `json:"createdTime,omitempty"`
}

type recordList struct {
	Records []Record `json:"records"`
}

// Client reads and writes records in one base.
type Client struct {
	http    *upstream.Client
	baseID  string
	apiKey  string
	timeout time.Duration
}

// NewClient creates a client. An empty cfg.BaseURL uses DefaultBaseURL.
func NewClient(cfg Config, opts ...upstream.Option) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	opts = append([]upstream.Option{upstream.WithBearerToken(cfg.APIKey)}, opts...)
	return &Client{
		http:    upstream.New(ServiceName, base, opts...),
		baseID:  cfg.BaseID,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

func (c *Client) tablePath(table string) string {
	return "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(table)
}

// ListRecords returns up to maxRecords records of table (all when
// maxRecords <= 0, first page only).
func (c *Client) ListRecords(ctx context.Context, table string, maxRecords int) ([]Record, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var q url.Values
	if maxRecords > 0 {
		q = url.Values{"maxRecords": {strconv.Itoa(maxRecords)}}
	}
	var list recordList
	if err := c.http.Do(ctx, http.MethodGet, c.tablePath(table), q, nil, &list, c.timeout); err != nil {
		return nil, err
	}
	return list.Records, nil
}

// UpdateRecord patches fields of record id in table.
func (c *Client) UpdateRecord(ctx context.Context, table, id string, fields map[string]any) (*Record, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var rec Record
	path := c.tablePath(table) + "/" + url.PathEscape(id)
	if err := c.http.Do(ctx, http.MethodPatch, path, nil, Record{Fields: fields}, &rec, c.timeout); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRecords creates at most MaxBatchSize records in one call and returns
// them with their assigned ids, in request order.
func (c *Client) CreateRecords(ctx context.Context, table string, records []Record) ([]Record, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if len(records) > MaxBatchSize {
		return nil, fmt.Errorf("airtable: %d records exceeds batch limit of %d", len(records), MaxBatchSize)
	}
	if len(records) == 0 {
		return nil, nil
	}

	in := recordList{Records: make([]Record, len(records))}
	for i, r := range records {
		in.Records[i] = Record{Fields: r.Fields}
	}
	var out recordList
	if err := c.http.Do(ctx, http.MethodPost, c.tablePath(table), nil, in, &out, c.timeout); err != nil {
		return nil, err
	}
	return out.Records, nil
}
