package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vietddude/statsync/internal/core/domain"
)

// Config holds remote source settings.
type Config struct {
	BaseURL   string            `yaml:"base_url"`
	Timeout   time.Duration     `yaml:"timeout"`
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
}

// HTTPSource calls a stats-style JSON API: GET {base}/{endpoint}?Param=Value,
// answering {"resultSets":[{"name","headers","rowSet"}]}.
type HTTPSource struct {
	client   *resty.Client
	mu       sync.RWMutex
	required map[string][]string
}

// NewHTTPSource creates a new HTTP source.
func NewHTTPSource(cfg Config) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	client.SetHeaders(cfg.Headers)

	return &HTTPSource{
		client:   client,
		required: make(map[string][]string),
	}
}

// Declare registers an endpoint and the parameters it requires.
func (s *HTTPSource) Declare(endpoint string, params []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.required[endpoint] = slices.Clone(params)
}

// RequiredParams lists the parameters declared for endpoint.
func (s *HTTPSource) RequiredParams(endpoint string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	params, ok := s.required[endpoint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	return slices.Clone(params), nil
}

// Fetch calls endpoint and decodes its result sets.
func (s *HTTPSource) Fetch(
	ctx context.Context,
	endpoint string,
	params map[string]string,
) (*domain.ResultSet, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	if resp.StatusCode() != http.StatusOK {
		body := string(resp.Body())
		if len(body) > 200 {
			body = body[:200]
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode(),
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"), time.Now()),
			Body:       strings.TrimSpace(body),
		}
	}

	rs, err := ParseResultSets(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return rs, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

type envelope struct {
	ResultSets json.RawMessage `json:"resultSets"`
	ResultSet  json.RawMessage `json:"resultSet"`
}

type rawSet struct {
	Name    string          `json:"name"`
	Headers json.RawMessage `json:"headers"`
	RowSet  [][]any         `json:"rowSet"`
}

// ParseResultSets decodes the result-set envelope. Numbers are kept as json.Number.
// A null or empty payload is ErrEmptyResponse.
func ParseResultSets(body []byte) (*domain.ResultSet, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, ErrEmptyResponse
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	raw := env.ResultSets
	if isNull(raw) {
		raw = env.ResultSet
	}
	if isNull(raw) {
		return nil, ErrEmptyResponse
	}

	raw = bytes.TrimSpace(raw)
	var sets []rawSet
	if raw[0] == '[' {
		if err := decodeNumbers(raw, &sets); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	} else {
		var one rawSet
		if err := decodeNumbers(raw, &one); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		sets = []rawSet{one}
	}
	if len(sets) == 0 {
		return nil, ErrEmptyResponse
	}

	rs := &domain.ResultSet{Tables: make([]domain.Table, 0, len(sets))}
	for i, set := range sets {
		columns, err := parseHeaders(set.Headers)
		if err != nil {
			return nil, fmt.Errorf("%w: result set %d: %v", ErrMalformedResponse, i, err)
		}
		for r, row := range set.RowSet {
			if len(row) != len(columns) {
				return nil, fmt.Errorf(
					"%w: %s row %d has %d values for %d headers",
					ErrMalformedResponse, set.Name, r, len(row), len(columns),
				)
			}
		}
		name := set.Name
		if name == "" {
			name = fmt.Sprintf("result%d", i)
		}
		rs.Tables = append(rs.Tables, domain.Table{Name: name, Columns: columns, Rows: set.RowSet})
	}
	return rs, nil
}

// parseHeaders accepts a flat list, or grouped headers whose last group carries
// the column names.
func parseHeaders(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("missing headers")
	}
	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var grouped []struct {
		ColumnNames []string `json:"columnNames"`
	}
	if err := json.Unmarshal(raw, &grouped); err != nil || len(grouped) == 0 {
		return nil, fmt.Errorf("unsupported headers")
	}
	return grouped[len(grouped)-1].ColumnNames, nil
}

func decodeNumbers(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
