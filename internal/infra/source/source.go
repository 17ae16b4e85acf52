package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
)

var (
	// ErrEmptyResponse means the remote answered but carried no data
	ErrEmptyResponse = errors.New("empty response")

	// ErrMalformedResponse means the payload could not be decoded into result sets
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnknownEndpoint is returned when an endpoint has not been declared
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// HTTPError is a non-success HTTP status from the remote source.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Source is the remote statistics source.
type Source interface {
	// Fetch calls one endpoint with named parameters
	Fetch(ctx context.Context, endpoint string, params map[string]string) (*domain.ResultSet, error)

	// RequiredParams lists the parameter names an endpoint needs
	RequiredParams(endpoint string) ([]string, error)
}

// Fetcher is a callable bound to one data source.
type Fetcher interface {
	Fetch(ctx context.Context, params map[string]string) (*domain.ResultSet, error)
}

// ParamDescriber is implemented by fetchers that can report their required parameters.
type ParamDescriber interface {
	RequiredParams() ([]string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, params map[string]string) (*domain.ResultSet, error)

func (f FetcherFunc) Fetch(ctx context.Context, params map[string]string) (*domain.ResultSet, error) {
	return f(ctx, params)
}

// Bind returns a Fetcher calling endpoint on src.
func Bind(src Source, endpoint string) Fetcher {
	return &boundFetcher{src: src, endpoint: endpoint}
}

type boundFetcher struct {
	src      Source
	endpoint string
}

func (b *boundFetcher) Fetch(ctx context.Context, params map[string]string) (*domain.ResultSet, error) {
	return b.src.Fetch(ctx, b.endpoint, params)
}

func (b *boundFetcher) RequiredParams() ([]string, error) {
	return b.src.RequiredParams(b.endpoint)
}
