package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/source"
)

// Messages that mark a failure as worth retrying.
var transientIndicators = []string{
	"rate limit",
	"too many requests",
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"unexpected eof",
}

// Classify decides whether a failed call is worth retrying. The returned
// duration is a server-provided minimum wait, zero when none was given.
// Anything not recognized as transient is permanent.
func Classify(err error) (domain.Classification, time.Duration) {
	if err == nil {
		return "", 0
	}

	switch {
	case errors.Is(err, ErrInvalidParams),
		errors.Is(err, source.ErrEmptyResponse),
		errors.Is(err, source.ErrMalformedResponse),
		errors.Is(err, source.ErrUnknownEndpoint):
		return domain.ClassPermanent, 0
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return domain.ClassTransient, 0
	}

	var httpErr *source.HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode), httpErr.RetryAfter
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return classifyCode(st.Code()), retryDelay(st)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ClassTransient, 0
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.ClassTransient, 0
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientIndicators {
		if strings.Contains(msg, s) {
			return domain.ClassTransient, 0
		}
	}
	return domain.ClassPermanent, 0
}

func classifyStatus(code int) domain.Classification {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return domain.ClassTransient
	}
	return domain.ClassPermanent
}

func classifyCode(code codes.Code) domain.Classification {
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return domain.ClassTransient
	}
	return domain.ClassPermanent
}

// retryDelay reads a RetryInfo detail from a gRPC status.
func retryDelay(st *status.Status) time.Duration {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
			return info.GetRetryDelay().AsDuration()
		}
	}
	return 0
}
