package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/resilience"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindFatal covers malformed selectors, missing credentials, and any
	// failure that will not change on retry.
	KindFatal Kind = iota
	// KindNotFound means the document or worksheet does not exist.
	KindNotFound
	// KindRateLimited means the remote quota was exceeded.
	KindRateLimited
	// KindTransient covers 5xx responses, timeouts, and dropped connections.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// FetchError is the error returned by every SourceFetcher.
type FetchError struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("fetcher: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("fetcher: %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a fetch error. Errors that are not FetchErrors
// are classified from their shape.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return classify(err)
}

// Retryable reports whether a failed attempt may be retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// StatusError is returned by the HTTP downloader for non-200 responses.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

func wrap(source string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Source == "" {
			fe.Source = source
		}
		return fe
	}
	return &FetchError{Kind: classify(err), Source: source, Err: err}
}

func classify(err error) Kind {
	if code, ok := resilience.HTTPStatus(err); ok {
		return kindForStatus(code)
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return kindForStatus(serr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) || resilience.IsTransient(err) {
		return KindTransient
	}
	return KindFatal
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return KindTransient
	default:
		// 400 is a malformed range; 401 and 403 need new credentials.
		return KindFatal
	}
}

func errSheetNotFound(name string) error {
	return &FetchError{Kind: KindFatal, Err: eris.Errorf("worksheet %q not found", name)}
}

func errUnsupportedProtocol(p model.Protocol) error {
	return eris.Errorf("unsupported protocol %q", p)
}
