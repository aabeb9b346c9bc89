// Package fetcher retrieves spreadsheet sources as rows of text. Fetches run
// under a shared Budget that bounds both in-flight requests and the request
// rate, and are retried with exponential backoff when the failure is
// rate-limit or transient.
package fetcher

import (
	"context"
	"io"

	"github.com/sells-group/sheetsync/internal/model"
)

// Rows is the result of one fetch. The first row is the header. NoData is
// set when the source held at most a header row.
type Rows struct {
	Values [][]string
	NoData bool
}

// Header returns the header row.
func (r Rows) Header() []string {
	if len(r.Values) == 0 {
		return nil
	}
	return r.Values[0]
}

// Data returns the rows after the header.
func (r Rows) Data() [][]string {
	if len(r.Values) <= 1 {
		return nil
	}
	return r.Values[1:]
}

func rowsOf(values [][]string) Rows {
	if len(values) <= 1 {
		return Rows{Values: values, NoData: true}
	}
	return Rows{Values: values}
}

// SourceFetcher retrieves one source. Implementations return *FetchError on
// failure.
type SourceFetcher interface {
	Fetch(ctx context.Context, src model.SourceSpec) (Rows, error)
}

// Downloader fetches a URL and returns the response body.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Router dispatches a source to the fetcher registered for its protocol.
// Sources without a protocol use the values API.
type Router map[model.Protocol]SourceFetcher

// Fetch implements SourceFetcher.
func (r Router) Fetch(ctx context.Context, src model.SourceSpec) (Rows, error) {
	proto := src.Protocol
	if proto == "" {
		proto = model.ProtocolValues
	}
	f, ok := r[proto]
	if !ok {
		return Rows{}, &FetchError{
			Kind:   KindFatal,
			Source: src.String(),
			Err:    errUnsupportedProtocol(proto),
		}
	}
	return f.Fetch(ctx, src)
}
