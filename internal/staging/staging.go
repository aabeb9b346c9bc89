// Package staging writes merged datasets as newline-delimited JSON objects
// to durable storage ahead of a warehouse load.
package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/model"
)

// Object identifies one staged file.
type Object struct {
	// Name is the object path relative to the store root.
	Name string
	// URI is the fully qualified location, e.g. gs://bucket/name.
	URI   string
	Rows  int
	Bytes int64
}

// Stager writes staged files and reads them back.
type Stager interface {
	Stage(ctx context.Context, table string, ds model.Dataset) (Object, error)
	Open(ctx context.Context, obj Object) (io.ReadCloser, error)
}

// ObjectName returns {prefix}/{table}/{YYYYMMDD_HHMMSS}_{id8}.jsonl. The
// timestamp and random suffix keep concurrent units and retried runs from
// colliding.
func ObjectName(prefix, table string, now time.Time, id uuid.UUID) string {
	name := fmt.Sprintf("%s/%s_%s.jsonl", table, now.UTC().Format("20060102_150405"), id.String()[:8])
	if p := strings.Trim(prefix, "/"); p != "" {
		name = p + "/" + name
	}
	return name
}

// Encode writes one JSON object per record, keys in column order, values
// as strings or null. It returns the number of bytes written.
func Encode(w io.Writer, ds model.Dataset) (int64, error) {
	bw := bufio.NewWriterSize(w, 256<<10)
	cw := &countingWriter{w: bw}

	keys := make([][]byte, len(ds.Columns))
	for i, c := range ds.Columns {
		k, err := json.Marshal(c)
		if err != nil {
			return cw.n, eris.Wrapf(err, "staging: encode column %q", c)
		}
		keys[i] = k
	}

	var line []byte
	for _, r := range ds.Records {
		line = append(line[:0], '{')
		for i, c := range ds.Columns {
			if i > 0 {
				line = append(line, ',')
			}
			line = append(line, keys[i]...)
			line = append(line, ':')
			v, ok := r.Get(c)
			if !ok {
				line = append(line, "null"...)
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				return cw.n, eris.Wrap(err, "staging: encode value")
			}
			line = append(line, b...)
		}
		line = append(line, '}', '\n')
		if _, err := cw.Write(line); err != nil {
			return cw.n, eris.Wrap(err, "staging: write record")
		}
	}

	if err := bw.Flush(); err != nil {
		return cw.n, eris.Wrap(err, "staging: flush")
	}
	return cw.n, nil
}

// Reader reads records written by Encode one at a time.
type Reader struct {
	dec  *json.Decoder
	line int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(r)}
}

// Next returns the next record with nil for null values, or io.EOF when the
// input is exhausted.
func (r *Reader) Next() (map[string]*string, error) {
	r.line++
	var m map[string]*string
	if err := r.dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, eris.Wrapf(err, "staging: decode record %d", r.line)
	}
	return m, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
