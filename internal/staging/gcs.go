package staging

import (
	"context"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/model"
)

// GCS stages files in a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewGCS creates a GCS stager writing to bucket under prefix.
func NewGCS(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Stage implements Stager. The object becomes visible only when the writer
// closes successfully.
func (g *GCS) Stage(ctx context.Context, table string, ds model.Dataset) (Object, error) {
	name := ObjectName(g.prefix, table, g.now(), uuid.New())
	obj := Object{Name: name, URI: "gs://" + g.bucket + "/" + name, Rows: ds.Len()}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	n, err := Encode(w, ds)
	if err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		_ = w.Close()
		return Object{}, err
	}
	if err := w.Close(); err != nil {
		return Object{}, eris.Wrapf(err, "staging: upload %s", obj.URI)
	}

	obj.Bytes = n
	return obj, nil
}

// Open implements Stager.
func (g *GCS) Open(ctx context.Context, obj Object) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucket).Object(obj.Name).NewReader(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "staging: open %s", obj.URI)
	}
	return r, nil
}

// Bucket returns the bucket name.
func (g *GCS) Bucket() string { return g.bucket }
