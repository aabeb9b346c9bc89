package warehouse

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"

	"github.com/sells-group/sheetsync/internal/staging"
)

// BigQuery loads staged Cloud Storage objects into BigQuery datasets.
type BigQuery struct {
	client   *bigquery.Client
	location string
}

// NewBigQuery creates a BigQuery warehouse. New datasets are created in
// location regardless of where the caller runs.
func NewBigQuery(client *bigquery.Client, location string) *BigQuery {
	return &BigQuery{client: client, location: location}
}

// EnsureNamespace implements Warehouse. A dataset created concurrently by
// another unit or run is accepted.
func (b *BigQuery) EnsureNamespace(ctx context.Context, namespace string) error {
	ds := b.client.Dataset(namespace)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !hasStatus(err, http.StatusNotFound) {
		return eris.Wrapf(err, "warehouse: get dataset %s", namespace)
	}

	err = ds.Create(ctx, &bigquery.DatasetMetadata{Location: b.location})
	if err != nil && !hasStatus(err, http.StatusConflict) {
		return eris.Wrapf(err, "warehouse: create dataset %s in %s", namespace, b.location)
	}
	return nil
}

// ReplaceFromStaged implements Warehouse with a WRITE_TRUNCATE load job.
func (b *BigQuery) ReplaceFromStaged(ctx context.Context, t Table, obj staging.Object, columns []string) error {
	if !strings.HasPrefix(obj.URI, "gs://") {
		return &LoadError{Kind: StagingFailure, Err: eris.Errorf("bigquery requires gcs staging, got %s", obj.URI)}
	}

	ref := bigquery.NewGCSReference(obj.URI)
	ref.SourceFormat = bigquery.JSON
	ref.Schema = stringSchema(columns)

	loader := b.client.Dataset(t.Namespace).Table(t.Name).LoaderFrom(ref)
	loader.WriteDisposition = bigquery.WriteTruncate
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.Location = b.location

	job, err := loader.Run(ctx)
	if err != nil {
		return classifyBigQuery(eris.Wrapf(err, "warehouse: start load job for %s", t))
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return classifyBigQuery(eris.Wrapf(err, "warehouse: wait for load job %s", job.ID()))
	}
	if err := status.Err(); err != nil {
		return classifyBigQuery(eris.Wrapf(err, "warehouse: load job %s", job.ID()))
	}
	return nil
}

// RowCount implements Warehouse.
func (b *BigQuery) RowCount(ctx context.Context, t Table) (int64, error) {
	md, err := b.client.Dataset(t.Namespace).Table(t.Name).Metadata(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "warehouse: get table %s", t)
	}
	return int64(md.NumRows), nil
}

// Close implements Warehouse.
func (b *BigQuery) Close() error {
	return b.client.Close()
}

func stringSchema(columns []string) bigquery.Schema {
	schema := make(bigquery.Schema, len(columns))
	for i, c := range columns {
		schema[i] = &bigquery.FieldSchema{Name: c, Type: bigquery.StringFieldType}
	}
	return schema
}

func hasStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

// classifyBigQuery marks job errors that reject the table definition, such
// as invalid field names, as schema conflicts.
func classifyBigQuery(err error) error {
	var jobErr *bigquery.Error
	if errors.As(err, &jobErr) && jobErr.Reason == "invalid" {
		return schemaConflict(err)
	}
	if hasStatus(err, http.StatusBadRequest) {
		return schemaConflict(err)
	}
	return err
}
