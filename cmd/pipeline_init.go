package main

import (
	"context"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
	htransport "google.golang.org/api/transport/http"

	"github.com/sells-group/sheetsync/internal/config"
	"github.com/sells-group/sheetsync/internal/db"
	"github.com/sells-group/sheetsync/internal/fetcher"
	"github.com/sells-group/sheetsync/internal/metrics"
	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/monitoring"
	"github.com/sells-group/sheetsync/internal/pipeline"
	"github.com/sells-group/sheetsync/internal/staging"
	"github.com/sells-group/sheetsync/internal/store"
	"github.com/sells-group/sheetsync/internal/warehouse"
)

// pipelineEnv holds the clients, run log, and pipeline needed by the run
// and serve commands.
type pipelineEnv struct {
	Store     store.Store
	Warehouse warehouse.Warehouse
	Metrics   *metrics.Metrics
	Alerter   *monitoring.Alerter
	Pipeline  *pipeline.Pipeline

	closers []func()
}

// Close releases everything the environment opened, in reverse order.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		pe.closers[i]()
	}
	if pe.Warehouse != nil {
		if err := pe.Warehouse.Close(); err != nil {
			zap.L().Warn("close warehouse", zap.Error(err))
		}
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the configuration for mode and builds the
// pipeline with its fetchers, stager, warehouse, and run log. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &pipelineEnv{
		Metrics: metrics.New(cfg.Metrics.Enabled),
		Alerter: monitoring.NewAlerter(cfg.Alert),
	}

	router, authorize, err := initFetchers(ctx)
	if err != nil {
		return nil, err
	}

	stager, err := initStager(ctx, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	wh, err := initWarehouse(ctx, stager)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Warehouse = wh

	st, err := initStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Store = st
	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	loader := warehouse.NewLoader(env.Warehouse, stager, warehouse.LoaderOptions{
		Timeout:          time.Duration(cfg.Warehouse.LoadTimeoutSecs) * time.Second,
		BreakerThreshold: cfg.Warehouse.BreakerThreshold,
	})

	env.Pipeline = pipeline.New(cfg, pipeline.Deps{
		Fetcher:   router,
		Loader:    loader,
		Store:     st,
		Metrics:   env.Metrics,
		Alerter:   env.Alerter,
		Authorize: authorize,
	})

	zap.L().Info("pipeline initialized",
		zap.String("warehouse", cfg.Warehouse.Driver),
		zap.String("staging", cfg.Staging.Driver),
		zap.String("store", cfg.Store.Driver),
		zap.String("definition", cfg.Definition),
	)
	return env, nil
}

// googleOptions returns the client options shared by every Google client.
func googleOptions() []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Fetch.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Fetch.CredentialsFile))
	}
	return opts
}

// fetchScopes are the read-only scopes the values API and export downloads need.
var fetchScopes = []string{sheets.SpreadsheetsReadonlyScope, drive.DriveReadonlyScope}

// googleCredentials loads the fetch credentials from file, or from the
// application default credentials when file is empty.
func googleCredentials(ctx context.Context, file string) (*google.Credentials, error) {
	if file == "" {
		creds, err := google.FindDefaultCredentials(ctx, fetchScopes...)
		if err != nil {
			return nil, eris.Wrap(err, "find default credentials")
		}
		return creds, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "read credentials file %s", file)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, fetchScopes...) //nolint:staticcheck
	if err != nil {
		return nil, eris.Wrapf(err, "parse credentials file %s", file)
	}
	return creds, nil
}

// authorizer returns a run hook that obtains a token from ts, so a revoked
// or broken credential aborts the run instead of failing every source.
func authorizer(ts oauth2.TokenSource) func(context.Context) error {
	return func(context.Context) error {
		tok, err := ts.Token()
		if err != nil {
			return eris.Wrap(err, "fetch access token")
		}
		if !tok.Valid() {
			return eris.New("fetch access token: token is invalid")
		}
		return nil
	}
}

// initFetchers builds the protocol router (the values API for "values",
// authorized export downloads for "csv" and "xlsx") and the authorization
// hook run at the start of each sync. Both share one token source.
func initFetchers(ctx context.Context) (fetcher.Router, func(context.Context) error, error) {
	creds, err := googleCredentials(ctx, cfg.Fetch.CredentialsFile)
	if err != nil {
		return nil, nil, err
	}

	sheetsOpts := []option.ClientOption{option.WithTokenSource(creds.TokenSource)}
	if cfg.Fetch.SheetsEndpoint != "" {
		sheetsOpts = append(sheetsOpts, option.WithEndpoint(cfg.Fetch.SheetsEndpoint))
	}
	svc, err := sheets.NewService(ctx, sheetsOpts...)
	if err != nil {
		return nil, nil, eris.Wrap(err, "init sheets service")
	}

	client, _, err := htransport.NewClient(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, nil, eris.Wrap(err, "init export client")
	}
	client.Timeout = time.Duration(cfg.Fetch.RequestTimeoutSecs) * time.Second

	dl := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Client: client})
	export := fetcher.NewExportFetcher(dl, cfg.Fetch.ExportBaseURL)

	return fetcher.Router{
		model.ProtocolValues: fetcher.NewSheetsFetcher(svc),
		model.ProtocolCSV:    export,
		model.ProtocolXLSX:   export,
	}, authorizer(creds.TokenSource), nil
}

func initStager(ctx context.Context, env *pipelineEnv) (staging.Stager, error) {
	switch cfg.Staging.Driver {
	case "gcs":
		client, err := storage.NewClient(ctx, googleOptions()...)
		if err != nil {
			return nil, eris.Wrap(err, "init storage client")
		}
		env.closers = append(env.closers, func() { _ = client.Close() })
		return staging.NewGCS(client, cfg.Staging.Bucket, cfg.Staging.Prefix), nil
	case "local":
		local, err := staging.NewLocal(cfg.Staging.Dir, cfg.Staging.Prefix)
		if err != nil {
			return nil, err
		}
		return local, nil
	default:
		return nil, eris.Errorf("unsupported staging driver: %s", cfg.Staging.Driver)
	}
}

func initWarehouse(ctx context.Context, stager staging.Stager) (warehouse.Warehouse, error) {
	switch cfg.Warehouse.Driver {
	case "bigquery":
		client, err := bigquery.NewClient(ctx, cfg.ProjectID, googleOptions()...)
		if err != nil {
			return nil, eris.Wrap(err, "init bigquery client")
		}
		return warehouse.NewBigQuery(client, cfg.Warehouse.Location), nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Warehouse.DatabaseURL, db.PoolConfig{})
		if err != nil {
			return nil, eris.Wrap(err, "connect warehouse")
		}
		return warehouse.NewPostgres(pool, stager, pool.Close), nil
	case "duckdb":
		d, err := warehouse.OpenDuckDB(cfg.Warehouse.DuckDBPath)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, eris.Errorf("unsupported warehouse driver: %s", cfg.Warehouse.Driver)
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	return openStore(ctx, cfg)
}

// openStore opens the run log named by c.Store.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "", "none":
		return store.Nop{}, nil
	case "sqlite":
		st, err := store.NewSQLite(c.StoreURL())
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, c.StoreURL(), db.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}
