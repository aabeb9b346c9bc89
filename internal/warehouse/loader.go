package warehouse

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/resilience"
	"github.com/sells-group/sheetsync/internal/staging"
)

// LoadReport describes a completed load.
type LoadReport struct {
	Table    Table
	Rows     int64
	Object   staging.Object
	Duration time.Duration
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Timeout bounds one Load from staging to row count. Default: 10m.
	Timeout time.Duration
	// BreakerThreshold is the number of consecutive DestinationUnavailable
	// failures after which further loads are rejected. Default: 3.
	BreakerThreshold int
}

// Loader stages a dataset and replace-loads it into a Warehouse.
type Loader struct {
	wh      Warehouse
	stager  staging.Stager
	timeout time.Duration
	breaker *resilience.Breaker

	mu      sync.Mutex
	ensured map[string]bool
}

// NewLoader creates a Loader.
func NewLoader(wh Warehouse, stager staging.Stager, opts LoaderOptions) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 3
	}

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Threshold: opts.BreakerThreshold,
		Cooldown:  opts.Timeout,
		Trips:     func(err error) bool { return KindOf(err) == DestinationUnavailable },
		OnStateChange: func(from, to resilience.BreakerState) {
			zap.L().Warn("warehouse breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Loader{
		wh:      wh,
		stager:  stager,
		timeout: opts.Timeout,
		breaker: breaker,
		ensured: make(map[string]bool),
	}
}

// Load stages ds, ensures the unit's namespace exists, replaces the unit's
// table with the staged data, and reads back the row count. Failures are
// returned as *LoadError.
func (l *Loader) Load(ctx context.Context, ds model.Dataset, unit model.WorkUnit) (LoadReport, error) {
	t := Table{Namespace: unit.Namespace, Name: unit.Table}
	start := time.Now()

	if ds.Len() == 0 {
		return LoadReport{}, &LoadError{Kind: StagingFailure, Table: t.String(), Err: eris.New("empty dataset")}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	report, err := resilience.Guard(ctx, l.breaker, func(ctx context.Context) (LoadReport, error) {
		return l.load(ctx, ds, t)
	})
	if errors.Is(err, resilience.ErrBreakerOpen) {
		return LoadReport{}, &LoadError{Kind: DestinationUnavailable, Table: t.String(), Err: err}
	}
	if err != nil {
		return LoadReport{}, err
	}

	report.Duration = time.Since(start)
	zap.L().Info("loaded table",
		zap.String("component", "warehouse"),
		zap.String("table", t.String()),
		zap.Int64("rows", report.Rows),
		zap.String("object", report.Object.URI),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (l *Loader) load(ctx context.Context, ds model.Dataset, t Table) (LoadReport, error) {
	obj, err := l.stager.Stage(ctx, t.Name, ds)
	if err != nil {
		return LoadReport{}, fail(ctx, StagingFailure, t, err)
	}

	if err := l.ensure(ctx, t.Namespace); err != nil {
		return LoadReport{}, fail(ctx, DestinationUnavailable, t, err)
	}

	if err := l.wh.ReplaceFromStaged(ctx, t, obj, ds.Columns); err != nil {
		return LoadReport{}, fail(ctx, DestinationUnavailable, t, err)
	}

	n, err := l.wh.RowCount(ctx, t)
	if err != nil {
		return LoadReport{}, fail(ctx, DestinationUnavailable, t, err)
	}
	if n != int64(ds.Len()) {
		return LoadReport{}, &LoadError{
			Kind:  RowCountMismatch,
			Table: t.String(),
			Err:   eris.Errorf("staged %d rows, table holds %d", ds.Len(), n),
		}
	}

	return LoadReport{Table: t, Rows: n, Object: obj}, nil
}

// ensure creates the namespace once per Loader.
func (l *Loader) ensure(ctx context.Context, namespace string) error {
	l.mu.Lock()
	done := l.ensured[namespace]
	l.mu.Unlock()
	if done {
		return nil
	}

	if err := l.wh.EnsureNamespace(ctx, namespace); err != nil {
		return err
	}

	l.mu.Lock()
	l.ensured[namespace] = true
	l.mu.Unlock()
	return nil
}

// fail wraps err as a LoadError. A kind already set by the warehouse is
// kept; an expired load deadline always reports LoadTimeout.
func fail(ctx context.Context, kind ErrorKind, t Table, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		kind, err = le.Kind, le.Err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		kind = LoadTimeout
	}
	return &LoadError{Kind: kind, Table: t.String(), Err: err}
}
