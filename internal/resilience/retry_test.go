package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/googleapi"
)

// fetchPolicy mirrors the source fetch policy with millisecond delays.
func fetchPolicy(attempts int) RetryConfig {
	return FromRetryConfig(attempts, 1, 2, 0)
}

// flakySheet fails with err for the first n calls.
type flakySheet struct {
	calls int
	n     int
	err   error
}

func (f *flakySheet) get(context.Context) ([][]string, error) {
	f.calls++
	if f.calls <= f.n {
		return nil, f.err
	}
	return [][]string{{"Name"}, {"Ada"}}, nil
}

func TestDoVal_FetchAttemptBoundary(t *testing.T) {
	quota := &googleapi.Error{Code: http.StatusTooManyRequests, Message: "Quota exceeded"}

	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, false, 1},
		{"four failures then rows", 4, false, 5},
		{"five failures exhaust the policy", 5, true, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sheet := &flakySheet{n: tt.failures, err: quota}

			rows, err := DoVal(context.Background(), fetchPolicy(5), sheet.get)
			assert.Equal(t, tt.wantCalls, sheet.calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, rows)
				assert.ErrorIs(t, err, quota)
				return
			}
			require.NoError(t, err)
			assert.Len(t, rows, 2)
		})
	}
}

func TestDoVal_PermanentErrorsAreNotRetried(t *testing.T) {
	for _, err := range []error{
		&googleapi.Error{Code: http.StatusNotFound},
		&googleapi.Error{Code: http.StatusBadRequest, Message: "Unable to parse range: Team!A1:"},
		errors.New("worksheet not found"),
	} {
		sheet := &flakySheet{n: 10, err: err}
		_, got := DoVal(context.Background(), fetchPolicy(5), sheet.get)
		assert.ErrorIs(t, got, err)
		assert.Equal(t, 1, sheet.calls, "%v", err)
	}
}

func TestDo_ShouldRetryOverridesDefault(t *testing.T) {
	errQuota := errors.New("rate limited")
	cfg := fetchPolicy(3)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, errQuota) }

	sheet := &flakySheet{n: 2, err: errQuota}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		_, err := sheet.get(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sheet.calls)
}

func TestDo_CancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := FromRetryConfig(5, 10_000, 10_000, 0)

	calls := 0
	start := time.Now()
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("backend error"), http.StatusServiceUnavailable)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second, "cancel must not wait out the backoff")
}

func TestDo_OnRetryNumbersAttempts(t *testing.T) {
	var seen []int
	cfg := fetchPolicy(3)
	cfg.OnRetry = func(attempt int, _ error) { seen = append(seen, attempt) }

	_ = Do(context.Background(), cfg, func(context.Context) error {
		return NewTransientError(errors.New("webhook 502"), http.StatusBadGateway)
	})
	assert.Equal(t, []int{1, 2}, seen, "no callback after the final attempt")
}

func TestDo_ZeroConfigUsesDefaults(t *testing.T) {
	calls := 0
	require.NoError(t, Do(context.Background(), RetryConfig{}, func(context.Context) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, applyDefaults(RetryConfig{}).MaxAttempts)
}

func TestComputeBackoff(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second})

	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for attempt, ms := range want {
		assert.Equal(t, ms*time.Millisecond, computeBackoff(attempt, cfg), "attempt %d", attempt)
	}
}

func TestComputeBackoff_JitterIsAdditive(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		MaxJitter:      500 * time.Millisecond,
	})

	seen := make(map[time.Duration]bool)
	for range 100 {
		d := computeBackoff(1, cfg)
		seen[d] = true
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 2500*time.Millisecond)
	}
	assert.Greater(t, len(seen), 1)
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(7, 250, 4000, 0)
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 4*time.Second, cfg.MaxBackoff)
	assert.Zero(t, cfg.MaxJitter)

	def := FromRetryConfig(0, 0, 0, -1)
	assert.Equal(t, 5, def.MaxAttempts)
	assert.Equal(t, time.Second, def.InitialBackoff)
	assert.Equal(t, time.Second, def.MaxJitter)
}

func TestRetryLogger(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	RetryLogger("sheets", "values.get")(2, errors.New("quota"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "retrying operation", entry.Message)
	assert.Equal(t, "sheets", entry.ContextMap()["service"])
	assert.Equal(t, "values.get", entry.ContextMap()["operation"])
	assert.Equal(t, int64(2), entry.ContextMap()["attempt"])
}
