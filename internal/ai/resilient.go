package ai

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

type ResilientConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	RequestsPerMin  int
	BreakerFailures int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type resilientEmbedder struct {
	next    IEmbedder
	cfg     ResilientConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewResilientEmbedder bounds every call to next with a timeout, a request
// rate limit and a circuit breaker, and retries transient failures with
// exponential backoff. Malformed responses and rejected requests are not
// retried.
func NewResilientEmbedder(next IEmbedder, cfg ResilientConfig) IEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	r := &resilientEmbedder{next: next, cfg: cfg}
	if cfg.RequestsPerMin > 0 {
		burst := cfg.RequestsPerMin / 10
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMin)/60.0), burst)
	}
	failures := uint32(cfg.BreakerFailures)
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedder:" + next.ModelName(),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// a bad payload says nothing about provider health
			return err == nil || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logutil.GetLogger(context.Background()).Warn("embedder circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return r
}

func (r *resilientEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	attempt := 0
	op := func() ([][]float32, error) {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		res, err := r.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
			return r.next.Embed(callCtx, texts, taskType)
		})
		if err != nil {
			if ctx.Err() != nil || isPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			logutil.GetLogger(ctx).Warn("embed attempt failed",
				zap.Int("attempt", attempt), zap.Int("batch", len(texts)), zap.Error(err))
			return nil, err
		}
		return res.([][]float32), nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval
	vectors, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(r.cfg.MaxRetries+1)),
	)
	if err != nil {
		return nil, appErr.WrapEmbedding(err)
	}
	return vectors, nil
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (r *resilientEmbedder) ModelName() string {
	return r.next.ModelName()
}

func (r *resilientEmbedder) Dimension() int {
	return r.next.Dimension()
}
