package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gopherai-rag/internal/config"
)

// RetryPolicy bounds every provider call: each attempt gets Timeout, and
// failed attempts back off exponentially up to MaxRetries extra tries.
type RetryPolicy struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func PolicyFromConfig(cfg config.LLMConfig) RetryPolicy {
	return RetryPolicy{
		Timeout:         cfg.Timeout(),
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: time.Duration(cfg.BackoffInitialMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (p RetryPolicy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}

// classify turns client errors into permanent failures so they are not retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEmptyInput) {
		return backoff.Permanent(err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
	}
	return err
}

var errStreamIdle = errors.New("no stream delta within timeout")

func unavailable(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, ErrEmptyInput) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
}

type ResilientEmbedder struct {
	next    Embedder
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewResilientEmbedder wraps next with retries. requestsPerSecond <= 0
// disables rate limiting.
func NewResilientEmbedder(next Embedder, policy RetryPolicy, requestsPerSecond float64, logger *zap.Logger) *ResilientEmbedder {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientEmbedder{next: next, policy: policy, limiter: limiter, logger: logger}
}

func (e *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	op := func() error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		attemptCtx, cancel := e.policy.attemptContext(ctx)
		defer cancel()

		v, err := e.next.Embed(attemptCtx, text)
		if err != nil {
			return classify(err)
		}
		vec = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("embedding attempt failed, retrying", zap.Duration("backoff", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, e.policy.backOff(ctx), notify); err != nil {
		return nil, unavailable(ctx, "embed", err)
	}
	return vec, nil
}

type ResilientChat struct {
	next   ChatCompleter
	policy RetryPolicy
	logger *zap.Logger
}

func NewResilientChat(next ChatCompleter, policy RetryPolicy, logger *zap.Logger) *ResilientChat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientChat{next: next, policy: policy, logger: logger}
}

func (c *ResilientChat) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	var reply string
	op := func() error {
		attemptCtx, cancel := c.policy.attemptContext(ctx)
		defer cancel()

		r, err := c.next.Complete(attemptCtx, messages)
		if err != nil {
			return classify(err)
		}
		reply = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("chat attempt failed, retrying", zap.Duration("backoff", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, c.policy.backOff(ctx), notify); err != nil {
		return "", unavailable(ctx, "chat", err)
	}
	return reply, nil
}

// StreamComplete retries only while nothing has been delivered to onChunk.
// Once a delta is out, a failure ends the stream with what was sent so far.
// The policy timeout bounds the wait for each delta rather than the whole
// stream, so a provider that stalls is cut off while long replies still finish.
func (c *ResilientChat) StreamComplete(
	ctx context.Context,
	messages []ChatMessage,
	onChunk func(chunk string) error,
) (string, error) {
	var (
		reply     string
		delivered bool
		sinkErr   error
	)
	op := func() error {
		attemptCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		var idle *time.Timer
		if c.policy.Timeout > 0 {
			idle = time.AfterFunc(c.policy.Timeout, func() { cancel(errStreamIdle) })
			defer idle.Stop()
		}

		r, err := c.next.StreamComplete(attemptCtx, messages, func(chunk string) error {
			if idle != nil {
				idle.Reset(c.policy.Timeout)
			}
			delivered = true
			if err := onChunk(chunk); err != nil {
				sinkErr = err
				return err
			}
			return nil
		})
		reply = r
		if err == nil {
			return nil
		}
		if cause := context.Cause(attemptCtx); errors.Is(cause, errStreamIdle) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		if delivered {
			return backoff.Permanent(err)
		}
		return classify(err)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("chat stream failed before first delta, retrying", zap.Duration("backoff", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(op, c.policy.backOff(ctx), notify)
	switch {
	case err == nil:
		return reply, nil
	case sinkErr != nil:
		return reply, sinkErr
	default:
		return reply, unavailable(ctx, "chat stream", err)
	}
}
