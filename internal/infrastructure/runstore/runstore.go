package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/booksage/bookbuy-agent/internal/core/errx"
	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
)

const (
	keyPrefix     = "bookbuy:run:"
	redactedToken = "***"
)

// ErrDisabled is returned by the no-op store when a run is looked up.
var ErrDisabled = errors.New("run persistence is disabled")

// Connect parses a redis:// URL, applies client timeouts and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisStore keeps finished run traces as JSON strings with an expiry.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

var _ repository.RunRepository = (*RedisStore)(nil)

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func key(runID string) string {
	return keyPrefix + runID
}

func (s *RedisStore) SaveRun(ctx context.Context, run *model.AgentResult) error {
	if run == nil || run.RunID == "" {
		return errx.BadRequest(errors.New("missing run id"), "run id is required")
	}

	b, err := json.Marshal(redact(run))
	if err != nil {
		return errx.New(err, http.StatusInternalServerError, errx.SystemErrorMessage)
	}

	if err := s.rdb.Set(ctx, key(run.RunID), b, s.ttl).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

// redact returns a copy of run whose buy prompts carry no payment token.
// The caller's result is left untouched.
func redact(run *model.AgentResult) *model.AgentResult {
	out := *run
	out.Steps = make([]model.AttemptStep, len(run.Steps))
	for i, step := range run.Steps {
		if step.Module == model.ToolBuyBook {
			step.Prompt = redactPrompt(step.Prompt)
		}
		out.Steps[i] = step
	}
	return &out
}

func redactPrompt(prompt json.RawMessage) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(prompt, &fields); err != nil {
		return prompt
	}
	if _, ok := fields["payment_token"]; !ok {
		return prompt
	}
	fields["payment_token"], _ = json.Marshal(redactedToken)
	b, err := json.Marshal(fields)
	if err != nil {
		return prompt
	}
	return b
}

func (s *RedisStore) GetRun(ctx context.Context, runID string) (*model.AgentResult, error) {
	b, err := s.rdb.Get(ctx, key(runID)).Bytes()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}

	var run model.AgentResult
	if err := json.Unmarshal(b, &run); err != nil {
		return nil, errx.New(err, http.StatusInternalServerError, errx.SystemErrorMessage)
	}
	return &run, nil
}

// Noop discards runs; lookups report 404.
type Noop struct{}

var _ repository.RunRepository = Noop{}

func (Noop) SaveRun(context.Context, *model.AgentResult) error { return nil }

func (Noop) GetRun(context.Context, string) (*model.AgentResult, error) {
	return nil, errx.New(ErrDisabled, http.StatusNotFound, errx.RedisNotFoundMessage)
}
