// Package asynqueue backs the task queue with asynq over Redis. Each
// pagination step is one asynq task; rate-limit backoffs become ProcessIn
// delays so no worker slot is held while a provider throttles us.
package asynqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

// Config holds Redis connection and worker parameters
type Config struct {
	Host        string
	Port        int
	Password    string
	DB          int
	Concurrency int
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.Addr(),
		Password: c.Password,
		DB:       c.DB,
	}
}

// Client enqueues tasks
type Client struct {
	client *asynq.Client
}

var _ interfaces.Queue = &Client{}

func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	// verify connectivity up front so a misconfigured broker fails at
	// startup, not on the first due sync
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to connect to Redis", goerr.V("addr", cfg.Addr()))
	}

	return &Client{client: asynq.NewClient(cfg.redisOpt())}, nil
}

func (c *Client) Enqueue(ctx context.Context, taskType string, payload []byte, delay time.Duration) error {
	opts := []asynq.Option{
		// the engine owns retry semantics (rate-limit re-enqueue, transient
		// HTTP retries); a failed task is not retried by the broker
		asynq.MaxRetry(0),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(taskType, payload)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return goerr.Wrap(err, "failed to enqueue task", goerr.V("task_type", taskType))
	}

	return nil
}

func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close asynq client")
	}
	return nil
}

// Server consumes tasks and dispatches to registered handlers
type Server struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	handlers map[string]interfaces.TaskHandler
}

func NewServer(cfg *Config) *Server {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 4
	}

	srv := asynq.NewServer(cfg.redisOpt(), asynq.Config{
		Concurrency: concurrency,
		Logger:      &slogAdapter{},
	})

	return &Server{
		server:   srv,
		mux:      asynq.NewServeMux(),
		handlers: make(map[string]interfaces.TaskHandler),
	}
}

// Handle registers the handler for a task type. Must be called before Start.
func (s *Server) Handle(taskType string, handler interfaces.TaskHandler) {
	s.handlers[taskType] = handler
	s.mux.HandleFunc(taskType, func(ctx context.Context, task *asynq.Task) error {
		return handler(ctx, task.Payload())
	})
}

func (s *Server) Start() error {
	if err := s.server.Start(s.mux); err != nil {
		return goerr.Wrap(err, "failed to start asynq server")
	}
	return nil
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

// slogAdapter routes asynq's internal logging through our slog setup
type slogAdapter struct{}

func (a *slogAdapter) Debug(args ...interface{}) {
	logging.Default().Debug(fmt.Sprint(args...))
}

func (a *slogAdapter) Info(args ...interface{}) {
	logging.Default().Info(fmt.Sprint(args...))
}

func (a *slogAdapter) Warn(args ...interface{}) {
	logging.Default().Warn(fmt.Sprint(args...))
}

func (a *slogAdapter) Error(args ...interface{}) {
	logging.Default().Error(fmt.Sprint(args...))
}

func (a *slogAdapter) Fatal(args ...interface{}) {
	logging.Default().Error(fmt.Sprint(args...))
}
