package config

import (
	"github.com/urfave/cli/v3"

	"github.com/cronxco/tapestry/pkg/queue/asynqueue"
)

// Queue holds CLI flags for the task queue backend
type Queue struct {
	backend     string
	redisHost   string
	redisPort   int
	redisPass   string
	redisDB     int
	concurrency int
}

// Flags returns CLI flags for queue configuration
func (q *Queue) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "queue-backend",
			Usage:       "Queue backend type (redis or memory)",
			Value:       "redis",
			Sources:     cli.EnvVars("TAPESTRY_QUEUE_BACKEND"),
			Destination: &q.backend,
		},
		&cli.StringFlag{
			Name:        "redis-host",
			Usage:       "Redis host for the task queue",
			Value:       "localhost",
			Sources:     cli.EnvVars("TAPESTRY_REDIS_HOST"),
			Destination: &q.redisHost,
		},
		&cli.IntFlag{
			Name:        "redis-port",
			Usage:       "Redis port",
			Value:       6379,
			Sources:     cli.EnvVars("TAPESTRY_REDIS_PORT"),
			Destination: &q.redisPort,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Sources:     cli.EnvVars("TAPESTRY_REDIS_PASSWORD"),
			Destination: &q.redisPass,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Sources:     cli.EnvVars("TAPESTRY_REDIS_DB"),
			Destination: &q.redisDB,
		},
		&cli.IntFlag{
			Name:        "queue-concurrency",
			Usage:       "Number of concurrent sync step workers",
			Value:       4,
			Sources:     cli.EnvVars("TAPESTRY_QUEUE_CONCURRENCY"),
			Destination: &q.concurrency,
		},
	}
}

// UseMemory reports whether the in-process queue was selected
func (q *Queue) UseMemory() bool {
	return q.backend == "memory"
}

// AsynqConfig builds the asynq/Redis configuration
func (q *Queue) AsynqConfig() *asynqueue.Config {
	return &asynqueue.Config{
		Host:        q.redisHost,
		Port:        q.redisPort,
		Password:    q.redisPass,
		DB:          q.redisDB,
		Concurrency: q.concurrency,
	}
}
