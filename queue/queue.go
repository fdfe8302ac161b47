// Package queue wraps the Redis-backed task queue that carries fetch jobs
// from the scheduler to the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// TypeFetchExchange is the task type of one exchange fetch run
	TypeFetchExchange = "exchange:fetch"

	// QueueFetch is the queue fetch jobs travel on
	QueueFetch = "fetch"

	// retention keeps finished task records visible to the inspector for a
	// while so operators can correlate run ids
	retention = time.Hour
)

// FetchPayload is the body of a fetch task
type FetchPayload struct {
	ExchangeID int64 `json:"exchange_id"`
}

// NewFetchTask builds the task for one exchange fetch
func NewFetchTask(exchangeID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(FetchPayload{ExchangeID: exchangeID})
	if err != nil {
		return nil, fmt.Errorf("marshalling fetch payload: %w", err)
	}
	return asynq.NewTask(TypeFetchExchange, payload), nil
}

// ParseFetchPayload decodes a fetch task body
func ParseFetchPayload(t *asynq.Task) (FetchPayload, error) {
	var p FetchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshalling fetch payload: %w", err)
	}
	return p, nil
}

// Queue is the producer side plus the inspection surface the poller uses to
// revoke jobs
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	log       zerolog.Logger
}

// New returns a Queue talking to the given Redis instance
func New(redisAddr string, log zerolog.Logger) *Queue {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		log:       log,
	}
}

// EnqueueFetch submits one fetch job. The caller's run id becomes the task
// id so the poller can revoke the exact run it timed out, and the queue-side
// timeout mirrors the exchange's configured one. Jobs are never retried by
// the queue: a failed run is rescheduled by the dispatcher when its interval
// next elapses.
func (q *Queue) EnqueueFetch(ctx context.Context, exchangeID int64, runID string, timeout time.Duration) error {
	task, err := NewFetchTask(exchangeID)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueFetch),
		asynq.TaskID(runID),
		asynq.Timeout(timeout),
		asynq.MaxRetry(0),
		asynq.Retention(retention))
	if err != nil {
		return fmt.Errorf("enqueueing fetch for exchange %d: %w", exchangeID, err)
	}
	q.log.Debug().Str("job_id", info.ID).Int64("exchange_id", exchangeID).
		Msg("enqueued fetch job")
	return nil
}

// Cancel revokes a run: a still-queued task is deleted outright, an active
// one gets a cancellation signal that the worker observes through its
// context. Both halves are best effort.
func (q *Queue) Cancel(runID string) {
	if err := q.inspector.DeleteTask(QueueFetch, runID); err == nil {
		q.log.Info().Str("job_id", runID).Msg("deleted queued fetch job")
		return
	}
	if err := q.inspector.CancelProcessing(runID); err != nil {
		q.log.Warn().Err(err).Str("job_id", runID).Msg("could not cancel running fetch job")
		return
	}
	q.log.Info().Str("job_id", runID).Msg("requested cancellation of running fetch job")
}

// Close releases the Redis connections
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.inspector.Close()
}

// Server is the consumer side: a worker pool bound to the fetch queue
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewServer builds the worker pool. Concurrency bounds how many exchanges
// are fetched at once.
func NewServer(redisAddr string, concurrency int, log zerolog.Logger) *Server {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueFetch: 1},
		Logger:      NewLogger(log),
	})
	return &Server{srv: srv, mux: asynq.NewServeMux()}
}

// HandleFetch registers the fetch job handler
func (s *Server) HandleFetch(h asynq.Handler) {
	s.mux.Handle(TypeFetchExchange, h)
}

// Start launches the worker pool without blocking
func (s *Server) Start() error {
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("starting queue server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight jobs and stops the pool
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}
