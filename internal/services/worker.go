package services

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/configs"
	"github.com/zerotrust/access-engine/internal/queue"
)

// Worker drains access events from the Redis stream and pushes each one
// through the evaluation pipeline.
type Worker struct {
	id           string
	service      *EvaluationService
	streamClient *queue.RedisStreamClient
	config       configs.WorkerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
	stopOnce     sync.Once
	metrics      *WorkerMetrics
}

// WorkerMetrics tracks per-worker throughput.
type WorkerMetrics struct {
	mu                sync.RWMutex
	ProcessedCount    int64
	FailedCount       int64
	TotalProcessingMs int64
	LastProcessedAt   time.Time
}

// NewWorker creates an evaluation worker.
func NewWorker(id string, service *EvaluationService, streamClient *queue.RedisStreamClient, config configs.WorkerConfig) *Worker {
	return &Worker{
		id:           id,
		service:      service,
		streamClient: streamClient,
		config:       config,
		stopCh:       make(chan struct{}),
		metrics:      &WorkerMetrics{},
	}
}

// Start runs the worker's consumer goroutines and blocks until a shutdown
// signal or context cancellation.
func (w *Worker) Start(ctx context.Context) error {
	log.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.config.Concurrency).
		Msg("Starting evaluation worker")

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, fmt.Sprintf("%s-%d", w.id, i))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	return w.Stop()
}

// Stop drains the worker goroutines. Safe to call more than once.
func (w *Worker) Stop() error {
	log.Info().Str("worker_id", w.id).Msg("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
	return nil
}

func (w *Worker) processLoop(ctx context.Context, consumerName string) {
	defer w.wg.Done()

	log.Info().Str("consumer", consumerName).Msg("Worker goroutine started")

	for {
		select {
		case <-w.stopCh:
			log.Info().Str("consumer", consumerName).Msg("Worker goroutine stopping")
			return
		case <-ctx.Done():
			return
		default:
			w.processBatch(ctx, consumerName)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, consumerName string) {
	messages, err := w.streamClient.Consume(ctx, consumerName, int64(w.config.BatchSize), w.config.PollInterval)
	if err != nil {
		log.Error().Err(err).Str("consumer", consumerName).Msg("Failed to consume messages")
		time.Sleep(time.Second) // Back off on error
		return
	}

	if len(messages) == 0 {
		return
	}

	log.Debug().
		Str("consumer", consumerName).
		Int("count", len(messages)).
		Msg("Processing batch")

	var ackIDs []string

	for _, msg := range messages {
		if err := w.processMessage(ctx, msg); err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.ID).
				Str("entity_id", msg.Event.EntityID).
				Msg("Failed to process event")

			if msg.Event.RetryCount < w.config.RetryAttempts {
				msg.Event.RetryCount++
				if _, err := w.streamClient.Publish(ctx, msg.Event); err != nil {
					log.Error().Err(err).Msg("Failed to requeue event")
				}
			} else {
				if err := w.streamClient.SendToDeadLetter(ctx, msg.Event, err); err != nil {
					log.Error().Err(err).Msg("Failed to send to dead letter queue")
				}
			}

			w.metrics.mu.Lock()
			w.metrics.FailedCount++
			w.metrics.mu.Unlock()
		}

		ackIDs = append(ackIDs, msg.ID)
	}

	if len(ackIDs) > 0 {
		if err := w.streamClient.AcknowledgeBatch(ctx, ackIDs); err != nil {
			log.Error().Err(err).Msg("Failed to acknowledge messages")
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, msg queue.StreamMessage) error {
	startTime := time.Now()

	if _, err := w.service.ProcessEvent(ctx, msg.Event); err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	w.service.MarkIngested("redis")

	processingTime := time.Since(startTime)

	w.metrics.mu.Lock()
	w.metrics.ProcessedCount++
	w.metrics.TotalProcessingMs += processingTime.Milliseconds()
	w.metrics.LastProcessedAt = time.Now()
	w.metrics.mu.Unlock()

	return nil
}

// GetMetrics returns a snapshot of the worker metrics.
func (w *Worker) GetMetrics() WorkerMetrics {
	w.metrics.mu.RLock()
	defer w.metrics.mu.RUnlock()
	return WorkerMetrics{
		ProcessedCount:    w.metrics.ProcessedCount,
		FailedCount:       w.metrics.FailedCount,
		TotalProcessingMs: w.metrics.TotalProcessingMs,
		LastProcessedAt:   w.metrics.LastProcessedAt,
	}
}

// WorkerPool manages multiple workers sharing one evaluation service.
type WorkerPool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewWorkerPool creates numWorkers workers over the same service and stream.
func NewWorkerPool(
	numWorkers int,
	service *EvaluationService,
	streamClient *queue.RedisStreamClient,
	config configs.WorkerConfig,
) *WorkerPool {
	pool := &WorkerPool{
		workers: make([]*Worker, numWorkers),
	}

	for i := 0; i < numWorkers; i++ {
		pool.workers[i] = NewWorker(
			fmt.Sprintf("worker-%d", i),
			service,
			streamClient,
			config,
		)
	}

	return pool
}

// Start starts all workers and blocks until the first error or cancellation.
func (p *WorkerPool) Start(ctx context.Context) error {
	log.Info().Int("num_workers", len(p.workers)).Msg("Starting worker pool")

	errCh := make(chan error, len(p.workers))

	for _, worker := range p.workers {
		w := worker
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := w.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops all workers in the pool.
func (p *WorkerPool) Stop() error {
	log.Info().Msg("Stopping worker pool")

	for _, worker := range p.workers {
		if err := worker.Stop(); err != nil {
			log.Error().Err(err).Str("worker_id", worker.id).Msg("Failed to stop worker")
		}
	}

	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
	return nil
}

// GetAggregatedMetrics sums the metrics of every worker.
func (p *WorkerPool) GetAggregatedMetrics() map[string]interface{} {
	var totalProcessed, totalFailed, totalProcessingMs int64
	var lastProcessedAt time.Time

	for _, worker := range p.workers {
		m := worker.GetMetrics()
		totalProcessed += m.ProcessedCount
		totalFailed += m.FailedCount
		totalProcessingMs += m.TotalProcessingMs
		if m.LastProcessedAt.After(lastProcessedAt) {
			lastProcessedAt = m.LastProcessedAt
		}
	}

	avgProcessingMs := float64(0)
	if totalProcessed > 0 {
		avgProcessingMs = float64(totalProcessingMs) / float64(totalProcessed)
	}

	return map[string]interface{}{
		"total_processed":   totalProcessed,
		"total_failed":      totalFailed,
		"avg_processing_ms": avgProcessingMs,
		"last_processed_at": lastProcessedAt,
		"active_workers":    len(p.workers),
	}
}

func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
