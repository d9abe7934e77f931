package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/configs"
	"github.com/zerotrust/access-engine/internal/access"
	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/identity"
	"github.com/zerotrust/access-engine/internal/metrics"
	"github.com/zerotrust/access-engine/internal/models"
	"github.com/zerotrust/access-engine/internal/risk"
	"github.com/zerotrust/access-engine/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENVIRONMENT") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg := configs.Load()
	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	topics := strings.Split(cfg.Kafka.Topic, ",")

	log.Info().
		Strs("brokers", brokers).
		Strs("topics", topics).
		Str("group_id", cfg.Kafka.ConsumerGroup).
		Msg("Starting Zero Trust Access Engine Kafka Worker")

	// Build the evaluation pipeline.
	baselines := behavioral.NewBaselineStore()
	baselines.SetDecayFactor(cfg.Engine.DecayFactor)

	detector := behavioral.NewAnomalyDetector(baselines)
	detector.SetThreshold(cfg.Engine.AnomalyThreshold)

	decisions := access.NewDecisionEngine()
	decisions.SetThresholds(cfg.Engine.DenyThreshold, cfg.Engine.ChallengeThreshold, cfg.Engine.RestrictThreshold)

	verifier := access.NewContinuousVerifier(decisions)
	verifier.SetReverifyInterval(cfg.Engine.ReverifyInterval)

	service := services.NewEvaluationService(services.Deps{
		Baselines:  baselines,
		Detector:   detector,
		Risk:       risk.NewEngine(nil),
		Decisions:  decisions,
		Verifier:   verifier,
		Identities: identity.NewRegistry(),
		Metrics:    metrics.New(),
	})

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Retry connecting to Kafka
	var consumerGroup sarama.ConsumerGroup
	var err error
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(brokers, cfg.Kafka.ConsumerGroup, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &accessEventHandler{service: service}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping Kafka worker...")
		cancel()
	}()

	go handler.startStatsReporter(ctx)
	go consumeErrors(ctx, consumerGroup)

	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
			time.Sleep(time.Second)
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down Kafka worker")
			return
		}
	}
}

func consumeErrors(ctx context.Context, group sarama.ConsumerGroup) {
	for {
		select {
		case err, ok := <-group.Errors():
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Consumer group error")
		case <-ctx.Done():
			return
		}
	}
}

// accessEventHandler feeds consumed access events into the evaluation
// pipeline.
type accessEventHandler struct {
	service *services.EvaluationService

	mu        sync.Mutex
	processed int64
	failed    int64
}

func (h *accessEventHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Kafka consumer session started")
	return nil
}

func (h *accessEventHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Kafka consumer session ended")
	return nil
}

func (h *accessEventHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *accessEventHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var ev models.AccessEvent
	if err := json.Unmarshal(message.Value, &ev); err != nil {
		log.Error().Err(err).
			Str("topic", message.Topic).
			Int32("partition", message.Partition).
			Int64("offset", message.Offset).
			Msg("Failed to decode access event")
		h.mu.Lock()
		h.failed++
		h.mu.Unlock()
		return
	}

	if _, err := h.service.ProcessEvent(ctx, &ev); err != nil {
		log.Error().Err(err).Str("entity_id", ev.EntityID).Msg("Failed to evaluate access event")
		h.mu.Lock()
		h.failed++
		h.mu.Unlock()
		return
	}
	h.service.MarkIngested("kafka")

	h.mu.Lock()
	h.processed++
	h.mu.Unlock()
}

func (h *accessEventHandler) startStatsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			processed, failed := h.processed, h.failed
			h.mu.Unlock()
			log.Info().
				Int64("processed", processed).
				Int64("failed", failed).
				Msg("Kafka worker throughput")

		case <-ctx.Done():
			return
		}
	}
}
