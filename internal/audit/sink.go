package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"account-security-service/internal/client"
	"account-security-service/internal/config"
	"account-security-service/internal/models"
	"account-security-service/internal/util"
)

// Sink records security events. Recording is fire-and-forget: a sink
// failure is logged and never propagated, so audit trouble cannot block a
// password reset or an MFA change.
type Sink interface {
	Record(eventKind, subjectType, subjectID, message string)
}

const produceTimeout = 5 * time.Second

// KafkaSink publishes audit events to the audit topic, keyed by subject so
// per-subject ordering survives partitioning.
type KafkaSink struct {
	producer *client.KafkaProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaSink(producer *client.KafkaProducer, cfg *config.Config, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		topic:    cfg.Kafka.AuditTopic,
		logger:   logger,
	}
}

func (s *KafkaSink) Record(eventKind, subjectType, subjectID, message string) {
	event := models.AuditEvent{
		EventID:     uuid.New().String(),
		EventType:   eventKind,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Message:     message,
		EventTime:   time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal audit event",
			zap.String("event_type", eventKind),
			zap.Error(err))
		return
	}

	// Publish off the request path; the caller never waits on Kafka.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), produceTimeout)
		defer cancel()

		if err := s.producer.ProduceMessage(ctx, s.topic, []byte(subjectID), payload, map[string]string{
			"event_type": eventKind,
		}); err != nil {
			util.Error("Failed to publish audit event",
				zap.String("event_type", eventKind),
				zap.String("subject_type", subjectType),
				zap.Error(err))
		}
	}()
}

// NopSink discards events; used when Kafka is not configured.
type NopSink struct{}

func (NopSink) Record(eventKind, subjectType, subjectID, message string) {}
