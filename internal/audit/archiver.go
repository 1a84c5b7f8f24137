package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"account-security-service/internal/client"
	"account-security-service/internal/config"
	"account-security-service/internal/models"
	"account-security-service/internal/util"
)

const insertEventQuery = `
	INSERT INTO security_audit_events
		(event_id, event_type, subject_type, subject_id, message, event_time, event_date)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

// Archiver drains the audit topic into the analytics warehouse and the
// operational search index. It runs beside the HTTP server and stops when
// its context is canceled.
type Archiver struct {
	consumer   *client.KafkaConsumer
	clickhouse *client.ClickHouseClient
	elastic    *client.ESClient
	index      string
	logger     *zap.Logger
}

func NewArchiver(
	consumer *client.KafkaConsumer,
	clickhouseClient *client.ClickHouseClient,
	esClient *client.ESClient,
	cfg *config.Config,
	logger *zap.Logger,
) *Archiver {
	return &Archiver{
		consumer:   consumer,
		clickhouse: clickhouseClient,
		elastic:    esClient,
		index:      cfg.Elasticsearch.AuditIndex,
		logger:     logger,
	}
}

// Run consumes audit events until the context is canceled. Malformed
// messages are logged and skipped; write failures are logged and the
// message is dropped rather than wedging the consumer group.
func (a *Archiver) Run(ctx context.Context) error {
	util.Info("Audit archiver started",
		zap.String("index", a.index))

	for {
		msg, err := a.consumer.ConsumeMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				util.Info("Audit archiver stopped")
				return nil
			}
			return fmt.Errorf("audit consumer failed: %w", err)
		}

		var event models.AuditEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			a.logger.Warn("skipping malformed audit event",
				zap.ByteString("key", msg.Key),
				zap.Error(err))
			continue
		}

		if err := a.archive(ctx, &event); err != nil {
			a.logger.Error("failed to archive audit event",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}
}

func (a *Archiver) archive(ctx context.Context, event *models.AuditEvent) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.clickhouse.Exec(gctx, insertEventQuery,
			event.EventID, event.EventType, event.SubjectType,
			event.SubjectID, event.Message, event.EventTime,
			event.EventTime.UTC().Format("2006-01-02"))
	})

	g.Go(func() error {
		res, err := a.elastic.IndexDocument(gctx, a.index, event.EventID, event)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("elasticsearch index error: %s", res.String())
		}
		return nil
	})

	return g.Wait()
}
