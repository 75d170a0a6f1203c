package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recovery-service/internal/bucketing"
	"recovery-service/internal/client"
	"recovery-service/internal/config"
	"recovery-service/internal/models"
	"recovery-service/internal/util"
)

// Recorder appends audit events to ClickHouse and mirrors them into an
// Elasticsearch index for operator search. ClickHouse is the source of
// truth; an Elasticsearch failure is logged and swallowed.
type Recorder struct {
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	bucketer   *bucketing.BucketingManager
	table      string
	index      string
}

func NewRecorder(ch *client.ClickHouseClient, es *client.ESClient, bucketer *bucketing.BucketingManager, cfg *config.Config) *Recorder {
	return &Recorder{
		clickhouse: ch,
		es:         es,
		bucketer:   bucketer,
		table:      cfg.Clickhouse.AuditTable,
		index:      cfg.Elasticsearch.AuditIndex,
	}
}

func (r *Recorder) Record(ctx context.Context, event *models.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventBucket = r.bucketer.EventBucket(event.EventID)
	if event.Meta == nil {
		event.Meta = map[string]string{}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		query := fmt.Sprintf(`
			INSERT INTO %s (event_bucket, event_id, event_type, event_time, external_id, phone_masked, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, r.table)

		if err := r.clickhouse.Exec(gctx, query,
			event.EventBucket, event.EventID, event.EventType, event.EventTime,
			event.ExternalID, event.PhoneMasked, event.Meta); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		doc := map[string]interface{}{
			"event_id":     event.EventID,
			"event_type":   event.EventType,
			"event_time":   event.EventTime,
			"external_id":  event.ExternalID,
			"phone_masked": event.PhoneMasked,
			"meta":         event.Meta,
		}
		res, err := r.es.IndexDocument(gctx, r.index, event.EventID, doc)
		if err != nil {
			util.Warn("Audit event not mirrored to Elasticsearch",
				zap.String("event_id", event.EventID),
				zap.Error(err))
			return nil
		}
		defer res.Body.Close()
		if res.IsError() {
			util.Warn("Elasticsearch rejected audit event",
				zap.String("event_id", event.EventID),
				zap.String("status", res.Status()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		util.Error("Failed to record audit event",
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return err
	}

	util.Debug("Audit event recorded",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID))

	return nil
}

// LogRecorder writes audit events to the process log only. Used in
// development and in tests where no warehouse is available.
type LogRecorder struct{}

func NewLogRecorder() *LogRecorder {
	return &LogRecorder{}
}

func (r *LogRecorder) Record(ctx context.Context, event *models.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	util.Info("audit",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.Int64("external_id", event.ExternalID),
		zap.String("phone_masked", event.PhoneMasked),
		zap.Any("meta", event.Meta))

	return nil
}
