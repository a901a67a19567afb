// Package activity maintains the activity log feed. Every create and delete
// on the dashboard's records is recorded here, optionally shared with other
// instances over Kafka, and entries arriving from Kafka are merged in.
package activity

import (
	"context"
	"log/slog"

	"github.com/pabbly/hookdash/internal/domain"
	"github.com/pabbly/hookdash/internal/store"
	"github.com/pabbly/hookdash/pkg/kafka"
	"github.com/pabbly/hookdash/pkg/logger"
	"github.com/pabbly/hookdash/pkg/metrics"
)

// DefaultMaxEntries bounds the in-memory feed.
const DefaultMaxEntries = 1000

// Feed is the newest-first activity log.
type Feed struct {
	logs       *store.Collection[domain.ActivityLog]
	instance   string
	publisher  *Publisher
	metrics    *metrics.Metrics
	maxEntries int
	logger     *slog.Logger
}

type Option func(*Feed)

// WithPublisher shares locally recorded entries over Kafka.
func WithPublisher(p *Publisher) Option {
	return func(f *Feed) { f.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

func WithMaxEntries(n int) Option {
	return func(f *Feed) { f.maxEntries = n }
}

// NewFeed creates a feed. instance tags entries recorded here so this
// instance can skip its own entries when they come back from Kafka.
func NewFeed(instance string, opts ...Option) *Feed {
	f := &Feed{
		logs:       store.NewCollection[domain.ActivityLog](),
		instance:   instance,
		maxEntries: DefaultMaxEntries,
		logger:     logger.WithComponent("activity"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Record appends an entry for an action taken through this instance.
func (f *Feed) Record(ctx context.Context, actor domain.Actor, recordType, status string, data domain.ActivityData) domain.ActivityLog {
	data.Type = recordType
	entry := domain.ActivityLog{
		ID:         domain.NewID(),
		Actor:      actor,
		Event:      domain.EventName(recordType, status),
		Status:     status,
		Data:       data,
		Source:     f.instance,
		OccurredAt: domain.Clock(),
	}
	f.insert(entry)
	if f.publisher != nil {
		f.publisher.Track(entry)
	}
	f.count("local", entry.Event)
	logger.FromContext(ctx).Info("activity recorded",
		"event", entry.Event,
		"record_id", data.ID,
		"actor", actor.Email,
	)
	return entry
}

// HandleMessage ingests an entry published by another instance. It has the
// kafka.MessageHandler signature.
func (f *Feed) HandleMessage(ctx context.Context, key, value []byte) error {
	entry, err := kafka.DecodeJSON[domain.ActivityLog](value)
	if err != nil {
		return err
	}
	if entry.Source == f.instance {
		return nil
	}
	if err := entry.Validate(); err != nil {
		// Malformed entries are dropped so they do not block the partition.
		f.logger.Warn("dropping invalid activity entry", "key", string(key), "error", err)
		return nil
	}
	if _, exists := f.logs.Get(entry.ID); exists {
		return nil
	}
	f.insert(entry)
	f.count("ingest", entry.Event)
	return nil
}

// List returns the feed, newest first.
func (f *Feed) List() []domain.ActivityLog {
	return f.logs.List()
}

func (f *Feed) Len() int {
	return f.logs.Len()
}

func (f *Feed) insert(entry domain.ActivityLog) {
	if err := f.logs.Prepend(entry); err != nil {
		f.logger.Debug("duplicate activity entry", "id", entry.ID, "error", err)
		return
	}
	if f.maxEntries > 0 {
		f.logs.Truncate(f.maxEntries)
	}
}

func (f *Feed) count(source, event string) {
	if f.metrics != nil {
		f.metrics.ActivityEventsTotal.WithLabelValues(source, event).Inc()
	}
}
