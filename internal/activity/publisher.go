package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pabbly/hookdash/internal/domain"
	"github.com/pabbly/hookdash/pkg/kafka"
)

// Publisher buffers activity entries and flushes them to Kafka when the batch
// fills up or the flush interval passes, whichever comes first.
type Publisher struct {
	producer      kafka.Publisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	started       bool
	done          chan struct{}
}

func NewPublisher(producer kafka.Publisher, batchSize int, flushInterval time.Duration) *Publisher {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Publisher{
		producer:      producer,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "activity-publisher"),
		done:          make(chan struct{}),
	}
}

// Start runs the flush loop in the background until ctx is cancelled, then
// makes one last flush.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				p.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	p.logger.Info("activity publisher started",
		"batch_size", p.batchSize,
		"flush_interval", p.flushInterval,
	)
}

// Track queues entry. A full batch is flushed immediately.
func (p *Publisher) Track(entry domain.ActivityLog) {
	p.mu.Lock()
	p.buffer = append(p.buffer, kafka.Event{Key: entry.Data.ID, Value: entry})
	full := len(p.buffer) >= p.batchSize
	p.mu.Unlock()

	if full {
		go p.flush(context.Background())
	}
}

// Close waits for the flush loop to finish, or flushes directly if Start was
// never called, then closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.done
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		p.flush(ctx)
		cancel()
	}
	return p.producer.Close()
}

func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = make([]kafka.Event, 0, p.batchSize)
	p.mu.Unlock()

	if err := p.producer.PublishBatch(ctx, batch); err != nil {
		p.logger.Error("activity flush failed", "batch_size", len(batch), "error", err)
		// Requeue, keeping at most three batches.
		p.mu.Lock()
		p.buffer = append(batch, p.buffer...)
		if limit := p.batchSize * 3; len(p.buffer) > limit {
			dropped := len(p.buffer) - limit
			p.buffer = p.buffer[len(p.buffer)-limit:]
			p.logger.Warn("activity buffer overflow, oldest entries dropped", "dropped", dropped)
		}
		p.mu.Unlock()
		return
	}
	p.logger.Debug("activity flushed", "entries", len(batch))
}
