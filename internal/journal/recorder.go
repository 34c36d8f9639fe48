package journal

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rws-client/internal/mastership"
	"github.com/nerrad567/rws-client/internal/subscription"
)

const (
	defaultBufferSize  = 1024
	writeTimeout       = 5 * time.Second
	pruneCheckInterval = time.Hour
)

// Store is the persistence used by the Recorder. *Repository satisfies it.
type Store interface {
	RecordEvent(ctx context.Context, resource string, fields map[string]string, subscribers int, at time.Time) error
	RecordMastership(ctx context.Context, kind, transition string, holders int, at time.Time) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Metrics receives the same records as points. *influxdb.Client satisfies it.
type Metrics interface {
	WriteControllerEvent(resource string, fields map[string]string, subscribers int, ts time.Time)
	WriteMastership(kind, transition string, holders int, ts time.Time)
}

// Logger is the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// BufferSize is how many records may wait for the writer. Default: 1024
	BufferSize int

	// Retention prunes rows older than this once an hour. 0 disables pruning.
	Retention time.Duration
}

type record struct {
	at time.Time

	resource    string
	fields      map[string]string
	subscribers int

	kind       string
	transition string
	holders    int
}

// Recorder journals dispatched events and mastership transitions.
//
// ObserveEvent and ObserveMastership never block: they are called from the
// subscription socket reader and the mastership drainer. Records go through
// a bounded buffer to a single writer goroutine; when the buffer is full the
// record is dropped and counted.
type Recorder struct {
	store   Store
	metrics Metrics
	cfg     RecorderConfig
	logger  Logger

	records chan record
	dropped atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRecorder creates a Recorder. store or metrics may be nil to skip that sink.
func NewRecorder(store Store, metrics Metrics, cfg RecorderConfig) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return &Recorder{
		store:   store,
		metrics: metrics,
		cfg:     cfg,
		logger:  nopLogger{},
		records: make(chan record, cfg.BufferSize),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Start.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start launches the writer and, if retention is set, the pruner.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.writeLoop()

	if r.cfg.Retention > 0 && r.store != nil {
		r.wg.Add(1)
		go r.pruneLoop(ctx)
	}
}

// Stop writes the buffered records and waits for the goroutines to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped returns how many records were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// ObserveEvent records a dispatched event. It has the subscription.EventObserver signature.
func (r *Recorder) ObserveEvent(resource string, ev subscription.Event, subscribers int) {
	r.enqueue(record{at: time.Now(), resource: resource, fields: maps.Clone(ev), subscribers: subscribers})
}

// ObserveMastership records a lock transition. It has the mastership.Observer signature.
func (r *Recorder) ObserveMastership(kind mastership.Kind, transition string, holders int) {
	r.enqueue(record{at: time.Now(), kind: kind.String(), transition: transition, holders: holders})
}

func (r *Recorder) enqueue(rec record) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.records <- rec:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.Warn("journal buffer full, dropping records", "dropped", r.dropped.Load())
		}
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.records:
			r.write(rec)
		case <-r.done:
			for {
				select {
				case rec := <-r.records:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if rec.resource != "" {
		if r.store != nil {
			if err := r.store.RecordEvent(ctx, rec.resource, rec.fields, rec.subscribers, rec.at); err != nil {
				r.logger.Warn("journal event write failed", "resource", rec.resource, "error", err)
			}
		}
		if r.metrics != nil {
			r.metrics.WriteControllerEvent(rec.resource, rec.fields, rec.subscribers, rec.at)
		}
		return
	}

	if r.store != nil {
		if err := r.store.RecordMastership(ctx, rec.kind, rec.transition, rec.holders, rec.at); err != nil {
			r.logger.Warn("journal mastership write failed", "kind", rec.kind, "error", err)
		}
	}
	if r.metrics != nil {
		r.metrics.WriteMastership(rec.kind, rec.transition, rec.holders, rec.at)
	}
}

func (r *Recorder) pruneLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(pruneCheckInterval)
	defer ticker.Stop()

	r.prune(ctx)
	for {
		select {
		case <-ticker.C:
			r.prune(ctx)
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.store.Prune(ctx, r.cfg.Retention)
	if err != nil {
		r.logger.Warn("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("journal pruned", "rows", n)
	}
}
