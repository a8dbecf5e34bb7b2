package outbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/socket-chess-server/internal/obslog"
	"github.com/park285/socket-chess-server/internal/store"
)

type Options struct {
	Workers        int
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	SweepInterval  time.Duration // 0 disables the periodic sweep
	// RetainVersions is how long the last written version of an idle match
	// is remembered for rejecting stale records.
	RetainVersions time.Duration
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.RetainVersions <= 0 {
		o.RetainVersions = time.Hour
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Stats is a point-in-time view of the outbox.
type Stats struct {
	Queued    int    `json:"queued"`
	InFlight  int    `json:"inFlight"`
	Parked    int    `json:"parked"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Outbox decouples store writes from gameplay. Records are coalesced per
// match id so only the newest version waits in the queue, and a match is
// never written by two workers at once.
type Outbox struct {
	st   store.Store
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	pending  map[string]store.MatchRecord
	ready    []string
	inflight map[string]bool
	parked   map[string]store.MatchRecord
	written  map[string]watermark
	closed   bool
	stopping bool

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	sched gocron.Scheduler
	wg    sync.WaitGroup
}

// watermark is the highest version handed to the store for one match.
type watermark struct {
	version int64
	at      time.Time
}

// New starts the workers and, when SweepInterval > 0, the sweep job.
func New(st store.Store, opts Options) (*Outbox, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		st:       st,
		opts:     opts,
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]store.MatchRecord),
		inflight: make(map[string]bool),
		parked:   make(map[string]store.MatchRecord),
		written:  make(map[string]watermark),
	}
	o.cond = sync.NewCond(&o.mu)

	if opts.SweepInterval > 0 {
		s, err := gocron.NewScheduler()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("outbox scheduler: %w", err)
		}
		_, err = s.NewJob(
			gocron.DurationJob(opts.SweepInterval),
			gocron.NewTask(func() { o.Sweep() }),
			gocron.WithName("outbox-sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			_ = s.Shutdown()
			return nil, fmt.Errorf("outbox sweep job: %w", err)
		}
		s.Start()
		o.sched = s
	}

	for i := 0; i < opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o, nil
}

// Enqueue schedules rec for delivery without blocking. A record not newer
// than the queued, parked, in-flight or already written version of the same
// match is dropped.
func (o *Outbox) Enqueue(rec store.MatchRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.dropped.Add(1)
		o.log.Warn("outbox_enqueue_after_close", obslog.MatchID(rec.MatchID), zap.Int64("version", rec.Version))
		return
	}
	if w, ok := o.written[rec.MatchID]; ok && rec.Version <= w.version {
		o.dropped.Add(1)
		o.log.Debug("outbox_stale_record",
			obslog.MatchID(rec.MatchID),
			zap.Int64("version", rec.Version),
			zap.Int64("written", w.version),
		)
		return
	}
	o.enqueueLocked(rec)
}

func (o *Outbox) enqueueLocked(rec store.MatchRecord) {
	if cur, ok := o.pending[rec.MatchID]; ok {
		if cur.Version >= rec.Version {
			o.dropped.Add(1)
			return
		}
		o.pending[rec.MatchID] = rec
		return
	}
	if p, ok := o.parked[rec.MatchID]; ok {
		if p.Version > rec.Version {
			o.dropped.Add(1)
			return
		}
		delete(o.parked, rec.MatchID)
	}
	o.pending[rec.MatchID] = rec
	if !o.inflight[rec.MatchID] {
		o.ready = append(o.ready, rec.MatchID)
		o.cond.Signal()
	}
}

// Sweep re-queues parked records and forgets watermarks of matches idle for
// longer than RetainVersions. It runs on the gocron schedule and may be
// called directly.
func (o *Outbox) Sweep() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0
	}
	o.pruneLocked(time.Now())
	if len(o.parked) == 0 {
		return 0
	}
	parked := o.parked
	o.parked = make(map[string]store.MatchRecord)
	for _, rec := range parked {
		o.enqueueLocked(rec)
	}
	o.log.Info("outbox_sweep", zap.Int("requeued", len(parked)))
	return len(parked)
}

func (o *Outbox) pruneLocked(now time.Time) {
	for id, w := range o.written {
		if now.Sub(w.at) < o.opts.RetainVersions {
			continue
		}
		if _, ok := o.pending[id]; ok || o.inflight[id] {
			continue
		}
		if _, ok := o.parked[id]; ok {
			continue
		}
		delete(o.written, id)
	}
}

func (o *Outbox) Stats() Stats {
	o.mu.Lock()
	s := Stats{Queued: len(o.pending), InFlight: len(o.inflight), Parked: len(o.parked)}
	o.mu.Unlock()
	s.Delivered = o.delivered.Load()
	s.Failed = o.failed.Load()
	s.Dropped = o.dropped.Load()
	return s
}

// Close stops accepting records and drains the queue. If ctx expires first
// the remaining records are abandoned and ctx.Err() is returned.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if o.sched != nil {
		if err := o.sched.Shutdown(); err != nil {
			o.log.Warn("outbox_scheduler_shutdown", zap.Error(err))
		}
	}

	drained := make(chan struct{})
	go func() {
		o.mu.Lock()
		for !o.stopping && (len(o.ready) > 0 || len(o.inflight) > 0) {
			o.cond.Wait()
		}
		o.stopping = true
		o.cond.Broadcast()
		o.mu.Unlock()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		o.mu.Lock()
		o.stopping = true
		o.cond.Broadcast()
		o.mu.Unlock()
		<-drained
	}
	o.cancel()
	o.wg.Wait()

	o.mu.Lock()
	lost := len(o.pending) + len(o.parked)
	o.mu.Unlock()
	if lost > 0 {
		o.log.Error("outbox_close_abandoned", zap.Int("records", lost))
	}
	return err
}

func (o *Outbox) worker() {
	defer o.wg.Done()
	for {
		rec, ok := o.next()
		if !ok {
			return
		}
		delivered := o.deliver(rec)
		o.finish(rec, delivered)
	}
}

func (o *Outbox) next() (store.MatchRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.ready) == 0 && !o.stopping {
		o.cond.Wait()
	}
	if o.stopping {
		return store.MatchRecord{}, false
	}
	id := o.ready[0]
	o.ready = o.ready[1:]
	rec := o.pending[id]
	delete(o.pending, id)
	o.inflight[id] = true
	o.written[id] = watermark{version: rec.Version, at: time.Now()}
	return rec, true
}

func (o *Outbox) finish(rec store.MatchRecord, delivered bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, rec.MatchID)
	_, newer := o.pending[rec.MatchID]
	if !delivered && !newer {
		if p, ok := o.parked[rec.MatchID]; !ok || p.Version < rec.Version {
			o.parked[rec.MatchID] = rec
		}
	}
	if newer {
		o.ready = append(o.ready, rec.MatchID)
	}
	o.cond.Broadcast()
}

// deliver retries with exponential backoff and reports whether the store accepted rec.
func (o *Outbox) deliver(rec store.MatchRecord) bool {
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(o.ctx, o.opts.AttemptTimeout)
		err := o.st.Upsert(ctx, rec)
		cancel()
		if err == nil {
			o.delivered.Add(1)
			o.log.Debug("outbox_delivered",
				obslog.MatchID(rec.MatchID),
				zap.Int64("version", rec.Version),
				zap.Int("attempt", attempt),
			)
			return true
		}
		o.failed.Add(1)
		if attempt == o.opts.MaxAttempts {
			o.log.Error("outbox_parked",
				obslog.MatchID(rec.MatchID),
				zap.Int64("version", rec.Version),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return false
		}
		o.log.Warn("outbox_retry",
			obslog.MatchID(rec.MatchID),
			zap.Int64("version", rec.Version),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !o.sleep(o.backoff(attempt)) {
			return false
		}
	}
	return false
}

func (o *Outbox) backoff(attempt int) time.Duration {
	d := o.opts.BaseBackoff
	for i := 1; i < attempt && d < o.opts.MaxBackoff; i++ {
		d *= 2
	}
	if d > o.opts.MaxBackoff {
		d = o.opts.MaxBackoff
	}
	return d
}

func (o *Outbox) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-o.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
