// Package worker hosts the per-account batch workers of one supervisor
// process: an intake loop feeding priority queues from the process stream, a
// mover draining queues into worker channels, and one batching loop per
// worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"talon/internal/item"
	"talon/internal/metrics"
	"talon/internal/pqueue"
	"talon/internal/scrape"
	"talon/internal/stream"
)

const (
	// highWatermark is the queue depth past which the mover stops feeding
	// a worker. Backpressure, not an error.
	highWatermark = 3000
	// idleFlush is how long a worker channel may sit without a dequeue
	// before the mover forces a partial batch downstream.
	idleFlush = 40 * time.Second

	moverPause = 50 * time.Millisecond
)

// errExit stops the supervisor group after an exit control item.
var errExit = errors.New("exit requested")

// Worker is one account × work-type × replica execution lane.
type Worker struct {
	Name       string
	AccountKey string
	WorkType   item.WorkType

	queue *pqueue.Queue
	ch    chan item.Item

	// unix nanos of the last successful channel dequeue, read by the mover
	lastDequeue atomic.Int64
	// set once the mover has synthesized a flush for the current idle span
	idleFlushed atomic.Bool
}

func newWorker(accountKey string, wt item.WorkType, replica int, chanCap int) *Worker {
	w := &Worker{
		Name:       fmt.Sprintf("%s:%s:%d", accountKey, wt, replica),
		AccountKey: accountKey,
		WorkType:   wt,
		queue:      pqueue.New(),
		ch:         make(chan item.Item, chanCap),
	}
	w.lastDequeue.Store(time.Now().UnixNano())
	return w
}

// Supervisor owns every worker for one process and the loops that feed them.
type Supervisor struct {
	proc     string
	src      *stream.Stream
	registry map[item.WorkType]scrape.Func
	deps     map[string]*scrape.Deps // by account key

	workers []*Worker
	byLane  map[laneKey][]*Worker
	rr      map[laneKey]*atomic.Uint64
}

type laneKey struct {
	account  string
	workType item.WorkType
}

// NewSupervisor builds the worker set: one lane per account × work type,
// replicated per the work type's tuning.
func NewSupervisor(proc string, src *stream.Stream, deps map[string]*scrape.Deps) *Supervisor {
	s := &Supervisor{
		proc:     proc,
		src:      src,
		registry: scrape.Registry(),
		deps:     deps,
		byLane:   make(map[laneKey][]*Worker),
		rr:       make(map[laneKey]*atomic.Uint64),
	}
	for account := range deps {
		for _, wt := range item.AllWorkTypes {
			tuning := scrape.Tunings[wt]
			chanCap := tuning.BatchSize * 2
			if chanCap < 2 {
				chanCap = 2
			}
			key := laneKey{account, wt}
			for replica := 0; replica < tuning.Replicas; replica++ {
				w := newWorker(account, wt, replica, chanCap)
				s.workers = append(s.workers, w)
				s.byLane[key] = append(s.byLane[key], w)
			}
			s.rr[key] = &atomic.Uint64{}
		}
	}
	return s
}

// Run starts the intake, the mover and every worker loop, and blocks until
// ctx is cancelled or an exit control item has drained through.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.intake(ctx) })
	g.Go(func() error { return s.mover(ctx) })
	for _, w := range s.workers {
		w := w
		g.Go(func() error { return s.workerLoop(ctx, w) })
	}
	err := g.Wait()
	if errors.Is(err, errExit) {
		log.Info().Str("proc", s.proc).Msg("supervisor exited on control signal")
		return nil
	}
	return err
}

// intake reads the process stream and distributes items to queues. Control
// items fan out to every queue at head priority and are acknowledged right
// away; invalid entries are acknowledged and dropped.
func (s *Supervisor) intake(ctx context.Context) error {
	for {
		entries, err := s.src.Read(ctx, 100, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("proc", s.proc).Msg("intake read failed")
			time.Sleep(time.Second)
			continue
		}
		for _, e := range entries {
			e.Fields["line_id"] = e.ID
			it, err := item.Parse(e.Fields)
			if err != nil {
				log.Warn().Err(err).Str("entry", e.ID).Msg("dropping invalid work item")
				metrics.ItemsDropped.Inc()
				if err := s.src.Ack(ctx, e.ID); err != nil {
					return err
				}
				continue
			}
			if ctrl, ok := it.(*item.ControlItem); ok {
				for _, w := range s.workers {
					w.queue.Push(1, ctrl)
				}
				if err := s.src.Ack(ctx, e.ID); err != nil {
					return err
				}
				continue
			}
			s.route(ctx, it, e.ID)
		}
	}
}

func (s *Supervisor) route(ctx context.Context, it item.Item, entryID string) {
	account := accountOf(it)
	key := laneKey{account, it.Type()}
	lane := s.byLane[key]
	if len(lane) == 0 {
		log.Warn().Str("account", account).Str("work_type", string(it.Type())).Str("entry", entryID).Msg("no worker lane for item, dropping")
		metrics.ItemsDropped.Inc()
		if err := s.src.Ack(ctx, entryID); err != nil {
			log.Error().Err(err).Msg("ack failed")
		}
		return
	}
	n := s.rr[key].Add(1)
	w := lane[int(n)%len(lane)]
	w.queue.Push(it.GetPriority(), it)
	metrics.QueueDepth.WithLabelValues(w.Name).Set(float64(w.queue.Len()))
}

func accountOf(it item.Item) string {
	switch v := it.(type) {
	case *item.ProfileItem:
		return v.AccountKey
	case *item.ConversationItem:
		return v.AccountKey
	}
	return ""
}

// mover drains queues into worker channels, one item per worker per
// iteration. Full channels and over-watermark queues are skipped; a worker
// idle past idleFlush gets a synthesized flush_group at head priority.
func (s *Supervisor) mover(ctx context.Context) error {
	for {
		moved := false
		now := time.Now()
		for _, w := range s.workers {
			if moveOne(w, now) {
				moved = true
			}
		}
		if !moved {
			select {
			case <-time.After(moverPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// moveOne runs one mover step for a single worker: apply watermark
// backpressure, synthesize an idle flush when the channel has sat quiet too
// long, and shift at most one queued item into the channel. Returns whether
// an item moved. The mover goroutine is the channel's only sender, so a
// below-capacity check makes the send safe.
func moveOne(w *Worker, now time.Time) bool {
	depth := w.queue.Len()
	metrics.QueueDepth.WithLabelValues(w.Name).Set(float64(depth))
	if depth > highWatermark {
		return false
	}
	if idle := now.Sub(time.Unix(0, w.lastDequeue.Load())); idle > idleFlush && !w.idleFlushed.Load() {
		w.queue.Push(1, &item.ControlItem{FlushGroup: true, WorkType: w.WorkType})
		w.idleFlushed.Store(true)
	}
	if len(w.ch) == cap(w.ch) {
		return false
	}
	_, v, err := w.queue.Pop()
	if err != nil {
		return false
	}
	w.ch <- v.(item.Item)
	return true
}

// workerLoop is the idle -> batching -> executing -> acking state machine.
func (s *Supervisor) workerLoop(ctx context.Context, w *Worker) error {
	tuning := scrape.Tunings[w.WorkType]
	for {
		batch, exit, err := s.collectBatch(ctx, w, tuning)
		if err != nil {
			// cancelled mid-batch: run what we have, then stop
			if len(batch) > 0 {
				s.execute(context.Background(), w, batch)
			}
			return err
		}
		if len(batch) > 0 {
			s.execute(ctx, w, batch)
		}
		if exit {
			return errExit
		}
	}
}

// collectBatch accumulates items until the batch is full, the batch delay
// since the first item elapses, or a control item forces a flush. The exit
// flag reports that an exit control item ended the batch.
func (s *Supervisor) collectBatch(ctx context.Context, w *Worker, tuning scrape.Tuning) ([]item.Item, bool, error) {
	var batch []item.Item
	var deadline <-chan time.Time

	for {
		select {
		case it := <-w.ch:
			w.lastDequeue.Store(time.Now().UnixNano())
			w.idleFlushed.Store(false)
			if ctrl, ok := it.(*item.ControlItem); ok {
				if ctrl.Exit {
					return batch, true, nil
				}
				// flush_group: run whatever has accumulated
				if len(batch) > 0 {
					return batch, false, nil
				}
				continue
			}
			batch = append(batch, it)
			if len(batch) >= tuning.BatchSize {
				return batch, false, nil
			}
			// zero delay means take whatever is immediately available
			if tuning.BatchDelay == 0 && len(w.ch) == 0 {
				return batch, false, nil
			}
			if deadline == nil && tuning.BatchDelay > 0 {
				deadline = time.After(tuning.BatchDelay)
			}
		case <-deadline:
			return batch, false, nil
		case <-ctx.Done():
			return batch, false, ctx.Err()
		}
	}
}

// execute runs the batch and acknowledges its line ids. A failed batch is
// still acknowledged; the pipeline never retries on its own.
func (s *Supervisor) execute(ctx context.Context, w *Worker, batch []item.Item) {
	deps := s.deps[w.AccountKey]
	fn := s.registry[w.WorkType]
	start := time.Now()
	if err := fn(ctx, deps, batch); err != nil {
		metrics.BatchErrors.WithLabelValues(string(w.WorkType)).Inc()
		log.Error().Err(err).Str("worker", w.Name).Int("items", len(batch)).Msg("batch failed")
	}
	metrics.ObserveBatch(string(w.WorkType), start)

	ids := make([]string, 0, len(batch))
	for _, it := range batch {
		if id := it.LineID(); id != "" {
			ids = append(ids, id)
		}
	}
	if err := s.src.Ack(ctx, ids...); err != nil {
		log.Error().Err(err).Str("worker", w.Name).Msg("batch ack failed")
	}
}
