package groupsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Queue debounces sync requests per media group. Album parts land
// milliseconds apart, so each new part resets the group's timer and the
// sync runs once after the group has settled.
type Queue struct {
	syncer  *Synchronizer
	logger  *slog.Logger
	delay   time.Duration
	workers chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a debounced sync queue. delay is how long a group is
// allowed to settle after its latest member; workers caps concurrent
// syncs.
func NewQueue(log *slog.Logger, synchronizer *Synchronizer, delay time.Duration, workers int) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if delay <= 0 {
		delay = time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		syncer:  synchronizer,
		logger:  log.With(slog.String("service", "groupsync")),
		delay:   delay,
		workers: make(chan struct{}, workers),
		timers:  map[string]*time.Timer{},
	}
}

// Schedule arms (or re-arms) the settling timer for a media group.
func (q *Queue) Schedule(mediaGroupID string) {
	if mediaGroupID == "" {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	// Reset only a timer that is provably unfired. If Stop returns
	// false the old callback is already on its way; replace the entry
	// with a fresh timer and let the old callback notice it lost
	// ownership.
	if timer, ok := q.timers[mediaGroupID]; ok && timer.Stop() {
		timer.Reset(q.delay)
		return
	}
	q.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(q.delay, func() {
		q.fire(mediaGroupID, timer)
	})
	q.timers[mediaGroupID] = timer
}

// fire is the timer callback. Exactly one fire per wg.Add; a callback
// whose timer was replaced by a later Schedule gives up without
// syncing.
func (q *Queue) fire(mediaGroupID string, timer *time.Timer) {
	defer q.wg.Done()

	q.mu.Lock()
	owned := q.timers[mediaGroupID] == timer
	if owned {
		delete(q.timers, mediaGroupID)
	}
	q.mu.Unlock()
	if !owned {
		return
	}
	q.run(mediaGroupID)
}

func (q *Queue) run(mediaGroupID string) {
	q.workers <- struct{}{}
	defer func() { <-q.workers }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := q.syncer.Sync(ctx, mediaGroupID); err != nil {
		q.logger.Error("media group sync failed",
			slog.String("media_group_id", mediaGroupID),
			slog.String("error", err.Error()))
	}
}

// Close stops accepting new groups, runs pending syncs immediately,
// and waits for in-flight syncs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for id, timer := range q.timers {
		if timer.Stop() {
			go q.fire(id, timer)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}
