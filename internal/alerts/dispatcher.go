package alerts

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/sentry.report/internal/monitoring"
	"github.com/banshee-data/sentry.report/internal/timeutil"
)

// TaskState tracks a queued notification through its lifetime.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskDispatched TaskState = "dispatched"
	TaskFailed     TaskState = "failed"
)

// Task is one queued notification: an alert plus the channels and
// recipients it goes out on.
type Task struct {
	Alert      Alert
	Channels   []string
	Recipients map[string][]string
	Attempts   int
	LastErr    string
	State      TaskState
	EnqueuedAt time.Time

	seq uint64
}

// taskQueue orders tasks by priority rank, then FIFO within a rank.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	ri, rj := q[i].Alert.Priority.Rank(), q[j].Alert.Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x interface{}) {
	*q = append(*q, x.(*Task))
}
func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// DispatcherConfig tunes delivery behavior.
type DispatcherConfig struct {
	// MaxRetries bounds the extra attempts per channel after the first.
	// Zero disables retries; negative falls back to the default.
	MaxRetries int
	// RetryDelay is the base backoff; attempt n waits n×RetryDelay.
	RetryDelay time.Duration
	// SendTimeout bounds each individual channel send.
	SendTimeout time.Duration
}

// DefaultDispatcherConfig returns the standard delivery settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRetries:  3,
		RetryDelay:  2 * time.Second,
		SendTimeout: 10 * time.Second,
	}
}

// Dispatcher owns the notification queue: alerts enter through Dispatch,
// a single worker drains them in priority order and fans each one out to
// its channels. Failures on one channel never affect another.
type Dispatcher struct {
	cfg        DispatcherConfig
	limiter    *RateLimiter
	clock      timeutil.Clock
	channels   map[string]Channel
	recipients map[Priority]map[string][]string

	mu      sync.Mutex
	queue   taskQueue
	nextSeq uint64

	notify   chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
	started  bool
	observer func(*Task)
}

// NewDispatcher wires a dispatcher. channels maps channel name to
// implementation; recipients maps priority and channel name to the
// destination list.
func NewDispatcher(cfg DispatcherConfig, limiter *RateLimiter, clock timeutil.Clock,
	channels map[string]Channel, recipients map[Priority]map[string][]string) *Dispatcher {

	def := DefaultDispatcherConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if limiter == nil {
		limiter = NewRateLimiter(clock)
	}
	return &Dispatcher{
		cfg:        cfg,
		limiter:    limiter,
		clock:      clock,
		channels:   channels,
		recipients: recipients,
		notify:     make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// SetObserver registers a callback invoked after each task settles, used
// to journal outcomes. Must be called before Start.
func (d *Dispatcher) SetObserver(f func(*Task)) {
	d.observer = f
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.worker()
}

// Stop halts the worker after its current task. Tasks still queued are
// counted and logged, never silently discarded.
func (d *Dispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()

	d.mu.Lock()
	pending := len(d.queue)
	d.mu.Unlock()
	if pending > 0 {
		monitoring.Logf("alerts: dispatcher stopped with %d tasks still queued", pending)
	}
}

// Dispatch applies rate limiting and, if the alert passes, queues it for
// delivery. It reports whether the alert was accepted.
func (d *Dispatcher) Dispatch(alert Alert) bool {
	if alert.Priority == "" {
		alert.Priority = PriorityFor(alert.Type)
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = d.clock.Now()
	}

	fp := Fingerprint(alert.Type, alert.Location)
	if !d.limiter.Allow(fp, alert.Priority) {
		monitoring.Logf("alerts: suppressed %s alert at %s (rate limit, %d suppressed total)",
			alert.Type, alert.Location, d.limiter.Suppressed())
		return false
	}

	task := &Task{
		Alert:      alert,
		Channels:   ChannelsFor(alert.Priority),
		Recipients: d.recipients[alert.Priority],
		State:      TaskPending,
		EnqueuedAt: d.clock.Now(),
	}

	d.mu.Lock()
	d.nextSeq++
	task.seq = d.nextSeq
	heap.Push(&d.queue, task)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

// QueueLen returns the number of tasks waiting for the worker.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		task := d.pop()
		if task == nil {
			select {
			case <-d.notify:
				continue
			case <-d.stop:
				return
			}
		}
		d.process(task)
		select {
		case <-d.stop:
			return
		default:
		}
	}
}

func (d *Dispatcher) pop() *Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	return heap.Pop(&d.queue).(*Task)
}

// process fans the task out to its channels. Each channel gets its own
// retry budget; a permanent error stops retrying that channel only.
func (d *Dispatcher) process(task *Task) {
	delivered := 0
	for _, name := range task.Channels {
		ch, ok := d.channels[name]
		if !ok {
			continue
		}
		recipients := task.Recipients[name]
		if err := d.sendWithRetry(ch, task, recipients); err != nil {
			task.LastErr = err.Error()
			monitoring.Logf("alerts: %s delivery of %s alert %s failed: %v",
				name, task.Alert.Type, task.Alert.ID, err)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		task.State = TaskDispatched
	} else {
		task.State = TaskFailed
		monitoring.Logf("alerts: %s alert %s failed on every channel, last error: %s",
			task.Alert.Type, task.Alert.ID, task.LastErr)
	}
	if d.observer != nil {
		d.observer(task)
	}
}

func (d *Dispatcher) sendWithRetry(ch Channel, task *Task, recipients []string) error {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			d.clock.Sleep(time.Duration(attempt) * d.cfg.RetryDelay)
		}
		task.Attempts++

		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := ch.Send(ctx, task.Alert, recipients)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) {
			return err
		}
	}
	return lastErr
}
