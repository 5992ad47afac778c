package asyncrt

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics, installed via [WithMetrics]. All
// metrics are optional, low-overhead, and safe for concurrent use from any
// goroutine.
type Metrics struct {
	Latency LatencyMetrics
	Queue   QueueMetrics

	mu sync.Mutex

	// TPS is the current task-completion rate (transactions per second).
	TPS float64
}

// sampleSize is the number of latency samples retained by the rolling
// buffer used to compute percentiles.
const sampleSize = 1000

// LatencyMetrics tracks task poll-to-completion latency distribution.
// Percentiles are computed on demand from a fixed-size rolling sample
// buffer (sort-based, exact): at sampleSize=1000 this is cheap enough to
// compute on demand rather than needing a streaming estimator.
type LatencyMetrics struct {
	mu sync.RWMutex

	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	Mean time.Duration
	Sum  time.Duration
}

// Record records one task's run-to-completion latency. The Runtime does
// not call it; samples come only from callers that record them directly.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sampleCount >= sampleSize {
		old := l.samples[l.sampleIdx]
		l.Sum -= old
	}

	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample recomputes the cached percentile fields from the current sample
// buffer and returns the number of samples used.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	l.P50 = sorted[percentileIndex(count, 50)]
	l.P90 = sorted[percentileIndex(count, 90)]
	l.P95 = sorted[percentileIndex(count, 95)]
	l.P99 = sorted[percentileIndex(count, 99)]
	l.Max = sorted[count-1]
	l.Mean = l.Sum / time.Duration(count)

	return count
}

func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// QueueMetrics holds depth statistics for the shared run queue, the
// blocking-pool job queue, and ready-fd delivery from the IoDriver. The
// Runtime updates only the run-queue fields, on every enqueue; the
// blocking and io-ready fields change only through direct calls to
// UpdateBlocking and UpdateIoReady.
type QueueMetrics struct {
	mu sync.RWMutex

	RunQueueCurrent  int
	BlockingCurrent  int
	IoReadyCurrent   int

	RunQueueMax int
	BlockingMax int
	IoReadyMax  int

	RunQueueAvg float64
	BlockingAvg float64
	IoReadyAvg  float64

	runQueueEMAInit bool
	blockingEMAInit bool
	ioReadyEMAInit  bool
}

func updateEMA(current *float64, initialized *bool, depth int) {
	if !*initialized {
		*current = float64(depth)
		*initialized = true
		return
	}
	*current = 0.9**current + 0.1*float64(depth)
}

// UpdateRunQueue records a new run-queue depth observation.
func (q *QueueMetrics) UpdateRunQueue(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.RunQueueCurrent = depth
	if depth > q.RunQueueMax {
		q.RunQueueMax = depth
	}
	updateEMA(&q.RunQueueAvg, &q.runQueueEMAInit, depth)
}

// UpdateBlocking records a new blocking-pool queue depth observation.
func (q *QueueMetrics) UpdateBlocking(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.BlockingCurrent = depth
	if depth > q.BlockingMax {
		q.BlockingMax = depth
	}
	updateEMA(&q.BlockingAvg, &q.blockingEMAInit, depth)
}

// UpdateIoReady records a new per-poll ready-fd count observation.
func (q *QueueMetrics) UpdateIoReady(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.IoReadyCurrent = depth
	if depth > q.IoReadyMax {
		q.IoReadyMax = depth
	}
	updateEMA(&q.IoReadyAvg, &q.ioReadyEMAInit, depth)
}

// TPSCounter tracks a rolling-window transaction (task completion) rate.
type TPSCounter struct {
	lastRotation atomic.Value // time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	mu           sync.Mutex
}

// NewTPSCounter creates a TPS counter over windowSize, divided into
// buckets of bucketSize (both must be positive, bucketSize <= windowSize).
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	if windowSize <= 0 {
		panic("asyncrt: windowSize must be positive")
	}
	if bucketSize <= 0 {
		panic("asyncrt: bucketSize must be positive")
	}
	if bucketSize > windowSize {
		panic("asyncrt: bucketSize cannot exceed windowSize")
	}

	bucketCount := int(windowSize / bucketSize)
	counter := &TPSCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

// Increment records one completed task.
func (t *TPSCounter) Increment() {
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

func (t *TPSCounter) rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastRotation := t.lastRotation.Load().(time.Time)
	elapsed := now.Sub(lastRotation)

	bucketsToAdvanceInt64 := int64(elapsed) / int64(t.bucketSize)
	if bucketsToAdvanceInt64 < 0 {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	} else if bucketsToAdvanceInt64 > int64(len(t.buckets)) {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	}
	bucketsToAdvance := int(bucketsToAdvanceInt64)

	if bucketsToAdvance >= len(t.buckets) {
		for i := range t.buckets {
			t.buckets[i] = 0
		}
		t.lastRotation.Store(now)
		return
	}
	if bucketsToAdvance <= 0 {
		return
	}

	copy(t.buckets, t.buckets[bucketsToAdvance:])
	for i := len(t.buckets) - bucketsToAdvance; i < len(t.buckets); i++ {
		t.buckets[i] = 0
	}
	t.lastRotation.Store(lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize))
}

// TPS returns the current completion rate.
func (t *TPSCounter) TPS() float64 {
	t.rotate()

	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}
	if sum == 0 {
		return 0
	}

	monitoredDuration := float64(len(t.buckets)) * t.bucketSize.Seconds()
	return float64(sum) / monitoredDuration
}
