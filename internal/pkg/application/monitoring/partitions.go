package monitoring

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/vardwise/patient-monitoring/internal/pkg/infrastructure/metrics"
)

const (
	DefaultWorkerCount = 8

	partitionQueueDepth = 256
)

var errPoolStopped = fmt.Errorf("worker pool has been stopped")

type job func(ctx context.Context)

// partitionPool serializes work per patient. Jobs are routed by an FNV-1a
// hash of the patient id to a fixed partition, so two jobs for the same
// patient never run concurrently, while jobs for different patients spread
// across the workers.
type partitionPool struct {
	queues []chan job
	done   chan struct{}
	wg     sync.WaitGroup
}

func newPartitionPool(workers int) *partitionPool {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}

	p := &partitionPool{
		queues: make([]chan job, workers),
		done:   make(chan struct{}),
	}

	for i := range p.queues {
		p.queues[i] = make(chan job, partitionQueueDepth)
	}

	return p
}

func (p *partitionPool) Start(ctx context.Context) {
	for i := range p.queues {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

// Stop prevents further submissions and waits for the workers to finish
// the job they are on. Jobs still queued are abandoned.
func (p *partitionPool) Stop() {
	close(p.done)
	p.wg.Wait()
}

func (p *partitionPool) work(ctx context.Context, partition int) {
	defer p.wg.Done()

	depth := metrics.QueueDepth.WithLabelValues(strconv.Itoa(partition))

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case j := <-p.queues[partition]:
			depth.Dec()
			j(ctx)
		}
	}
}

// Submit blocks when the partition queue is full, applying backpressure to
// the message consumer instead of growing without bound.
func (p *partitionPool) Submit(ctx context.Context, patientID string, j job) error {
	partition := p.partition(patientID)

	select {
	case p.queues[partition] <- j:
		metrics.QueueDepth.WithLabelValues(strconv.Itoa(partition)).Inc()
		return nil
	case <-p.done:
		return errPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *partitionPool) partition(patientID string) int {
	h := fnv.New32a()
	h.Write([]byte(patientID))
	return int(h.Sum32() % uint32(len(p.queues)))
}
