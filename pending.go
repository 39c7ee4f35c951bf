package kpeer

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// PendingRequest is an issued request waiting for its correlated response.
type PendingRequest struct {
	id        uint64
	reg       *pendingRegistry
	createdAt time.Time

	once sync.Once
	done chan struct{}
	resp *IncomingMessage
	err  error
}

func (p *PendingRequest) CorrelationID() uint64 {
	return p.id
}

// Done is closed once the request is resolved, cancelled or evicted.
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the response arrives or ctx ends. When ctx ends first the
// pending record is dropped so a late response is discarded.
func (p *PendingRequest) Wait(ctx context.Context) (*IncomingMessage, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.reg.cancel(p.id, ctx.Err())
		<-p.done
	}
	return p.resp, p.err
}

// Cancel drops the pending record. A response arriving afterwards is ignored.
func (p *PendingRequest) Cancel() {
	p.reg.cancel(p.id, ErrRequestCancelled)
}

func (p *PendingRequest) finish(resp *IncomingMessage, err error) {
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		close(p.done)
	})
}

// pendingRegistry maps correlation ids to pending requests. A record is
// removed before it is finished, so each one resolves at most once.
type pendingRegistry struct {
	mu      sync.Mutex
	limit   int
	discard int
	records map[uint64]*PendingRequest
	order   *queue.Queue
	closed  error
}

func newPendingRegistry(limit, discard int) *pendingRegistry {
	if discard <= 0 {
		discard = 1
	}
	return &pendingRegistry{
		limit:   limit,
		discard: discard,
		records: make(map[uint64]*PendingRequest),
		order:   queue.New(),
	}
}

func (r *pendingRegistry) add(id uint64) (*PendingRequest, error) {
	p := &PendingRequest{
		id:        id,
		reg:       r,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed != nil {
		err := r.closed
		r.mu.Unlock()
		return nil, err
	}

	var evicted []*PendingRequest
	if r.limit > 0 && len(r.records) >= r.limit {
		evicted = r.evictOldest(r.discard)
	}

	r.records[id] = p
	r.order.Add(id)
	r.compact()
	r.mu.Unlock()

	for _, e := range evicted {
		e.finish(nil, ErrPendingEvicted)
	}
	return p, nil
}

// evictOldest removes up to num of the oldest records, must hold r.mu.
func (r *pendingRegistry) evictOldest(num int) (evicted []*PendingRequest) {
	for len(evicted) < num && r.order.Length() > 0 {
		id := r.order.Remove().(uint64)
		if p, ok := r.records[id]; ok {
			delete(r.records, id)
			evicted = append(evicted, p)
		}
	}
	return
}

// compact drops ids of finished records from the order queue, must hold r.mu.
func (r *pendingRegistry) compact() {
	if r.order.Length() <= 2*len(r.records)+64 {
		return
	}
	order := queue.New()
	for r.order.Length() > 0 {
		id := r.order.Remove().(uint64)
		if _, ok := r.records[id]; ok {
			order.Add(id)
		}
	}
	r.order = order
}

func (r *pendingRegistry) take(id uint64) (*PendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	return p, ok
}

// resolve finishes the request with resp. It is false when no record exists:
// the request already resolved, timed out or was cancelled.
func (r *pendingRegistry) resolve(id uint64, resp *IncomingMessage) bool {
	p, ok := r.take(id)
	if !ok {
		return false
	}
	p.finish(resp, nil)
	return true
}

func (r *pendingRegistry) cancel(id uint64, err error) bool {
	p, ok := r.take(id)
	if !ok {
		return false
	}
	p.finish(nil, err)
	return true
}

// cancelAll finishes every record with err and refuses new ones.
func (r *pendingRegistry) cancelAll(err error) int {
	r.mu.Lock()
	records := r.records
	r.records = make(map[uint64]*PendingRequest)
	r.order = queue.New()
	r.closed = err
	r.mu.Unlock()

	for _, p := range records {
		p.finish(nil, err)
	}
	return len(records)
}

func (r *pendingRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
