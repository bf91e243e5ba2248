package datalayer

import "sync"

// Placeholder collects events from producers that start before the queue
// exists. Once a queue binds to it, buffered events move into the queue in
// order and later pushes go straight to the queue.
type Placeholder struct {
	mu     sync.Mutex
	events []Event
	queue  *Queue
}

// NewPlaceholder creates an empty placeholder.
func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

// Push records e, or forwards it to the bound queue.
func (p *Placeholder) Push(e Event) {
	p.mu.Lock()
	q := p.queue
	if q == nil {
		p.events = append(p.events, e)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	q.Push(e)
}

// Len returns the number of events held by an unbound placeholder.
func (p *Placeholder) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *Placeholder) bind(q *Queue) {
	p.mu.Lock()
	held := p.events
	p.events = nil
	p.queue = q
	p.mu.Unlock()

	q.Assign(held)
}
