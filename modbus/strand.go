package modbus

import (
	"sync"
)

// strand runs posted functions one at a time, in the order they were posted.
// No goroutine is kept while the queue is empty.
type strand struct {
	// mx protects the fields below.
	mx sync.Mutex

	// queue holds the functions waiting to run.
	queue []func()

	// running is true while a goroutine is draining queue.
	running bool
}

// post queues fn to run on the strand. It never blocks and never runs fn
// synchronously, so it is safe to call from within a function running on the
// strand.
func (s *strand) post(fn func()) {
	s.mx.Lock()
	s.queue = append(s.queue, fn)
	if s.running {
		s.mx.Unlock()
		return
	}
	s.running = true
	s.mx.Unlock()
	go s.run()
}

// run drains the queue.
func (s *strand) run() {
	for {
		s.mx.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.queue = nil
			s.mx.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mx.Unlock()
		fn()
	}
}

// call runs fn on the strand and waits for it to return.
func (s *strand) call(fn func()) {
	done := make(chan struct{})
	s.post(func() {
		defer close(done)
		fn()
	})
	<-done
}
