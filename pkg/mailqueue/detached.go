package mailqueue

import "sync"

// detached tracks goroutines that outlive the call that started them.
// Once closed it refuses new work, so no Add races the final Wait.
type detached struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Go runs fn in its own goroutine. It reports false, without running fn,
// after Close.
func (d *detached) Go(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
	return true
}

// Wait blocks until running work has returned.
func (d *detached) Wait() {
	d.wg.Wait()
}

// Close refuses further work and waits for running work.
func (d *detached) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
