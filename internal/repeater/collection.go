package repeater

import (
	"context"
	"sync"
)

// Collection tracks live repeaters. Members are removed once their abort completes.
type Collection struct {
	mu      sync.Mutex
	members map[*Repeater]struct{}
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{members: make(map[*Repeater]struct{})}
}

// Add creates a repeater, as New does, and registers it as a member. The
// returned repeater can be used directly, including aborting it on its own.
func (c *Collection) Add(callback Func, cfg Config) (*Repeater, error) {
	r, err := newRepeater(callback, cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.members[r] = struct{}{}
	c.mu.Unlock()

	// subscribe before arming so a repeater that aborts on its first tick is still removed
	r.Once(EventAborted, func(Event) {
		c.mu.Lock()
		delete(c.members, r)
		c.mu.Unlock()
	})
	r.start()
	return r, nil
}

// Abort aborts every current member and returns a channel that closes once all
// of them have completed. Repeaters added afterwards are not affected.
func (c *Collection) Abort() <-chan struct{} {
	members := c.Members()
	if len(members) == 0 {
		return alwaysClosed
	}

	var wg sync.WaitGroup
	wg.Add(len(members))
	for _, r := range members {
		done := r.Abort()
		go func() {
			defer wg.Done()
			<-done
		}()
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()
	return allDone
}

// AbortAndWait aborts all members and waits, returning ctx.Err() if the
// context ends first.
func (c *Collection) AbortAndWait(ctx context.Context) error {
	done := c.Abort()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of live members.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Members returns a snapshot of the live members.
func (c *Collection) Members() []*Repeater {
	c.mu.Lock()
	defer c.mu.Unlock()
	members := make([]*Repeater, 0, len(c.members))
	for r := range c.members {
		members = append(members, r)
	}
	return members
}
