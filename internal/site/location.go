package site

import "sync"

// Navigator is the host surface the voice assistant drives. Navigate sets the
// page the user is looking at; it must not block.
type Navigator interface {
	Navigate(p Page)
}

// NavigatorFunc adapts a function to the [Navigator] interface.
type NavigatorFunc func(p Page)

// Navigate calls f(p).
func (f NavigatorFunc) Navigate(p Page) { f(p) }

// Location is a concurrency-safe [Navigator] that remembers the current page
// and notifies subscribers of every change.
type Location struct {
	mu      sync.RWMutex
	current Page
	subs    map[int]func(Page)
	nextID  int
}

// NewLocation returns a Location starting at initial. An invalid initial page
// falls back to [Home].
func NewLocation(initial Page) *Location {
	if !initial.Valid() {
		initial = Home
	}
	return &Location{current: initial, subs: make(map[int]func(Page))}
}

// Current returns the current page.
func (l *Location) Current() Page {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Navigate implements [Navigator]. Invalid pages are ignored. Subscribers run
// synchronously on the caller's goroutine, after the lock is released.
func (l *Location) Navigate(p Page) {
	if !p.Valid() {
		return
	}
	l.mu.Lock()
	l.current = p
	fns := make([]func(Page), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// Subscribe registers fn to be called after every navigation. The returned
// function removes the subscription.
func (l *Location) Subscribe(fn func(Page)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}
