package broker

import "sync"

// Broadcaster fans out published values to every subscriber.
//
// Each subscriber channel holds at most one value. When a subscriber falls behind, the pending value is
// replaced with the newest one, so slow consumers always observe the latest state and never block the
// publisher. New subscribers immediately receive the last published value.
//
// This kind of broker is useful for pushing session snapshots to a presentation layer that only ever
// renders the most recent one.
type Broadcaster[T any] struct {
	stopChannel        chan struct{}
	stopOnce           sync.Once
	publishChannel     chan T
	subscribeChannel   chan chan T
	unsubscribeChannel chan chan T
}

// NewBroadcaster creates a new Broadcaster. Start must be called in a goroutine before use and Stop
// releases it.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		stopChannel:        make(chan struct{}),
		stopOnce:           sync.Once{},
		publishChannel:     make(chan T),
		subscribeChannel:   make(chan chan T),
		unsubscribeChannel: make(chan chan T),
	}
}

// Start listening for publish, subscribe, and unsubscribe events. This function blocks until Stop() is called,
// so it should be called in a goroutine. All subscriber channels are closed when it returns.
func (b *Broadcaster[T]) Start() {
	var (
		last        T
		hasLast     bool
		subscribers = map[chan T]struct{}{}
	)
	for {
		select {
		case <-b.stopChannel:
			for c := range subscribers {
				close(c)
			}
			return

		case c := <-b.subscribeChannel:
			subscribers[c] = struct{}{}
			if hasLast {
				offer(c, last)
			}

		case c := <-b.unsubscribeChannel:
			if _, ok := subscribers[c]; ok {
				delete(subscribers, c)
				close(c)
			}

		case v := <-b.publishChannel:
			last, hasLast = v, true
			for c := range subscribers {
				offer(c, v)
			}
		}
	}
}

// offer puts v into the single-slot channel c, replacing a value the subscriber has not consumed yet.
// Only the broadcaster goroutine sends on c, so the second send cannot block.
func offer[T any](c chan T, v T) {
	select {
	case c <- v:
		return
	default:
	}
	select {
	case <-c:
	default:
	}
	c <- v
}

// Stop the goroutine that handles the broadcaster. It is safe to call Stop more than once.
func (b *Broadcaster[T]) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChannel)
	})
}

// Subscribe returns a channel receiving published values. The channel is closed by Unsubscribe or Stop.
// After Stop, Subscribe returns an already closed channel.
func (b *Broadcaster[T]) Subscribe() chan T {
	c := make(chan T, 1)
	select {
	case b.subscribeChannel <- c:
	case <-b.stopChannel:
		close(c)
	}
	return c
}

// Unsubscribe stops delivery to c and closes it.
func (b *Broadcaster[T]) Unsubscribe(c chan T) {
	select {
	case b.unsubscribeChannel <- c:
	case <-b.stopChannel:
	}
}

// Publish v to all current subscribers. Publish is a no-op after Stop.
func (b *Broadcaster[T]) Publish(v T) {
	select {
	case b.publishChannel <- v:
	case <-b.stopChannel:
	}
}
