// Package broadcast fans out an ordered byte stream from one producer to
// many concurrent consumers with instant replay for late joiners.
//
// This is the Go rendering of the source's StreamBroadcaster
// (services/broadcast.py): a Python threading.Lock + per-client
// queue.Queue design is translated to a sync.Mutex-guarded subscriber set
// plus per-subscription bounded queues (Subscription). The original
// blocks a producer for up to two seconds against a full client queue
// before giving up on that chunk; this version never blocks the producer
// at all — it drops the oldest queued chunk for that one client instead,
// per the drop-oldest slow-consumer policy the design calls for.
package broadcast

import (
	"sync"

	"airwaves/internal/logging"
)

var log = logging.For("broadcast")

// Broadcaster fans out published byte chunks to all active Subscriptions
// and retains the most recent chunks in a replay buffer so a newly
// subscribing client can catch up without waiting for the next chunk.
type Broadcaster struct {
	mu         sync.Mutex
	replay     [][]byte
	replayCap  int
	subs       map[*Subscription]struct{}
	queueDepth int
	closed     bool
}

// New returns a Broadcaster retaining up to replayCap chunks and giving
// each subscription a queue depth of queueDepth chunks.
func New(replayCap, queueDepth int) *Broadcaster {
	return &Broadcaster{
		replayCap:  replayCap,
		queueDepth: queueDepth,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Publish appends chunk to the replay buffer (evicting the oldest chunk
// if full) and enqueues it into every active subscription. Publishing
// never blocks and is a no-op once the broadcaster is closed.
func (b *Broadcaster) Publish(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.replay = append(b.replay, chunk)
	if len(b.replay) > b.replayCap {
		b.replay = b.replay[len(b.replay)-b.replayCap:]
	}

	for sub := range b.subs {
		sub.enqueue(chunk)
	}
}

// Subscribe registers a new Subscription, atomically seeding it with a
// snapshot of the current replay buffer under the same critical section
// that adds it to the active set — no chunk published concurrently with
// this call can be missed or duplicated. Subscribing to a closed
// broadcaster returns an already-closed Subscription.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscription(b.queueDepth)
	if b.closed {
		sub.Close()
		return sub
	}
	for _, chunk := range b.replay {
		sub.enqueue(chunk)
	}
	b.subs[sub] = struct{}{}
	log.Printf("subscribed (active=%d)", len(b.subs))
	return sub
}

// Unsubscribe removes sub from the active set and closes it. In-flight
// Next calls on sub return closed.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	remaining := len(b.subs)
	b.mu.Unlock()

	sub.Close()
	if ok {
		log.Printf("unsubscribed (active=%d)", remaining)
	}
}

// Close marks the broadcaster closed and closes every active
// subscription. Idempotent; publishing or subscribing after Close is
// safe (publish becomes a no-op, subscribe returns a closed handle).
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.replay = nil
	b.mu.Unlock()

	for sub := range subs {
		sub.Close()
	}
	log.Printf("closed (%d subscriptions released)", len(subs))
}

// ActiveSubscriptions returns the current number of active subscriptions.
func (b *Broadcaster) ActiveSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
