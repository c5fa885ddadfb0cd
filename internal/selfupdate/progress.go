// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"sync"

	"github.com/charmbracelet/log"
)

// defaultSubscriberBuffer is the queue depth given to subscribers that ask for none.
const defaultSubscriberBuffer = 64

type (
	// ProgressEvent reports one step of an installation attempt.
	// Progress is 0..100 within Stage; Message is never empty.
	ProgressEvent struct {
		Stage    Stage  `json:"stage"`
		Progress int    `json:"progress"`
		Message  string `json:"message"`
	}

	// Broadcaster fans progress events out to subscribers. Publishing never
	// blocks: a subscriber whose queue is full misses that event.
	Broadcaster struct {
		mu     sync.Mutex
		subs   map[uint64]chan ProgressEvent
		nextID uint64
		logger *log.Logger
	}
)

// NewBroadcaster returns an empty broadcaster. A nil logger disables drop logging.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[uint64]chan ProgressEvent),
		logger: logger,
	}
}

// Subscribe registers a new observer with a queue of buffer events and
// returns its channel plus an unsubscribe func that closes the channel.
// Unsubscribe is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan ProgressEvent, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan ProgressEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking. Events delivered
// to one subscriber arrive in publish order.
func (b *Broadcaster) Publish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.logger != nil {
				b.logger.Debug("dropping progress event for slow subscriber",
					"subscriber", id, "stage", ev.Stage, "progress", ev.Progress)
			}
		}
	}
}
