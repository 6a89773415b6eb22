package session

import (
	"sort"
	"sync"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
)

// Event is a domain event published by the session. Name is the workflow
// trigger key; Payload is the snapshot handed to subscribers and to workflow
// expression contexts.
type Event interface {
	Name() string
	Payload() any
}

type TorrentAddedEvent struct {
	Status engine.TorrentStatus
}

func (TorrentAddedEvent) Name() string   { return "torrent-added" }
func (e TorrentAddedEvent) Payload() any { return e.Status }

type TorrentPausedEvent struct {
	Status engine.TorrentStatus
}

func (TorrentPausedEvent) Name() string   { return "torrent-paused" }
func (e TorrentPausedEvent) Payload() any { return e.Status }

type TorrentResumedEvent struct {
	Status engine.TorrentStatus
}

func (TorrentResumedEvent) Name() string   { return "torrent-resumed" }
func (e TorrentResumedEvent) Payload() any { return e.Status }

type TorrentFinishedEvent struct {
	Status engine.TorrentStatus
}

func (TorrentFinishedEvent) Name() string   { return "torrent-finished" }
func (e TorrentFinishedEvent) Payload() any { return e.Status }

type TorrentRemovedEvent struct {
	Hash domain.InfoHash
}

func (TorrentRemovedEvent) Name() string   { return "torrent-removed" }
func (e TorrentRemovedEvent) Payload() any { return e.Hash }

type StorageMovedEvent struct {
	Handle engine.TorrentHandle
	Status engine.TorrentStatus
}

func (StorageMovedEvent) Name() string   { return "storage-moved" }
func (e StorageMovedEvent) Payload() any { return e.Status }

type StateUpdateEvent struct {
	Statuses []engine.TorrentStatus
}

func (StateUpdateEvent) Name() string   { return "state-update" }
func (e StateUpdateEvent) Payload() any { return e.Statuses }

type SessionStatsEvent struct {
	Stats map[string]int64
}

func (SessionStatsEvent) Name() string   { return "session-stats" }
func (e SessionStatsEvent) Payload() any { return e.Stats }

type TorrentMediaInfoEvent struct {
	Handle engine.TorrentHandle
	Status engine.TorrentStatus
}

func (TorrentMediaInfoEvent) Name() string   { return "torrent-mediainfo" }
func (e TorrentMediaInfoEvent) Payload() any { return e.Status }

// Bus fans events out to subscribers. Publish runs on the event loop;
// handlers run synchronously there and must not retain engine-owned
// references past the call. Subscribe is safe from any goroutine.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: map[int]func(Event){}}
}

// Subscribe registers fn and returns an unsubscribe func.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
