package session

import (
	"errors"
	"sync"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
)

// fakeEngine is an in-memory engine.Session for supervisor tests. Alerts are
// injected with push; the notify callback fires like the real adapter's.
type fakeEngine struct {
	mu      sync.Mutex
	alerts  []engine.Alert
	notify  func()
	signal  chan struct{}
	handles map[string]*fakeHandle

	addErr    error
	paused    bool
	closed    bool
	nextHash  int
	extension []engine.Extension

	// pendingInfo is attached to the next metadata-bearing add, mirroring
	// the real adapter's synchronous geometry for .torrent adds.
	pendingInfo *engine.TorrentInfo
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		signal:  make(chan struct{}, 1),
		handles: map[string]*fakeHandle{},
	}
}

type fakeFactory struct {
	eng *fakeEngine
	// params observed at construction.
	gotParams engine.SessionParams
	err       error
}

func (f *fakeFactory) New(params engine.SessionParams) (engine.Session, error) {
	f.gotParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.eng, nil
}

func (e *fakeEngine) push(a engine.Alert) {
	e.mu.Lock()
	wasEmpty := len(e.alerts) == 0
	e.alerts = append(e.alerts, a)
	notify := e.notify
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	if wasEmpty && notify != nil {
		notify()
	}
}

func (e *fakeEngine) AddTorrent(params *engine.AddTorrentParams) (engine.TorrentHandle, error) {
	if e.addErr != nil {
		return nil, e.addErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	hash := params.Name
	if hash == "" {
		hash = "torrent"
	}
	if _, ok := e.handles[hash]; ok {
		return nil, errors.New("duplicate torrent")
	}
	h := &fakeHandle{
		eng:   e,
		hash:  domain.InfoHash{V1: hash},
		name:  params.Name,
		save:  params.SavePath,
		pos:   e.nextHash,
		data:  params.ClientData,
		valid: true,
		flags: engine.FlagAutoManaged,
		meta:  len(params.InfoBytes) > 0,
	}
	if h.meta && e.pendingInfo != nil {
		h.info = e.pendingInfo
		e.pendingInfo = nil
	}
	e.nextHash++
	e.handles[hash] = h
	return h, nil
}

func (e *fakeEngine) RemoveTorrent(h engine.TorrentHandle, deleteFiles bool) {
	fh := h.(*fakeHandle)
	e.mu.Lock()
	delete(e.handles, fh.hash.V1)
	fh.valid = false
	fh.deleted = deleteFiles
	e.mu.Unlock()
	e.push(engine.TorrentRemovedAlert{Hash: fh.hash})
}

func (e *fakeEngine) Pause()  { e.paused = true }
func (e *fakeEngine) Resume() { e.paused = false }

func (e *fakeEngine) ApplySettings(engine.Settings) {}
func (e *fakeEngine) GetSettings() engine.Settings  { return nil }

func (e *fakeEngine) PostDHTStats() { e.push(engine.DHTStatsAlert{Nodes: 42}) }
func (e *fakeEngine) PostSessionStats() {
	e.push(engine.SessionStatsAlert{Counters: []int64{100, 200}})
}
func (e *fakeEngine) PostTorrentUpdates() {
	e.mu.Lock()
	statuses := make([]engine.TorrentStatus, 0, len(e.handles))
	for _, h := range e.handles {
		statuses = append(statuses, h.Status())
	}
	e.mu.Unlock()
	e.push(engine.StateUpdateAlert{Statuses: statuses})
}

func (e *fakeEngine) StatsMetrics() []string {
	return []string{"net.recv_bytes", "net.sent_bytes"}
}

func (e *fakeEngine) StateParams() ([]byte, error) {
	return []byte("dht-state"), nil
}

func (e *fakeEngine) SetAlertNotify(fn func()) {
	e.mu.Lock()
	e.notify = fn
	e.mu.Unlock()
}

func (e *fakeEngine) PopAlerts() []engine.Alert {
	e.mu.Lock()
	out := e.alerts
	e.alerts = nil
	e.mu.Unlock()
	return out
}

func (e *fakeEngine) WaitForAlert(timeout time.Duration) engine.Alert {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		e.mu.Lock()
		if len(e.alerts) > 0 {
			a := e.alerts[0]
			e.mu.Unlock()
			return a
		}
		e.mu.Unlock()
		select {
		case <-e.signal:
		case <-deadline.C:
			return nil
		}
	}
}

func (e *fakeEngine) AddExtension(ext engine.Extension) {
	e.extension = append(e.extension, ext)
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

// fakeHandle implements engine.TorrentHandle with scripted state.
type fakeHandle struct {
	eng *fakeEngine

	mu         sync.Mutex
	hash       domain.InfoHash
	name       string
	save       string
	pos        int
	flags      engine.TorrentFlags
	valid      bool
	deleted    bool
	meta       bool
	dirty      bool
	finished   bool
	total      int64
	data       *domain.ClientData
	info       *engine.TorrentInfo
	priorities []engine.PiecePriority
	prioCalls  int
	rechecks   int
	saveCalls  int
}

func (h *fakeHandle) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}

func (h *fakeHandle) InfoHash() domain.InfoHash { return h.hash }

func (h *fakeHandle) Status() engine.TorrentStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return engine.TorrentStatus{
		InfoHash:       h.hash,
		Name:           h.name,
		SavePath:       h.save,
		QueuePosition:  h.pos,
		Paused:         h.flags&engine.FlagPaused != 0,
		AutoManaged:    h.flags&engine.FlagAutoManaged != 0,
		HasMetadata:    h.meta,
		NeedSaveResume: h.dirty,
		TotalDownload:  h.total,
	}
}

func (h *fakeHandle) Flags() engine.TorrentFlags {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags
}

func (h *fakeHandle) SetFlags(f engine.TorrentFlags) {
	h.mu.Lock()
	h.flags |= f
	h.mu.Unlock()
	if f&engine.FlagPaused != 0 {
		h.Pause()
	}
}

func (h *fakeHandle) UnsetFlags(f engine.TorrentFlags) {
	h.mu.Lock()
	h.flags &^= f
	h.mu.Unlock()
}

func (h *fakeHandle) Pause() {
	h.mu.Lock()
	was := h.flags&engine.FlagPaused != 0
	h.flags |= engine.FlagPaused
	h.mu.Unlock()
	if !was {
		h.eng.push(engine.TorrentPausedAlert{Hash: h.hash, Handle: h})
	}
}

func (h *fakeHandle) Resume() {
	h.mu.Lock()
	was := h.flags&engine.FlagPaused != 0
	h.flags &^= engine.FlagPaused
	h.mu.Unlock()
	if was {
		h.eng.push(engine.TorrentResumedAlert{Hash: h.hash, Handle: h})
	}
}

func (h *fakeHandle) ForceRecheck() {
	h.mu.Lock()
	h.rechecks++
	h.mu.Unlock()
}

func (h *fakeHandle) finishRecheck() {
	h.eng.push(engine.TorrentCheckedAlert{Hash: h.hash, Handle: h})
}

func (h *fakeHandle) SaveResumeData(flags engine.SaveResumeFlags) {
	h.mu.Lock()
	if flags&engine.OnlyIfModified != 0 && !h.dirty {
		h.mu.Unlock()
		return
	}
	h.dirty = false
	h.saveCalls++
	params := engine.AddTorrentParams{
		Name:          h.name,
		SavePath:      h.save,
		QueuePosition: h.pos,
		InfoBytes:     []byte("d4:infoe"),
		ClientData:    h.data,
	}
	h.mu.Unlock()
	h.eng.push(engine.SaveResumeDataAlert{Hash: h.hash, Handle: h, Params: params})
}

func (h *fakeHandle) PrioritizePieces(priorities []engine.PiecePriority) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.priorities = append([]engine.PiecePriority(nil), priorities...)
	h.prioCalls++
}

func (h *fakeHandle) prioCallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prioCalls
}

func (h *fakeHandle) PiecePriorities() []engine.PiecePriority {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.PiecePriority(nil), h.priorities...)
}

func (h *fakeHandle) TorrentInfo() *engine.TorrentInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

func (h *fakeHandle) ClientData() *domain.ClientData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

func (h *fakeHandle) MoveStorage(path string) {
	h.mu.Lock()
	h.save = path
	h.dirty = true
	h.mu.Unlock()
	h.eng.push(engine.StorageMovedAlert{Hash: h.hash, Handle: h, Path: path})
}
