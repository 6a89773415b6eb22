package anacrolix

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
)

// maxEstablishedConns is restored when a paused torrent resumes.
const maxEstablishedConns = 50

// Handle wraps one live anacrolix torrent plus the bookkeeping the anacrolix
// client does not model: pause/auto-managed flags, queue position, save path
// and the resume-dirty bit.
type Handle struct {
	s *Session
	t *torrent.Torrent

	hash domain.InfoHash

	mu             sync.Mutex
	name           string
	savePath       string
	queuePos       int
	flags          engine.TorrentFlags
	needSaveResume bool
	clientData     *domain.ClientData
	priorities     []engine.PiecePriority
	info           *engine.TorrentInfo
	dropped        bool
	finished       bool
}

func newHandle(s *Session, t *torrent.Torrent, hash domain.InfoHash, p *engine.AddTorrentParams, pos int) *Handle {
	h := &Handle{
		s:          s,
		t:          t,
		hash:       hash,
		name:       p.Name,
		savePath:   p.SavePath,
		queuePos:   pos,
		clientData: p.ClientData,
	}
	if p.QueuePosition > 0 {
		h.queuePos = p.QueuePosition
	}
	if p.Paused {
		h.flags |= engine.FlagPaused
	} else {
		h.flags |= engine.FlagAutoManaged
	}
	return h
}

// watch runs for the life of the torrent, translating anacrolix state
// transitions into alerts.
func (h *Handle) watch() {
	select {
	case <-h.t.GotInfo():
	case <-h.t.Closed():
		return
	}

	h.buildInfo()
	h.markDirty()
	h.s.pushAlert(engine.MetadataReceivedAlert{Hash: h.hash, Handle: h})

	h.mu.Lock()
	paused := h.flags&engine.FlagPaused != 0
	h.mu.Unlock()
	if !paused && !h.s.isPaused() {
		h.t.DownloadAll()
	}

	sub := h.t.SubscribePieceStateChanges()
	defer sub.Close()
	for {
		select {
		case change, ok := <-sub.Values:
			if !ok {
				return
			}
			if !change.Complete {
				continue
			}
			h.markDirty()
			h.s.pushAlert(engine.PieceFinishedAlert{Hash: h.hash, Handle: h, PieceIndex: change.Index})
			h.checkFinished()
		case <-h.t.Closed():
			return
		}
	}
}

// buildInfo derives the piece/file geometry once metadata is known. The
// first caller wins; later calls are no-ops.
func (h *Handle) buildInfo() {
	h.mu.Lock()
	built := h.info != nil
	h.mu.Unlock()
	if built {
		return
	}
	info := h.t.Info()
	if info == nil {
		return
	}
	files := make([]engine.FileEntry, 0, len(h.t.Files()))
	for i, f := range h.t.Files() {
		files = append(files, engine.FileEntry{Index: i, Path: f.Path(), Length: f.Length()})
	}
	ti := engine.NewTorrentInfo(h.t.Name(), info.PieceLength, files)

	h.mu.Lock()
	h.info = ti
	if h.name == "" {
		h.name = ti.Name
	}
	if h.priorities == nil {
		h.priorities = make([]engine.PiecePriority, ti.NumPieces)
		for i := range h.priorities {
			h.priorities[i] = engine.DefaultPriority
		}
	}
	h.mu.Unlock()
}

func (h *Handle) checkFinished() {
	if h.t.Info() == nil {
		return
	}
	if h.t.BytesMissing() != 0 {
		return
	}
	h.mu.Lock()
	already := h.finished
	h.finished = true
	h.mu.Unlock()
	if !already {
		h.s.pushAlert(engine.TorrentFinishedAlert{Hash: h.hash, Handle: h})
	}
}

func (h *Handle) markDirty() {
	h.mu.Lock()
	h.needSaveResume = true
	h.mu.Unlock()
}

func (h *Handle) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.dropped
}

func (h *Handle) InfoHash() domain.InfoHash { return h.hash }

func (h *Handle) Status() engine.TorrentStatus {
	stats := h.t.Stats()

	h.mu.Lock()
	defer h.mu.Unlock()

	st := engine.TorrentStatus{
		InfoHash:       h.hash,
		Name:           h.name,
		SavePath:       h.savePath,
		QueuePosition:  h.queuePos,
		Paused:         h.flags&engine.FlagPaused != 0,
		AutoManaged:    h.flags&engine.FlagAutoManaged != 0,
		HasMetadata:    h.info != nil,
		NeedSaveResume: h.needSaveResume,
		TotalDownload:  stats.BytesReadData.Int64(),
		TotalUpload:    stats.BytesWrittenData.Int64(),
		Peers:          stats.ActivePeers,
		Seeds:          stats.ConnectedSeeders,
	}
	if h.info != nil {
		st.TotalSize = h.info.TotalLength()
		done := h.t.BytesCompleted()
		if st.TotalSize > 0 {
			st.Progress = float64(done) / float64(st.TotalSize)
		}
	}
	switch {
	case st.Paused:
		st.State = "paused"
	case h.info == nil:
		st.State = "fetching_metadata"
	case h.finished:
		st.State = "seeding"
	default:
		st.State = "downloading"
	}
	return st
}

func (h *Handle) Flags() engine.TorrentFlags {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags
}

func (h *Handle) SetFlags(f engine.TorrentFlags) {
	h.mu.Lock()
	h.flags |= f
	h.mu.Unlock()
	if f&engine.FlagPaused != 0 {
		h.Pause()
	}
}

func (h *Handle) UnsetFlags(f engine.TorrentFlags) {
	h.mu.Lock()
	h.flags &^= f
	h.mu.Unlock()
	if f&engine.FlagPaused != 0 {
		h.Resume()
	}
}

// Pause mirrors the hard-pause recipe: forbid transfer and drop every peer
// connection.
func (h *Handle) Pause() {
	h.mu.Lock()
	wasPaused := h.flags&engine.FlagPaused != 0
	h.flags |= engine.FlagPaused
	h.needSaveResume = true
	h.mu.Unlock()

	h.quiesce()
	if !wasPaused {
		h.s.pushAlert(engine.TorrentPausedAlert{Hash: h.hash, Handle: h})
	}
}

func (h *Handle) Resume() {
	h.mu.Lock()
	wasPaused := h.flags&engine.FlagPaused != 0
	h.flags &^= engine.FlagPaused
	h.needSaveResume = true
	h.mu.Unlock()

	h.unquiesce()
	if wasPaused {
		h.s.pushAlert(engine.TorrentResumedAlert{Hash: h.hash, Handle: h})
	}
}

func (h *Handle) quiesce() {
	h.t.DisallowDataDownload()
	h.t.DisallowDataUpload()
	h.t.SetMaxEstablishedConns(0)
}

func (h *Handle) unquiesce() {
	h.t.SetMaxEstablishedConns(maxEstablishedConns)
	h.t.AllowDataUpload()
	h.t.AllowDataDownload()
	if h.t.Info() != nil {
		h.t.DownloadAll()
	}
}

// ForceRecheck re-verifies all on-disk data. Verification runs off the event
// loop; completion surfaces as a torrent_checked alert.
func (h *Handle) ForceRecheck() {
	go func() {
		h.t.VerifyData()
		h.s.pushAlert(engine.TorrentCheckedAlert{Hash: h.hash, Handle: h})
	}()
}

// SaveResumeData snapshots add-params for persistence. With OnlyIfModified
// set, a clean torrent produces no alert at all, matching the only_if_modified
// engine behavior the shutdown drain relies on.
func (h *Handle) SaveResumeData(flags engine.SaveResumeFlags) {
	h.mu.Lock()
	if flags&engine.OnlyIfModified != 0 && !h.needSaveResume {
		h.mu.Unlock()
		return
	}
	h.needSaveResume = false
	params := engine.AddTorrentParams{
		Name:          h.name,
		SavePath:      h.savePath,
		QueuePosition: h.queuePos,
		Paused:        h.flags&engine.FlagPaused != 0,
		ClientData:    h.clientData,
	}
	info := h.info
	h.mu.Unlock()

	if flags&engine.SaveInfoDict != 0 {
		if mi := h.t.Metainfo(); len(mi.InfoBytes) > 0 {
			params.InfoBytes = mi.InfoBytes
		}
	}
	if info != nil {
		params.CompletedPieces = make([]bool, info.NumPieces)
		for i := 0; i < info.NumPieces; i++ {
			params.CompletedPieces[i] = h.t.Piece(i).State().Complete
		}
	}

	h.s.pushAlert(engine.SaveResumeDataAlert{Hash: h.hash, Handle: h, Params: params})
}

func (h *Handle) PrioritizePieces(priorities []engine.PiecePriority) {
	h.mu.Lock()
	h.priorities = append([]engine.PiecePriority(nil), priorities...)
	h.mu.Unlock()

	if h.t.Info() == nil {
		return
	}
	n := h.t.NumPieces()
	for i, prio := range priorities {
		if i >= n {
			break
		}
		h.t.Piece(i).SetPriority(mapPriority(prio))
	}
}

func (h *Handle) PiecePriorities() []engine.PiecePriority {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.PiecePriority(nil), h.priorities...)
}

func (h *Handle) TorrentInfo() *engine.TorrentInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

func (h *Handle) ClientData() *domain.ClientData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clientData
}

// MoveStorage relocates the torrent's content directory. The anacrolix
// storage stays bound to the original root for the life of the process and
// transfer is not paused for the move; the new path takes full effect on
// the next restart via the resume record.
func (h *Handle) MoveStorage(path string) {
	go func() {
		h.mu.Lock()
		oldPath := h.savePath
		name := h.name
		h.mu.Unlock()

		if err := moveContent(oldPath, path, name); err != nil {
			h.s.pushAlert(engine.StorageMoveFailedAlert{Hash: h.hash, Handle: h, Err: err})
			return
		}

		h.mu.Lock()
		h.savePath = path
		h.needSaveResume = true
		h.mu.Unlock()
		h.s.pushAlert(engine.StorageMovedAlert{Hash: h.hash, Handle: h, Path: path})
	}()
}

func (h *Handle) drop(deleteFiles bool) {
	h.mu.Lock()
	if h.dropped {
		h.mu.Unlock()
		return
	}
	h.dropped = true
	savePath := h.savePath
	name := h.name
	h.mu.Unlock()

	h.t.Drop()
	if deleteFiles && savePath != "" && name != "" {
		_ = os.RemoveAll(filepath.Join(savePath, name))
	}
}

func moveContent(oldRoot, newRoot, name string) error {
	if name == "" {
		return fmt.Errorf("move storage: torrent has no content yet")
	}
	if err := os.MkdirAll(newRoot, 0o755); err != nil {
		return fmt.Errorf("move storage: %w", err)
	}
	src := filepath.Join(oldRoot, name)
	dst := filepath.Join(newRoot, name)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("move storage: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move storage: %w", err)
	}
	return nil
}

func mapPriority(p engine.PiecePriority) torrent.PiecePriority {
	switch {
	case p <= engine.DontDownload:
		return torrent.PiecePriorityNone
	case p >= engine.TopPriority:
		return torrent.PiecePriorityNow
	case p > engine.DefaultPriority:
		return torrent.PiecePriorityHigh
	default:
		return torrent.PiecePriorityNormal
	}
}

func storageForPath(path string) storage.ClientImpl {
	return storage.NewFile(path)
}
