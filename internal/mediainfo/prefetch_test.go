package mediainfo

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
)

type fakeProber struct {
	mu    sync.Mutex
	paths []string
	info  domain.MediaInfo
	err   error
}

func (p *fakeProber) Probe(_ context.Context, path string) (domain.MediaInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	return p.info, p.err
}

type fakeHandle struct {
	hash       domain.InfoHash
	info       *engine.TorrentInfo
	data       *domain.ClientData
	priorities []engine.PiecePriority
	prioCalls  int
}

func (h *fakeHandle) IsValid() bool                         { return true }
func (h *fakeHandle) InfoHash() domain.InfoHash             { return h.hash }
func (h *fakeHandle) Flags() engine.TorrentFlags            { return 0 }
func (h *fakeHandle) SetFlags(engine.TorrentFlags)          {}
func (h *fakeHandle) UnsetFlags(engine.TorrentFlags)        {}
func (h *fakeHandle) Pause()                                {}
func (h *fakeHandle) Resume()                               {}
func (h *fakeHandle) ForceRecheck()                         {}
func (h *fakeHandle) SaveResumeData(engine.SaveResumeFlags) {}
func (h *fakeHandle) MoveStorage(string)                    {}

func (h *fakeHandle) Status() engine.TorrentStatus {
	return engine.TorrentStatus{InfoHash: h.hash, SavePath: "/data"}
}

func (h *fakeHandle) PrioritizePieces(p []engine.PiecePriority) {
	h.priorities = append([]engine.PiecePriority(nil), p...)
	h.prioCalls++
}

func (h *fakeHandle) PiecePriorities() []engine.PiecePriority {
	return append([]engine.PiecePriority(nil), h.priorities...)
}

func (h *fakeHandle) TorrentInfo() *engine.TorrentInfo { return h.info }
func (h *fakeHandle) ClientData() *domain.ClientData   { return h.data }

const pieceSize = 512 * 1024

// newMovieHandle builds a two-file torrent: a 100 MiB .mkv and a non-media
// file of the same size.
func newMovieHandle() *fakeHandle {
	return &fakeHandle{
		hash: domain.InfoHash{V1: "beef"},
		info: engine.NewTorrentInfo("movie", pieceSize, []engine.FileEntry{
			{Index: 0, Path: "movie.mkv", Length: 100 * 1024 * 1024},
			{Index: 1, Path: "movie.nfo", Length: 100 * 1024 * 1024},
		}),
		data: &domain.ClientData{},
	}
}

func newTestPrefetcher(prober Prober) *Prefetcher {
	return New(Config{
		Enabled:        true,
		Extensions:     map[string]struct{}{".mkv": {}},
		FileMinSize:    1024,
		FileWantedSize: 1024 * 1024,
	}, prober, slog.Default())
}

func TestSetupPrioritizesHeadPieces(t *testing.T) {
	h := newMovieHandle()
	p := newTestPrefetcher(&fakeProber{})

	if !p.Setup(h) {
		t.Fatal("Setup did not arm")
	}
	if h.prioCalls != 1 {
		t.Fatalf("PrioritizePieces calls = %d, want 1", h.prioCalls)
	}

	// Wanted size 1 MiB over 512 KiB pieces: the first two pieces of f0.
	for i, prio := range h.priorities {
		want := engine.DontDownload
		if i == 0 || i == 1 {
			want = engine.TopPriority
		}
		if prio != want {
			t.Errorf("piece %d priority = %d, want %d", i, prio, want)
		}
	}

	if !h.data.MediaInfoActive() {
		t.Error("mediainfo_enabled not set")
	}
	if !h.data.PiecesWanted[0].Equal(domain.NewPieceSet(0, 1)) {
		t.Errorf("wanted[0] = %v", h.data.PiecesWanted[0])
	}
	if _, ok := h.data.PiecesWanted[1]; ok {
		t.Error("non-media file must not be selected")
	}
}

func TestSetupArmsAtMostOncePerTorrent(t *testing.T) {
	h := newMovieHandle()
	p := newTestPrefetcher(&fakeProber{})

	if !p.Setup(h) {
		t.Fatal("first Setup did not arm")
	}
	if p.Setup(h) {
		t.Fatal("Setup re-armed a running prefetch")
	}
	if h.prioCalls != 1 {
		t.Errorf("PrioritizePieces calls = %d, want the first arm only", h.prioCalls)
	}

	// Drive the prefetch to completion; a finished torrent must not re-arm
	// either (metadata can be re-announced on restart).
	p.OnPieceFinished(h, 0)
	if !p.OnPieceFinished(h, 1) {
		t.Fatal("prefetch did not complete")
	}
	if p.Setup(h) {
		t.Error("Setup re-armed after completion")
	}
}

func TestSetupWithoutMetadataIsInert(t *testing.T) {
	h := &fakeHandle{hash: domain.InfoHash{V1: "beef"}, data: &domain.ClientData{}}
	p := newTestPrefetcher(&fakeProber{})
	if p.Setup(h) {
		t.Fatal("Setup armed without metadata")
	}
	if h.data.MediaInfoActive() || h.data.PiecesWanted != nil {
		t.Error("Setup without metadata mutated client data")
	}

	// Metadata arrives later (magnet path); the same call must now arm.
	h.info = newMovieHandle().info
	if !p.Setup(h) {
		t.Error("Setup did not arm once metadata appeared")
	}
}

func TestSetupSkipsSmallAndForeignFiles(t *testing.T) {
	h := &fakeHandle{
		hash: domain.InfoHash{V1: "beef"},
		info: engine.NewTorrentInfo("t", pieceSize, []engine.FileEntry{
			{Index: 0, Path: "tiny.mkv", Length: 10},
			{Index: 1, Path: "big.iso", Length: 100 * 1024 * 1024},
		}),
		data: &domain.ClientData{},
	}
	p := newTestPrefetcher(&fakeProber{})
	if p.Setup(h) {
		t.Error("Setup armed with no eligible files")
	}
	if h.prioCalls != 0 {
		t.Error("priorities touched with no eligible files")
	}
	if h.data.MediaInfoActive() {
		t.Error("mediainfo_enabled set with no eligible files")
	}
}

func TestPrefetchCompletesAfterAllWantedPieces(t *testing.T) {
	h := newMovieHandle()
	prober := &fakeProber{info: domain.MediaInfo{Duration: 5400}}
	p := newTestPrefetcher(prober)
	if !p.Setup(h) {
		t.Fatal("Setup did not arm")
	}

	if done := p.OnPieceFinished(h, 0); done {
		t.Fatal("prefetch done after one of two pieces")
	}
	if len(prober.paths) != 0 {
		t.Fatal("extraction ran early")
	}

	// A piece outside the wanted set must not advance anything.
	if done := p.OnPieceFinished(h, 50); done {
		t.Fatal("unrelated piece completed the prefetch")
	}

	if done := p.OnPieceFinished(h, 1); !done {
		t.Fatal("prefetch not done after all wanted pieces")
	}

	if len(prober.paths) != 1 {
		t.Fatalf("extractions = %d, want exactly 1", len(prober.paths))
	}
	if prober.paths[0] != "/data/movie.mkv" {
		t.Errorf("probe path = %q", prober.paths[0])
	}
	if h.data.MediaInfo == nil || h.data.MediaInfo.Duration != 5400 {
		t.Errorf("mediainfo not stored: %+v", h.data.MediaInfo)
	}

	// Priorities restored, staggered flag armed, maps cleared.
	for i, prio := range h.priorities {
		if prio != engine.DefaultPriority {
			t.Errorf("piece %d priority = %d, want default", i, prio)
		}
	}
	if h.data.MediaInfoActive() {
		t.Error("mediainfo_enabled still set")
	}
	if !h.data.MediaInfoStaggered {
		t.Error("staggered flag not set")
	}
	if h.data.PiecesWanted != nil || h.data.PiecesCompleted != nil {
		t.Error("piece maps not cleared")
	}

	// Further pieces are ignored once the prefetch is over.
	if done := p.OnPieceFinished(h, 2); done {
		t.Error("finished prefetch reported done again")
	}
	if len(prober.paths) != 1 {
		t.Error("extraction ran twice")
	}
}

func TestExtractionFailureStillRestoresPriorities(t *testing.T) {
	h := newMovieHandle()
	prober := &fakeProber{err: context.DeadlineExceeded}
	p := newTestPrefetcher(prober)
	if !p.Setup(h) {
		t.Fatal("Setup did not arm")
	}

	p.OnPieceFinished(h, 0)
	if done := p.OnPieceFinished(h, 1); !done {
		t.Fatal("prefetch must complete even when probing fails")
	}
	if h.data.MediaInfo != nil {
		t.Error("failed probe stored a result")
	}
	if !h.data.MediaInfoStaggered {
		t.Error("staggered flag not set on failure path")
	}
}
