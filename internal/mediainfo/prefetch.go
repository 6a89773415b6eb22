// Package mediainfo implements the head-piece prefetch state machine: for
// media files in a newly added torrent, download just enough leading bytes to
// probe container metadata, then hand the torrent back to normal scheduling.
package mediainfo

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
)

// Prober extracts media metadata from a partially downloaded file on disk.
type Prober interface {
	Probe(ctx context.Context, path string) (domain.MediaInfo, error)
}

type Config struct {
	Enabled bool

	// Extensions is the lowercased, dot-prefixed set of file extensions
	// eligible for prefetch (".mkv", ".mp4", ...).
	Extensions map[string]struct{}

	// FileMinSize excludes small files entirely.
	FileMinSize int64

	// FileWantedSize is how many leading bytes per file to fetch before
	// probing.
	FileWantedSize int64
}

// DefaultExtensions covers the common video containers.
func DefaultExtensions() map[string]struct{} {
	return map[string]struct{}{
		".mkv": {}, ".mp4": {}, ".avi": {}, ".m4v": {}, ".mov": {}, ".webm": {}, ".ts": {},
	}
}

type Prefetcher struct {
	cfg    Config
	prober Prober
	logger *slog.Logger
}

func New(cfg Config, prober Prober, logger *slog.Logger) *Prefetcher {
	return &Prefetcher{cfg: cfg, prober: prober, logger: logger}
}

func (p *Prefetcher) Enabled() bool {
	return p.cfg.Enabled
}

// Setup walks the torrent's files, selects prefetch targets, and rewrites
// piece priorities so only their head pieces download. Returns true when a
// prefetch was armed. Arms at most once per torrent: a running, completed,
// or already-extracted prefetch refuses to restart, so callers may invoke it
// both at add time and again when metadata arrives.
func (p *Prefetcher) Setup(h engine.TorrentHandle) bool {
	info := h.TorrentInfo()
	if info == nil || info.NumPieces == 0 {
		return false
	}
	data := h.ClientData()
	if data == nil {
		return false
	}
	if data.MediaInfoActive() || data.MediaInfoStaggered || data.MediaInfo != nil || data.PiecesWanted != nil {
		return false
	}

	type target struct {
		piece int
		prio  engine.PiecePriority
	}
	var piecePrio []target
	wanted := map[int]domain.PieceSet{}

	for _, f := range info.Files {
		if f.Length < p.cfg.FileMinSize {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Path))
		if _, ok := p.cfg.Extensions[ext]; !ok {
			continue
		}

		set := domain.NewPieceSet()
		var accumulated int64
		end := info.EndPieceForFile(f.Index)
		for piece := info.PieceIndexAtFile(f.Index); piece < end; piece++ {
			piecePrio = append(piecePrio, target{piece: piece, prio: engine.TopPriority})
			set.Add(piece)
			accumulated += info.PieceSize(piece)
			if accumulated >= p.cfg.FileWantedSize {
				break
			}
		}
		if len(set) > 0 {
			wanted[f.Index] = set
		}
	}

	if len(piecePrio) == 0 {
		return false
	}

	priorities := make([]engine.PiecePriority, info.NumPieces)
	for i := range priorities {
		priorities[i] = engine.DontDownload
	}
	for _, t := range piecePrio {
		priorities[t.piece] = t.prio
	}
	h.PrioritizePieces(priorities)

	enabled := true
	data.MediaInfoEnabled = &enabled
	data.PiecesWanted = wanted
	data.PiecesCompleted = map[int]domain.PieceSet{}
	for idx := range wanted {
		data.PiecesCompleted[idx] = domain.NewPieceSet()
	}

	p.logger.Debug("mediainfo prefetch armed",
		slog.String("infoHash", h.InfoHash().String()),
		slog.Int("files", len(wanted)),
		slog.Int("pieces", len(piecePrio)),
	)
	return true
}

// OnPieceFinished advances the state machine. It returns true exactly once
// per prefetch: when every file's wanted set has completed and default
// priorities have been restored; the caller then emits torrent-mediainfo.
func (p *Prefetcher) OnPieceFinished(h engine.TorrentHandle, pieceIndex int) bool {
	data := h.ClientData()
	if data == nil || data.PiecesWanted == nil || !data.MediaInfoActive() {
		return false
	}

	for fileIndex, wantedPieces := range data.PiecesWanted {
		if len(wantedPieces) == 0 {
			continue // already extracted
		}
		completed := data.PiecesCompleted[fileIndex]
		if completed == nil {
			completed = domain.NewPieceSet()
			data.PiecesCompleted[fileIndex] = completed
		}
		if wantedPieces.Contains(pieceIndex) {
			completed.Add(pieceIndex)
		}
		if completed.Equal(wantedPieces) {
			p.extract(h, fileIndex, data)
			data.PiecesCompleted[fileIndex] = domain.NewPieceSet()
			data.PiecesWanted[fileIndex] = domain.NewPieceSet()
		}
	}

	for _, wantedPieces := range data.PiecesWanted {
		if len(wantedPieces) > 0 {
			return false
		}
	}

	// Every target file is done; hand the torrent back to normal scheduling.
	current := h.PiecePriorities()
	restored := make([]engine.PiecePriority, len(current))
	for i := range restored {
		restored[i] = engine.DefaultPriority
	}
	h.PrioritizePieces(restored)

	disabled := false
	data.MediaInfoEnabled = &disabled
	data.MediaInfoStaggered = true
	data.PiecesWanted = nil
	data.PiecesCompleted = nil
	return true
}

func (p *Prefetcher) extract(h engine.TorrentHandle, fileIndex int, data *domain.ClientData) {
	info := h.TorrentInfo()
	if info == nil || fileIndex >= len(info.Files) {
		return
	}
	status := h.Status()
	path := filepath.Join(status.SavePath, info.Files[fileIndex].Path)

	mi, err := p.prober.Probe(context.Background(), path)
	if err != nil {
		p.logger.Warn("mediainfo extraction failed",
			slog.String("infoHash", h.InfoHash().String()),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	data.MediaInfo = &mi
	p.logger.Debug("mediainfo extracted",
		slog.String("infoHash", h.InfoHash().String()),
		slog.String("path", path),
		slog.Int("tracks", len(mi.Tracks)),
	)
}
