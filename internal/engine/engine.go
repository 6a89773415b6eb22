package engine

import (
	"time"

	"torrentd/internal/domain"
)

// Extension names a protocol extension plugin loaded into the session.
type Extension string

const (
	ExtMetadata Extension = "ut_metadata"
	ExtPEX      Extension = "ut_pex"
	ExtSmartBan Extension = "smart_ban"
)

// DefaultExtensions is the trio loaded when the caller supplies none.
func DefaultExtensions() []Extension {
	return []Extension{ExtMetadata, ExtPEX, ExtSmartBan}
}

// Settings is the engine settings overlay: string keys with scalar values,
// merged over engine defaults at construction and adjustable at runtime.
type Settings map[string]any

// SessionParams carries everything needed to construct an engine session.
type SessionParams struct {
	// DHTState is the decoded state blob from a previous run; nil on first
	// start. Only DHT state survives the round-trip by contract.
	DHTState []byte
	Settings Settings
	DataDir  string
}

// SaveResumeFlags modify a save_resume_data request.
type SaveResumeFlags uint8

const (
	FlushDiskCache SaveResumeFlags = 1 << iota
	SaveInfoDict
	OnlyIfModified
)

// StandardResumeFlags is the flag set the session uses for every
// resume-data request it issues.
const StandardResumeFlags = FlushDiskCache | SaveInfoDict | OnlyIfModified

// TorrentFlags is the subset of per-torrent flags the session manages.
type TorrentFlags uint8

const (
	FlagPaused TorrentFlags = 1 << iota
	FlagAutoManaged
)

// PiecePriority mirrors the engine's piece download priority scale.
type PiecePriority int

const (
	DontDownload    PiecePriority = 0
	DefaultPriority PiecePriority = 4
	TopPriority     PiecePriority = 7
)

// TorrentStatus is a point-in-time snapshot of a torrent.
type TorrentStatus struct {
	InfoHash       domain.InfoHash `json:"infoHash"`
	Name           string          `json:"name"`
	SavePath       string          `json:"savePath"`
	QueuePosition  int             `json:"queuePosition"`
	State          string          `json:"state"`
	Progress       float64         `json:"progress"`
	Paused         bool            `json:"paused"`
	AutoManaged    bool            `json:"autoManaged"`
	HasMetadata    bool            `json:"hasMetadata"`
	NeedSaveResume bool            `json:"-"`
	TotalDownload  int64           `json:"totalDownload"`
	TotalUpload    int64           `json:"totalUpload"`
	TotalSize      int64           `json:"totalSize"`
	DownloadRate   int64           `json:"downloadRate"`
	UploadRate     int64           `json:"uploadRate"`
	Peers          int             `json:"peers"`
	Seeds          int             `json:"seeds"`
}

// FileEntry describes one file inside a torrent's metadata.
type FileEntry struct {
	Index  int
	Path   string
	Length int64
}

// TorrentInfo is the decoded metadata of a torrent: file layout and piece
// geometry. Nil while metadata is still being fetched.
type TorrentInfo struct {
	Name        string
	PieceLength int64
	NumPieces   int
	Files       []FileEntry
	fileOffsets []int64
	totalLength int64
}

// NewTorrentInfo computes derived piece geometry for the given file list.
func NewTorrentInfo(name string, pieceLength int64, files []FileEntry) *TorrentInfo {
	ti := &TorrentInfo{Name: name, PieceLength: pieceLength, Files: files}
	ti.fileOffsets = make([]int64, len(files))
	var off int64
	for i, f := range files {
		ti.fileOffsets[i] = off
		off += f.Length
	}
	ti.totalLength = off
	if pieceLength > 0 {
		ti.NumPieces = int((off + pieceLength - 1) / pieceLength)
	}
	return ti
}

func (ti *TorrentInfo) TotalLength() int64 { return ti.totalLength }

// PieceIndexAtFile returns the index of the first piece containing data of
// the given file.
func (ti *TorrentInfo) PieceIndexAtFile(fileIndex int) int {
	if ti.PieceLength <= 0 {
		return 0
	}
	return int(ti.fileOffsets[fileIndex] / ti.PieceLength)
}

// PieceSize returns the byte length of the given piece; the final piece may
// be short.
func (ti *TorrentInfo) PieceSize(piece int) int64 {
	if piece < 0 || piece >= ti.NumPieces {
		return 0
	}
	if piece == ti.NumPieces-1 {
		if rem := ti.totalLength - int64(piece)*ti.PieceLength; rem > 0 {
			return rem
		}
	}
	return ti.PieceLength
}

// EndPieceForFile returns the index one past the last piece containing data
// of the given file.
func (ti *TorrentInfo) EndPieceForFile(fileIndex int) int {
	if ti.PieceLength <= 0 {
		return 0
	}
	end := ti.fileOffsets[fileIndex] + ti.Files[fileIndex].Length
	p := int((end + ti.PieceLength - 1) / ti.PieceLength)
	if p > ti.NumPieces {
		p = ti.NumPieces
	}
	return p
}

// TorrentHandle is a thread-safe reference into the engine for one torrent.
type TorrentHandle interface {
	IsValid() bool
	InfoHash() domain.InfoHash
	Status() TorrentStatus
	Flags() TorrentFlags
	SetFlags(TorrentFlags)
	UnsetFlags(TorrentFlags)
	Pause()
	Resume()
	ForceRecheck()
	SaveResumeData(flags SaveResumeFlags)
	PrioritizePieces(priorities []PiecePriority)
	PiecePriorities() []PiecePriority
	TorrentInfo() *TorrentInfo
	ClientData() *domain.ClientData
	MoveStorage(path string)
}

// Session is the engine session. Handle methods are safe to call from any
// goroutine; alert draining belongs to the single event loop.
type Session interface {
	AddTorrent(params *AddTorrentParams) (TorrentHandle, error)
	RemoveTorrent(h TorrentHandle, deleteFiles bool)
	Pause()
	Resume()
	ApplySettings(s Settings)
	GetSettings() Settings
	PostDHTStats()
	PostSessionStats()
	PostTorrentUpdates()

	// StatsMetrics returns the ordered metric descriptor names that pair by
	// index with SessionStatsAlert.Counters.
	StatsMetrics() []string

	// StateParams serializes session state; only the DHT portion is kept by
	// callers per the session-params file contract.
	StateParams() ([]byte, error)

	// SetAlertNotify installs fn to be called from engine goroutines whenever
	// the alert queue transitions from empty to non-empty. Passing nil
	// uninstalls the callback.
	SetAlertNotify(fn func())
	PopAlerts() []Alert
	WaitForAlert(timeout time.Duration) Alert
	AddExtension(ext Extension)
	Close() error
}

// Factory builds an engine session from merged construction params.
type Factory interface {
	New(params SessionParams) (Session, error)
}
