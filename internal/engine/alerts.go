package engine

import "torrentd/internal/domain"

// AlertKind tags the variants of the engine alert stream.
type AlertKind int

const (
	KindUnknown AlertKind = iota
	KindMetadataReceived
	KindPieceFinished
	KindSaveResumeData
	KindSaveResumeDataFailed
	KindSessionStats
	KindDHTStats
	KindStateUpdate
	KindStorageMoved
	KindStorageMoveFailed
	KindTorrentChecked
	KindTorrentFinished
	KindTorrentPaused
	KindTorrentRemoved
	KindTorrentResumed
)

func (k AlertKind) String() string {
	switch k {
	case KindMetadataReceived:
		return "metadata_received"
	case KindPieceFinished:
		return "piece_finished"
	case KindSaveResumeData:
		return "save_resume_data"
	case KindSaveResumeDataFailed:
		return "save_resume_data_failed"
	case KindSessionStats:
		return "session_stats"
	case KindDHTStats:
		return "dht_stats"
	case KindStateUpdate:
		return "state_update"
	case KindStorageMoved:
		return "storage_moved"
	case KindStorageMoveFailed:
		return "storage_move_failed"
	case KindTorrentChecked:
		return "torrent_checked"
	case KindTorrentFinished:
		return "torrent_finished"
	case KindTorrentPaused:
		return "torrent_paused"
	case KindTorrentRemoved:
		return "torrent_removed"
	case KindTorrentResumed:
		return "torrent_resumed"
	}
	return "unknown"
}

// Alert is one entry drained from the engine's alert queue.
type Alert interface {
	Kind() AlertKind
}

// TorrentAlert is implemented by alerts scoped to a single torrent.
type TorrentAlert interface {
	Alert
	InfoHash() domain.InfoHash
}

type MetadataReceivedAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
}

func (MetadataReceivedAlert) Kind() AlertKind { return KindMetadataReceived }
func (a MetadataReceivedAlert) InfoHash() domain.InfoHash { return a.Hash }

type PieceFinishedAlert struct {
	Hash       domain.InfoHash
	Handle     TorrentHandle
	PieceIndex int
}

func (PieceFinishedAlert) Kind() AlertKind { return KindPieceFinished }
func (a PieceFinishedAlert) InfoHash() domain.InfoHash { return a.Hash }

type SaveResumeDataAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
	Params AddTorrentParams
}

func (SaveResumeDataAlert) Kind() AlertKind { return KindSaveResumeData }
func (a SaveResumeDataAlert) InfoHash() domain.InfoHash { return a.Hash }

type SaveResumeDataFailedAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
	Err    error
}

func (SaveResumeDataFailedAlert) Kind() AlertKind { return KindSaveResumeDataFailed }
func (a SaveResumeDataFailedAlert) InfoHash() domain.InfoHash { return a.Hash }

type SessionStatsAlert struct {
	// Counters pairs, by index, with the descriptor list returned by
	// StatsMetrics.
	Counters []int64
}

func (SessionStatsAlert) Kind() AlertKind { return KindSessionStats }

type DHTStatsAlert struct {
	Nodes int
}

func (DHTStatsAlert) Kind() AlertKind { return KindDHTStats }

type StateUpdateAlert struct {
	Statuses []TorrentStatus
}

func (StateUpdateAlert) Kind() AlertKind { return KindStateUpdate }

type StorageMovedAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
	Path   string
}

func (StorageMovedAlert) Kind() AlertKind { return KindStorageMoved }
func (a StorageMovedAlert) InfoHash() domain.InfoHash { return a.Hash }

type StorageMoveFailedAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
	Err    error
}

func (StorageMoveFailedAlert) Kind() AlertKind { return KindStorageMoveFailed }
func (a StorageMoveFailedAlert) InfoHash() domain.InfoHash { return a.Hash }

type TorrentCheckedAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
}

func (TorrentCheckedAlert) Kind() AlertKind { return KindTorrentChecked }
func (a TorrentCheckedAlert) InfoHash() domain.InfoHash { return a.Hash }

type TorrentFinishedAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
}

func (TorrentFinishedAlert) Kind() AlertKind { return KindTorrentFinished }
func (a TorrentFinishedAlert) InfoHash() domain.InfoHash { return a.Hash }

type TorrentPausedAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
}

func (TorrentPausedAlert) Kind() AlertKind { return KindTorrentPaused }
func (a TorrentPausedAlert) InfoHash() domain.InfoHash { return a.Hash }

type TorrentRemovedAlert struct {
	Hash domain.InfoHash
}

func (TorrentRemovedAlert) Kind() AlertKind { return KindTorrentRemoved }
func (a TorrentRemovedAlert) InfoHash() domain.InfoHash { return a.Hash }

type TorrentResumedAlert struct {
	Hash   domain.InfoHash
	Handle TorrentHandle
}

func (TorrentResumedAlert) Kind() AlertKind { return KindTorrentResumed }
func (a TorrentResumedAlert) InfoHash() domain.InfoHash { return a.Hash }
