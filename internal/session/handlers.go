package session

import (
	"log/slog"

	"torrentd/internal/engine"
	"torrentd/internal/metrics"
)

// drainAlerts is the dispatcher's drain task. It runs on the event loop,
// pops the whole queue, and dispatches in order.
func (s *Supervisor) drainAlerts() {
	if s.shuttingDown {
		return
	}
	for _, alert := range s.eng.PopAlerts() {
		s.logger.Debug("alert", slog.String("kind", alert.Kind().String()))
		metrics.AlertsProcessedTotal.WithLabelValues(alert.Kind().String()).Inc()
		s.handleAlert(alert)
	}
}

func (s *Supervisor) handleAlert(alert engine.Alert) {
	switch a := alert.(type) {
	case engine.MetadataReceivedAlert:
		// Magnet adds reach here with their file list known for the first
		// time; this is where their prefetch arms.
		s.armPrefetch(a.Handle)
		a.Handle.SaveResumeData(engine.StandardResumeFlags)

	case engine.PieceFinishedAlert:
		s.handlePieceFinished(a)

	case engine.SaveResumeDataAlert:
		s.persistResume(a)
		s.logger.Debug("resume data persisted", slog.String("infoHash", a.InfoHash().String()))

	case engine.SaveResumeDataFailedAlert:
		metrics.ResumeSaveFailuresTotal.Inc()
		s.logger.Error("failed to save resume data",
			slog.String("infoHash", a.InfoHash().String()),
			slog.String("error", a.Err.Error()),
		)

	case engine.SessionStatsAlert:
		s.bus.Publish(SessionStatsEvent{Stats: s.pairStats(a.Counters)})

	case engine.DHTStatsAlert:
		s.logger.Debug("dht stats", slog.Int("nodes", a.Nodes))

	case engine.StateUpdateAlert:
		s.bus.Publish(StateUpdateEvent{Statuses: a.Statuses})

	case engine.StorageMovedAlert:
		if a.Handle.Status().NeedSaveResume {
			a.Handle.SaveResumeData(engine.StandardResumeFlags)
		}
		s.bus.Publish(StorageMovedEvent{Handle: a.Handle, Status: a.Handle.Status()})

	case engine.StorageMoveFailedAlert:
		s.logger.Error("failed to move storage",
			slog.String("infoHash", a.InfoHash().String()),
			slog.String("error", a.Err.Error()),
		)

	case engine.TorrentCheckedAlert:
		for _, fn := range s.oneshots.take(engine.KindTorrentChecked, a.InfoHash().Key()) {
			fn(a)
		}

	case engine.TorrentFinishedAlert:
		s.handleTorrentFinished(a)

	case engine.TorrentPausedAlert:
		s.bus.Publish(TorrentPausedEvent{Status: a.Handle.Status()})

	case engine.TorrentRemovedAlert:
		s.handleTorrentRemoved(a)

	case engine.TorrentResumedAlert:
		s.bus.Publish(TorrentResumedEvent{Status: a.Handle.Status()})

	default:
		// Future engine versions may grow new kinds; ignore them.
	}
}

func (s *Supervisor) handlePieceFinished(a engine.PieceFinishedAlert) {
	if s.prefetcher == nil {
		return
	}
	if s.prefetcher.OnPieceFinished(a.Handle, a.PieceIndex) {
		metrics.MediaInfoExtractionsTotal.Inc()
		// Posted rather than published inline: priority restoration should
		// settle before subscribers observe the event.
		handle := a.Handle
		s.loop.Post(func() {
			s.bus.Publish(TorrentMediaInfoEvent{Handle: handle, Status: handle.Status()})
		})
	}
}

func (s *Supervisor) handleTorrentFinished(a engine.TorrentFinishedAlert) {
	status := a.Handle.Status()
	data := a.Handle.ClientData()

	staggered := data != nil && data.MediaInfoStaggered
	if status.TotalDownload > 0 && !staggered {
		s.bus.Publish(TorrentFinishedEvent{Status: status})
	} else if staggered {
		// The finish was caused by the prefetch's head pieces; swallow this
		// one occurrence and emit normally from now on.
		data.MediaInfoStaggered = false
	}

	if status.NeedSaveResume {
		a.Handle.SaveResumeData(engine.StandardResumeFlags)
	}
}

func (s *Supervisor) handleTorrentRemoved(a engine.TorrentRemovedAlert) {
	hash := a.InfoHash()
	if err := s.store.RemoveTorrent(hash); err != nil {
		s.logger.Error("failed to delete torrent record",
			slog.String("infoHash", hash.String()),
			slog.String("error", err.Error()),
		)
	}
	delete(s.torrents, hash.Key())
	metrics.TorrentsActive.Set(float64(len(s.torrents)))
	s.bus.Publish(TorrentRemovedEvent{Hash: hash})
}

// pairStats zips the engine's metric descriptors with the counter values by
// descriptor index.
func (s *Supervisor) pairStats(counters []int64) map[string]int64 {
	names := s.eng.StatsMetrics()
	out := make(map[string]int64, len(names))
	for i, name := range names {
		if i >= len(counters) {
			break
		}
		out[name] = counters[i]
	}
	return out
}
