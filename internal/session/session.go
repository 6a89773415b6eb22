// Package session owns the BitTorrent engine: it reconciles engine alerts
// with persisted resume state, runs lifecycle operations on a single event
// loop, drives the media-info prefetch machine, and publishes domain events.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
	"torrentd/internal/mediainfo"
	"torrentd/internal/metrics"
	"torrentd/internal/store"
)

// loadLogEvery is how many adds pass between progress log lines during Load.
const loadLogEvery = 1000

// shutdownChunkSize bounds outstanding resume saves during shutdown.
const shutdownChunkSize = 1000

// shutdownAlertWait is the per-iteration alert wait during the shutdown
// drain. A timeout just loops again; there is no overall deadline.
const shutdownAlertWait = 10 * time.Second

type Config struct {
	DataDir           string
	SessionParamsPath string

	// Extensions overrides the default plugin trio when non-empty.
	Extensions []engine.Extension

	Settings engine.Settings

	// Timer intervals; zero disables the timer.
	DHTStatsInterval       time.Duration
	SessionStatsInterval   time.Duration
	TorrentUpdatesInterval time.Duration
}

type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	store  *store.Store
	eng    engine.Session
	loop   *Loop
	bus    *Bus

	prefetcher *mediainfo.Prefetcher

	// torrents and oneshots belong to the event loop.
	torrents map[string]engine.TorrentHandle
	oneshots *callbackRegistry

	timers       []*loopTimer
	shuttingDown bool
}

// New performs the construction sequence: session-params file, settings
// merge, engine build, extensions, notify hookup, timers. The returned
// supervisor's event loop is already running.
func New(cfg Config, st *store.Store, factory engine.Factory, prefetcher *mediainfo.Prefetcher, logger *slog.Logger) (*Supervisor, error) {
	dhtState, err := readSessionParams(cfg.SessionParamsPath, logger)
	if err != nil {
		return nil, err
	}

	settings, err := mergeSettings(cfg.Settings, st)
	if err != nil {
		return nil, err
	}

	eng, err := factory.New(engine.SessionParams{
		DHTState: dhtState,
		Settings: settings,
		DataDir:  cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("construct engine: %w", err)
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = engine.DefaultExtensions()
	}
	for _, ext := range exts {
		eng.AddExtension(ext)
	}

	s := &Supervisor{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		eng:        eng,
		loop:       NewLoop(),
		bus:        NewBus(),
		prefetcher: prefetcher,
		torrents:   map[string]engine.TorrentHandle{},
		oneshots:   newCallbackRegistry(),
	}

	eng.SetAlertNotify(func() {
		s.loop.Post(s.drainAlerts)
	})

	s.startTimers()
	go s.loop.Run()
	return s, nil
}

// Loop exposes the event loop for collaborators that must run on it
// (workflow engine, HTTP surface).
func (s *Supervisor) Loop() *Loop { return s.loop }

// Subscribe registers an event subscriber. Handlers run synchronously on
// the event loop.
func (s *Supervisor) Subscribe(fn func(Event)) func() {
	return s.bus.Subscribe(fn)
}

// Load re-adds every persisted torrent to the engine.
func (s *Supervisor) Load() error {
	var (
		count   int
		hashes  []domain.InfoHash
		records []*engine.AddTorrentParams
		err     error
	)
	// The rows are read on the loop and released before any engine add can
	// raise alerts whose handlers write to the store.
	s.loop.Exec(func() {
		if count, err = s.store.CountTorrents(); err != nil {
			return
		}
		err = s.store.ForEachTorrent(func(hash domain.InfoHash, params *engine.AddTorrentParams) error {
			hashes = append(hashes, hash)
			records = append(records, params)
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("loading torrents", slog.Int("count", count))

	added := 0
	for i, params := range records {
		handle, err := s.eng.AddTorrent(params)
		if err != nil {
			s.logger.Warn("failed to re-add torrent",
				slog.String("infoHash", hashes[i].String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.loop.Exec(func() {
			s.torrents[handle.InfoHash().Key()] = handle
		})
		added++
		if added%loadLogEvery == 0 {
			s.logger.Info("loading torrents", slog.Int("loaded", added), slog.Int("count", count))
		}
	}
	metrics.TorrentsActive.Set(float64(added))
	s.logger.Info("torrents loaded", slog.Int("loaded", added))
	return nil
}

// AddTorrent submits params to the engine and persists the initial record.
// On engine rejection it logs and returns a zero InfoHash.
func (s *Supervisor) AddTorrent(params *engine.AddTorrentParams) domain.InfoHash {
	var hash domain.InfoHash
	s.loop.Exec(func() {
		handle, err := s.eng.AddTorrent(params)
		if err != nil {
			s.logger.Error("failed to add torrent",
				slog.String("name", params.Name),
				slog.String("error", err.Error()),
			)
			return
		}

		status := handle.Status()
		record := *params
		record.Name = status.Name
		if record.Name == "" {
			record.Name = params.Name
		}
		record.SavePath = status.SavePath
		if record.SavePath == "" {
			record.SavePath = params.SavePath
		}
		record.QueuePosition = status.QueuePosition
		if err := s.store.InsertTorrent(handle.InfoHash(), &record); err != nil {
			s.logger.Error("failed to persist torrent",
				slog.String("infoHash", handle.InfoHash().String()),
				slog.String("error", err.Error()),
			)
		}

		handle.SaveResumeData(engine.StandardResumeFlags)

		s.armPrefetch(handle)

		s.torrents[handle.InfoHash().Key()] = handle
		metrics.TorrentsActive.Set(float64(len(s.torrents)))
		s.bus.Publish(TorrentAddedEvent{Status: handle.Status()})
		hash = handle.InfoHash()
	})
	return hash
}

// Pause suspends the whole engine; no bookkeeping.
func (s *Supervisor) Pause() { s.eng.Pause() }

// Resume restarts the whole engine; no bookkeeping.
func (s *Supervisor) Resume() { s.eng.Resume() }

// PauseTorrent pauses a single torrent.
func (s *Supervisor) PauseTorrent(hash domain.InfoHash) error {
	return s.withHandle(hash, func(h engine.TorrentHandle) { h.Pause() })
}

// ResumeTorrent resumes a single torrent.
func (s *Supervisor) ResumeTorrent(hash domain.InfoHash) error {
	return s.withHandle(hash, func(h engine.TorrentHandle) { h.Resume() })
}

// Recheck forces a full data re-verification. The engine cannot recheck
// paused or auto-managed torrents cleanly, so the observed flags are lifted
// first and restored by a one-shot continuation when torrent_checked fires.
func (s *Supervisor) Recheck(hash domain.InfoHash) error {
	return s.withHandle(hash, func(h engine.TorrentHandle) {
		flags := h.Flags()
		autoManaged := flags&engine.FlagAutoManaged != 0
		paused := flags&engine.FlagPaused != 0

		if autoManaged {
			h.UnsetFlags(engine.FlagAutoManaged)
		}
		if paused {
			h.Resume()
		}

		key := hash.Key()
		s.oneshots.add(engine.KindTorrentChecked, key, func(engine.Alert) {
			// The torrent may have been removed while the recheck ran.
			handle, ok := s.torrents[key]
			if !ok {
				return
			}
			if autoManaged {
				handle.SetFlags(engine.FlagAutoManaged)
			}
			if paused {
				handle.Pause()
			}
		})

		h.ForceRecheck()
	})
}

// Remove forwards removal to the engine; the store row is deleted later when
// torrent_removed arrives.
func (s *Supervisor) Remove(hash domain.InfoHash, removeData bool) error {
	return s.withHandle(hash, func(h engine.TorrentHandle) {
		s.eng.RemoveTorrent(h, removeData)
	})
}

// MoveStorage relocates a torrent's content directory.
func (s *Supervisor) MoveStorage(hash domain.InfoHash, path string) error {
	return s.withHandle(hash, func(h engine.TorrentHandle) {
		h.MoveStorage(path)
	})
}

// Statuses snapshots every active torrent.
func (s *Supervisor) Statuses() []engine.TorrentStatus {
	var out []engine.TorrentStatus
	s.loop.Exec(func() {
		out = make([]engine.TorrentStatus, 0, len(s.torrents))
		for _, h := range s.torrents {
			out = append(out, h.Status())
		}
	})
	return out
}

// Status snapshots one torrent.
func (s *Supervisor) Status(hash domain.InfoHash) (engine.TorrentStatus, error) {
	var status engine.TorrentStatus
	err := s.withHandle(hash, func(h engine.TorrentHandle) {
		status = h.Status()
	})
	return status, err
}

// armPrefetch runs media-info prefetch setup. Called at add time when the
// torrent arrived with metadata, and again from the metadata_received
// handler for magnet adds whose file list only exists later; Setup itself
// refuses to re-arm.
func (s *Supervisor) armPrefetch(h engine.TorrentHandle) {
	if s.prefetcher == nil || !s.prefetcher.Enabled() {
		return
	}
	s.prefetcher.Setup(h)
}

func (s *Supervisor) withHandle(hash domain.InfoHash, fn func(engine.TorrentHandle)) error {
	var err error
	s.loop.Exec(func() {
		h, ok := s.lookup(hash)
		if !ok {
			err = fmt.Errorf("torrent %s: %w", hash, domain.ErrNotFound)
			return
		}
		fn(h)
	})
	return err
}

// lookup runs on the loop. The map is keyed canonically; a miss falls back to
// the any-member-matches rule for v1/v2 cross lookups.
func (s *Supervisor) lookup(hash domain.InfoHash) (engine.TorrentHandle, bool) {
	if h, ok := s.torrents[hash.Key()]; ok {
		return h, true
	}
	for _, h := range s.torrents {
		if h.InfoHash().Matches(hash) {
			return h, true
		}
	}
	return nil, false
}

// Shutdown is the crash-safe teardown: stop alert delivery, stop timers,
// write the session-params file, pause the engine, then drain resume saves in
// chunks before stopping the loop and closing the engine.
func (s *Supervisor) Shutdown() {
	s.loop.Exec(func() {
		s.shuttingDown = true
		s.eng.SetAlertNotify(nil)
		s.stopTimers()
		s.writeSessionParams()
		s.eng.Pause()
		s.saveAllResumeData()
	})
	s.loop.Stop()
	if err := s.eng.Close(); err != nil {
		s.logger.Warn("engine close failed", slog.String("error", err.Error()))
	}
	s.logger.Info("session shut down")
}

// saveAllResumeData runs on the loop during shutdown. No other tasks are
// serviced while it blocks in WaitForAlert; that is intentional.
func (s *Supervisor) saveAllResumeData() {
	handles := make([]engine.TorrentHandle, 0, len(s.torrents))
	for _, h := range s.torrents {
		handles = append(handles, h)
	}

	for start := 0; start < len(handles); start += shutdownChunkSize {
		end := start + shutdownChunkSize
		if end > len(handles) {
			end = len(handles)
		}

		outstanding := 0
		for _, h := range handles[start:end] {
			if !h.IsValid() {
				continue
			}
			status := h.Status()
			if !status.HasMetadata || !status.NeedSaveResume {
				continue
			}
			h.SaveResumeData(engine.StandardResumeFlags)
			outstanding++
		}

		for outstanding > 0 {
			if s.eng.WaitForAlert(shutdownAlertWait) == nil {
				continue
			}
			for _, alert := range s.eng.PopAlerts() {
				switch a := alert.(type) {
				case engine.TorrentPausedAlert:
					// Expected fallout of pausing the session.
				case engine.SaveResumeDataFailedAlert:
					s.logger.Error("failed to save resume data during shutdown",
						slog.String("infoHash", a.InfoHash().String()),
						slog.String("error", a.Err.Error()),
					)
					outstanding--
				case engine.SaveResumeDataAlert:
					outstanding--
					s.persistResume(a)
				}
			}
		}
	}
	s.logger.Info("resume data saved", slog.Int("torrents", len(handles)))
}

func (s *Supervisor) persistResume(a engine.SaveResumeDataAlert) {
	params := a.Params
	if a.Handle != nil && a.Handle.IsValid() {
		status := a.Handle.Status()
		params.Name = status.Name
		params.SavePath = status.SavePath
		params.QueuePosition = status.QueuePosition
	}
	if err := s.store.UpdateTorrent(a.InfoHash(), &params); err != nil {
		s.logger.Error("failed to persist resume data",
			slog.String("infoHash", a.InfoHash().String()),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.ResumeSavesTotal.Inc()
}

func (s *Supervisor) writeSessionParams() {
	if s.cfg.SessionParamsPath == "" {
		return
	}
	state, err := s.eng.StateParams()
	if err != nil {
		s.logger.Error("failed to serialize session state", slog.String("error", err.Error()))
		return
	}
	blob, err := engine.EncodeSessionState(state)
	if err != nil {
		s.logger.Error("failed to encode session state", slog.String("error", err.Error()))
		return
	}
	// Temp-and-rename keeps a torn write from destroying the previous state.
	tmp := s.cfg.SessionParamsPath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		s.logger.Error("failed to write session params file", slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmp, s.cfg.SessionParamsPath); err != nil {
		s.logger.Error("failed to replace session params file", slog.String("error", err.Error()))
	}
}

func readSessionParams(path string, logger *slog.Logger) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session params file: %w", err)
	}
	state, err := engine.DecodeSessionState(blob)
	if err != nil {
		// A corrupt params file costs only DHT warm-up; not fatal.
		logger.Warn("discarding corrupt session params file", slog.String("error", err.Error()))
		return nil, nil
	}
	return state, nil
}

// mergeSettings lays the store's settings overlay over the caller-supplied
// engine settings.
func mergeSettings(base engine.Settings, st *store.Store) (engine.Settings, error) {
	merged := engine.Settings{}
	for k, v := range base {
		merged[k] = v
	}
	overlay, err := st.Settings()
	if err != nil {
		return nil, fmt.Errorf("load settings overlay: %w", err)
	}
	for k, v := range overlay {
		merged[k] = coerceSetting(v)
	}
	return merged, nil
}

// coerceSetting maps the overlay's string values onto the scalar types the
// engine settings understand.
func coerceSetting(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return int(n)
	}
	return v
}

// EnsureDirs creates the on-disk directories the supervisor needs.
func EnsureDirs(cfg Config) error {
	for _, dir := range []string{cfg.DataDir, filepath.Dir(cfg.SessionParamsPath)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
