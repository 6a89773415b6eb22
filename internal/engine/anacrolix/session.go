// Package anacrolix adapts the anacrolix/torrent client to the alert-queue
// engine contract the session supervisor consumes.
package anacrolix

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
)

// Factory builds adapter sessions; it satisfies engine.Factory.
type Factory struct{}

func (Factory) New(params engine.SessionParams) (engine.Session, error) {
	return New(params)
}

// dhtStateWire is what the adapter keeps of the DHT across restarts: the node
// id, so the routing table warms up under the same identity.
type dhtStateWire struct {
	NodeID []byte `bencode:"node_id"`
}

type Session struct {
	client *torrent.Client

	mu       sync.Mutex
	alerts   []engine.Alert
	notify   func()
	signal   chan struct{}
	handles  map[string]*Handle
	nextPos  int
	paused   bool
	settings engine.Settings
	exts     []engine.Extension
	closed   bool
}

// New constructs an engine session over a fresh anacrolix client. Settings
// understood at construction: "listen_port" (int) and "seed" (bool); the
// whole map is retained and reported back by GetSettings.
func New(params engine.SessionParams) (*Session, error) {
	cfg := torrent.NewDefaultClientConfig()
	if params.DataDir != "" {
		cfg.DataDir = params.DataDir
	}
	cfg.Seed = true

	if v, ok := params.Settings["listen_port"]; ok {
		if port, ok := toInt(v); ok {
			cfg.ListenPort = port
		}
	}
	if v, ok := params.Settings["seed"]; ok {
		if b, ok := v.(bool); ok {
			cfg.Seed = b
		}
	}

	if len(params.DHTState) > 0 {
		var state dhtStateWire
		if err := bencode.Unmarshal(params.DHTState, &state); err == nil && len(state.NodeID) == 20 {
			cfg.ConfigureAnacrolixDhtServer = func(sc *dht.ServerConfig) {
				copy(sc.NodeId[:], state.NodeID)
			}
		}
	}

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("construct torrent client: %w", err)
	}

	return &Session{
		client:   client,
		signal:   make(chan struct{}, 1),
		handles:  make(map[string]*Handle),
		settings: params.Settings,
	}, nil
}

func (s *Session) AddExtension(ext engine.Extension) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// ut_metadata and ut_pex are built into the anacrolix client; the
	// request is recorded so Extensions reports what was asked for.
	s.exts = append(s.exts, ext)
}

// Extensions lists the plugins requested on this session.
func (s *Session) Extensions() []engine.Extension {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Extension(nil), s.exts...)
}

func (s *Session) AddTorrent(params *engine.AddTorrentParams) (engine.TorrentHandle, error) {
	spec, err := specFromParams(params)
	if err != nil {
		return nil, err
	}

	t, isNew, err := s.client.AddTorrentSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("add torrent: %w", err)
	}
	if !isNew {
		return nil, fmt.Errorf("add torrent %s: %w", spec.InfoHash.HexString(), domain.ErrDuplicate)
	}

	hash := domain.InfoHash{V1: spec.InfoHash.HexString()}

	s.mu.Lock()
	pos := s.nextPos
	s.nextPos++
	h := newHandle(s, t, hash, params, pos)
	s.handles[hash.Key()] = h
	s.mu.Unlock()

	// A .torrent add carries its metadata, so the file list must be visible
	// to the caller right away, not after the watch goroutine wakes.
	if t.Info() != nil {
		h.buildInfo()
	}

	go h.watch()
	if params.Paused {
		h.Pause()
	}
	return h, nil
}

func (s *Session) RemoveTorrent(eh engine.TorrentHandle, deleteFiles bool) {
	h, ok := eh.(*Handle)
	if !ok || !h.IsValid() {
		return
	}
	hash := h.InfoHash()

	s.mu.Lock()
	delete(s.handles, hash.Key())
	s.mu.Unlock()

	h.drop(deleteFiles)
	s.pushAlert(engine.TorrentRemovedAlert{Hash: hash})
}

// Pause suspends all transfer session-wide.
func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	handles := s.snapshotHandles()
	s.mu.Unlock()
	for _, h := range handles {
		h.quiesce()
	}
}

func (s *Session) Resume() {
	s.mu.Lock()
	s.paused = false
	handles := s.snapshotHandles()
	s.mu.Unlock()
	for _, h := range handles {
		if h.Flags()&engine.FlagPaused == 0 {
			h.unquiesce()
		}
	}
}

func (s *Session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// snapshotHandles must be called with s.mu held.
func (s *Session) snapshotHandles() []*Handle {
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

func (s *Session) ApplySettings(settings engine.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = engine.Settings{}
	}
	for k, v := range settings {
		s.settings[k] = v
	}
}

func (s *Session) GetSettings() engine.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(engine.Settings, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

var statsMetrics = []string{
	"net.recv_payload_bytes",
	"net.sent_payload_bytes",
	"peer.num_peers_connected",
	"peer.num_seeds_connected",
	"ses.num_torrents",
	"ses.num_paused_torrents",
}

func (s *Session) StatsMetrics() []string {
	out := make([]string, len(statsMetrics))
	copy(out, statsMetrics)
	return out
}

func (s *Session) PostSessionStats() {
	s.mu.Lock()
	handles := s.snapshotHandles()
	s.mu.Unlock()

	var recv, sent, peers, seeds, paused int64
	for _, h := range handles {
		st := h.t.Stats()
		recv += st.BytesReadData.Int64()
		sent += st.BytesWrittenData.Int64()
		peers += int64(st.ActivePeers)
		seeds += int64(st.ConnectedSeeders)
		if h.Flags()&engine.FlagPaused != 0 {
			paused++
		}
	}
	s.pushAlert(engine.SessionStatsAlert{
		Counters: []int64{recv, sent, peers, seeds, int64(len(handles)), paused},
	})
}

func (s *Session) PostDHTStats() {
	nodes := 0
	for _, srv := range s.client.DhtServers() {
		if stats, ok := srv.Stats().(dht.ServerStats); ok {
			nodes += stats.Nodes
		}
	}
	s.pushAlert(engine.DHTStatsAlert{Nodes: nodes})
}

func (s *Session) PostTorrentUpdates() {
	s.mu.Lock()
	handles := s.snapshotHandles()
	s.mu.Unlock()

	statuses := make([]engine.TorrentStatus, 0, len(handles))
	for _, h := range handles {
		statuses = append(statuses, h.Status())
	}
	s.pushAlert(engine.StateUpdateAlert{Statuses: statuses})
}

func (s *Session) StateParams() ([]byte, error) {
	servers := s.client.DhtServers()
	if len(servers) == 0 {
		return bencode.Marshal(dhtStateWire{})
	}
	id := servers[0].ID()
	return bencode.Marshal(dhtStateWire{NodeID: id[:]})
}

func (s *Session) SetAlertNotify(fn func()) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *Session) PopAlerts() []engine.Alert {
	s.mu.Lock()
	out := s.alerts
	s.alerts = nil
	s.mu.Unlock()
	return out
}

func (s *Session) WaitForAlert(timeout time.Duration) engine.Alert {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		if len(s.alerts) > 0 {
			a := s.alerts[0]
			s.mu.Unlock()
			return a
		}
		s.mu.Unlock()
		select {
		case <-s.signal:
		case <-deadline.C:
			return nil
		}
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	errs := s.client.Close()
	return errors.Join(errs...)
}

// pushAlert appends to the queue and fires the notify callback when the
// queue was empty. Runs on arbitrary goroutines.
func (s *Session) pushAlert(a engine.Alert) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	wasEmpty := len(s.alerts) == 0
	s.alerts = append(s.alerts, a)
	notify := s.notify
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	if wasEmpty && notify != nil {
		notify()
	}
}

func specFromParams(p *engine.AddTorrentParams) (*torrent.TorrentSpec, error) {
	if len(p.InfoBytes) > 0 {
		hash := metainfo.Hash(sha1.Sum(p.InfoBytes))
		spec := &torrent.TorrentSpec{
			AddTorrentOpts: torrent.AddTorrentOpts{
				InfoHash:  hash,
				InfoBytes: p.InfoBytes,
			},
			DisplayName: p.Name,
		}
		if len(p.Trackers) > 0 {
			spec.Trackers = [][]string{p.Trackers}
		}
		if p.SavePath != "" {
			spec.Storage = storageForPath(p.SavePath)
		}
		return spec, nil
	}
	if p.Magnet != "" {
		spec, err := torrent.TorrentSpecFromMagnetUri(p.Magnet)
		if err != nil {
			return nil, fmt.Errorf("parse magnet: %w", err)
		}
		if p.SavePath != "" {
			spec.Storage = storageForPath(p.SavePath)
		}
		return spec, nil
	}
	return nil, errors.New("torrent params carry neither metadata nor a magnet link")
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
