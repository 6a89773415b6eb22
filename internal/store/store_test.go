package store

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func testParams(name string) *engine.AddTorrentParams {
	return &engine.AddTorrentParams{
		Name:      name,
		SavePath:  "/data",
		InfoBytes: []byte("d4:name1:" + name + "e"),
	}
}

func TestMigrateFreshDatabase(t *testing.T) {
	s := openTestStore(t)
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != Migrations() {
		t.Errorf("user_version = %d, want %d", v, Migrations())
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, _ := s.SchemaVersion()
	if v != Migrations() {
		t.Errorf("user_version = %d after re-migrate, want %d", v, Migrations())
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	s := openTestStore(t)
	hash := domain.InfoHash{V1: "aaaa"}
	if err := s.InsertTorrent(hash, testParams("t1")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertTorrent(hash, testParams("t1"))
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("second insert error = %v, want ErrDuplicate", err)
	}
}

func TestUpdateIsUpsert(t *testing.T) {
	s := openTestStore(t)
	hash := domain.InfoHash{V1: "bbbb"}

	// Update without a prior insert must create the row.
	if err := s.UpdateTorrent(hash, testParams("t2")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	n, _ := s.CountTorrents()
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	updated := testParams("t2-renamed")
	updated.QueuePosition = 7
	if err := s.UpdateTorrent(hash, updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	var found *engine.AddTorrentParams
	err := s.ForEachTorrent(func(h domain.InfoHash, p *engine.AddTorrentParams) error {
		if h.Key() == hash.Key() {
			found = p
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachTorrent: %v", err)
	}
	if found == nil {
		t.Fatal("row not found after update")
	}
	if found.Name != "t2-renamed" || found.QueuePosition != 7 {
		t.Errorf("update lost fields: %+v", found)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	hash := domain.InfoHash{V1: "cccc"}
	if err := s.InsertTorrent(hash, testParams("t3")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.RemoveTorrent(hash); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := s.RemoveTorrent(hash); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	n, _ := s.CountTorrents()
	if n != 0 {
		t.Errorf("count = %d after removes, want 0", n)
	}
}

func TestRecordRoundTripWithClientData(t *testing.T) {
	s := openTestStore(t)
	hash := domain.InfoHash{V1: "dddd"}

	enabled := true
	params := testParams("t4")
	params.ClientData = &domain.ClientData{
		MediaInfoEnabled:   &enabled,
		MediaInfoStaggered: true,
		PiecesWanted:       map[int]domain.PieceSet{0: domain.NewPieceSet(0, 1)},
		PiecesCompleted:    map[int]domain.PieceSet{0: domain.NewPieceSet(0)},
	}
	if err := s.InsertTorrent(hash, params); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got *engine.AddTorrentParams
	err := s.ForEachTorrent(func(_ domain.InfoHash, p *engine.AddTorrentParams) error {
		got = p
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachTorrent: %v", err)
	}
	if got == nil || got.ClientData == nil {
		t.Fatal("client data not round-tripped")
	}
	cd := got.ClientData
	if !cd.MediaInfoActive() || !cd.MediaInfoStaggered {
		t.Errorf("flags lost: %+v", cd)
	}
	if !cd.PiecesWanted[0].Equal(domain.NewPieceSet(0, 1)) {
		t.Errorf("wanted set lost: %v", cd.PiecesWanted)
	}
	if !cd.PiecesCompleted[0].Equal(domain.NewPieceSet(0)) {
		t.Errorf("completed set lost: %v", cd.PiecesCompleted)
	}
}

func TestUsers(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetUser("admin"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing user error = %v, want ErrNotFound", err)
	}
	if err := s.UpsertUser(User{Username: "admin", PasswordDigest: "digest1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertUser(User{Username: "admin", PasswordDigest: "digest2"}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	u, err := s.GetUser("admin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PasswordDigest != "digest2" {
		t.Errorf("digest = %q, want updated value", u.PasswordDigest)
	}
}

func TestSettingsOverlay(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetSetting("listen_port", "6881"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting("listen_port", "6882"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.SetSetting("seed", "true"); err != nil {
		t.Fatalf("set second: %v", err)
	}
	got, err := s.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got["listen_port"] != "6882" || got["seed"] != "true" {
		t.Errorf("overlay = %v", got)
	}
}

func TestTorrentMetadata(t *testing.T) {
	s := openTestStore(t)
	hash := domain.InfoHash{V1: "eeee"}
	if err := s.SetTorrentMetadata(hash, "category", "linux"); err != nil {
		t.Fatalf("set: %v", err)
	}
	md, err := s.TorrentMetadata(hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if md["category"] != "linux" {
		t.Errorf("metadata = %v", md)
	}

	// Removing the torrent clears its metadata too.
	if err := s.InsertTorrent(hash, testParams("t5")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.RemoveTorrent(hash); err != nil {
		t.Fatalf("remove: %v", err)
	}
	md, _ = s.TorrentMetadata(hash)
	if len(md) != 0 {
		t.Errorf("metadata survived removal: %v", md)
	}
}
