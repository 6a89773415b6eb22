package engine

import (
	"fmt"

	"github.com/anacrolix/torrent/bencode"

	"torrentd/internal/domain"
)

// AddTorrentParams is the engine-ready description of a torrent to add:
// either freshly supplied by a caller or reconstructed from a persisted
// resume record.
type AddTorrentParams struct {
	Name          string
	SavePath      string
	QueuePosition int

	// InfoBytes is the bencoded info dictionary; empty for magnet adds until
	// metadata arrives.
	InfoBytes []byte

	// Magnet is consulted only when InfoBytes is empty.
	Magnet string

	Trackers []string
	Paused   bool

	// CompletedPieces is the resume bitfield, one bool per piece.
	CompletedPieces []bool

	// ClientData rides along; the engine treats it as opaque.
	ClientData *domain.ClientData
}

// resumeWire is the on-disk shape of the resume blob. Bencoded so the blob
// stays in the torrent ecosystem's native format.
type resumeWire struct {
	Name          string   `bencode:"name"`
	SavePath      string   `bencode:"save_path"`
	QueuePosition int      `bencode:"queue_position"`
	Info          []byte   `bencode:"info,omitempty"`
	Magnet        string   `bencode:"magnet,omitempty"`
	Trackers      []string `bencode:"trackers,omitempty"`
	Paused        bool     `bencode:"paused"`
	Pieces        []byte   `bencode:"pieces,omitempty"`
}

// EncodeResume serializes params into the opaque resume blob persisted in the
// torrent record.
func EncodeResume(p *AddTorrentParams) ([]byte, error) {
	w := resumeWire{
		Name:          p.Name,
		SavePath:      p.SavePath,
		QueuePosition: p.QueuePosition,
		Info:          p.InfoBytes,
		Magnet:        p.Magnet,
		Trackers:      p.Trackers,
		Paused:        p.Paused,
	}
	if len(p.CompletedPieces) > 0 {
		w.Pieces = make([]byte, len(p.CompletedPieces))
		for i, done := range p.CompletedPieces {
			if done {
				w.Pieces[i] = 1
			}
		}
	}
	b, err := bencode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode resume data: %w", err)
	}
	return b, nil
}

// DecodeResume reverses EncodeResume.
func DecodeResume(blob []byte) (*AddTorrentParams, error) {
	var w resumeWire
	if err := bencode.Unmarshal(blob, &w); err != nil {
		return nil, fmt.Errorf("decode resume data: %w", err)
	}
	p := &AddTorrentParams{
		Name:          w.Name,
		SavePath:      w.SavePath,
		QueuePosition: w.QueuePosition,
		InfoBytes:     w.Info,
		Magnet:        w.Magnet,
		Trackers:      w.Trackers,
		Paused:        w.Paused,
	}
	if len(w.Pieces) > 0 {
		p.CompletedPieces = make([]bool, len(w.Pieces))
		for i, b := range w.Pieces {
			p.CompletedPieces[i] = b != 0
		}
	}
	return p, nil
}

// sessionStateWire is the session-params file payload. Only DHT state is
// meaningful across restarts.
type sessionStateWire struct {
	DHT []byte `bencode:"dht,omitempty"`
}

// EncodeSessionState wraps a DHT state blob into the session-params file
// format.
func EncodeSessionState(dhtState []byte) ([]byte, error) {
	b, err := bencode.Marshal(sessionStateWire{DHT: dhtState})
	if err != nil {
		return nil, fmt.Errorf("encode session state: %w", err)
	}
	return b, nil
}

// DecodeSessionState extracts the DHT state from a session-params blob,
// discarding everything else.
func DecodeSessionState(blob []byte) ([]byte, error) {
	var w sessionStateWire
	if err := bencode.Unmarshal(blob, &w); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return w.DHT, nil
}
