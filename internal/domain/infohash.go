package domain

// InfoHash is the dual identity of a torrent: a hex-encoded v1 SHA-1 and/or a
// hex-encoded v2 SHA-256 digest. Hybrid torrents carry both, older torrents
// only V1, v2-only torrents only V2.
type InfoHash struct {
	V1 string `json:"v1,omitempty"`
	V2 string `json:"v2,omitempty"`
}

// Matches reports whether two info hashes identify the same torrent: true iff
// any present member is equal on both sides.
func (h InfoHash) Matches(o InfoHash) bool {
	if h.V1 != "" && h.V1 == o.V1 {
		return true
	}
	if h.V2 != "" && h.V2 == o.V2 {
		return true
	}
	return false
}

// Key returns the canonical map/store key for the hash. A torrent that ever
// had a v1 hash keeps it for life, so preferring V1 gives a stable key across
// the hybrid upgrade path.
func (h InfoHash) Key() string {
	if h.V1 != "" {
		return h.V1
	}
	return h.V2
}

func (h InfoHash) IsZero() bool {
	return h.V1 == "" && h.V2 == ""
}

func (h InfoHash) String() string {
	return h.Key()
}
