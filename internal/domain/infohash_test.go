package domain

import "testing"

func TestInfoHashMatches(t *testing.T) {
	tests := []struct {
		name string
		a, b InfoHash
		want bool
	}{
		{"same v1", InfoHash{V1: "aa"}, InfoHash{V1: "aa"}, true},
		{"same v2", InfoHash{V2: "bb"}, InfoHash{V2: "bb"}, true},
		{"hybrid matches v1-only", InfoHash{V1: "aa", V2: "bb"}, InfoHash{V1: "aa"}, true},
		{"hybrid matches v2-only", InfoHash{V1: "aa", V2: "bb"}, InfoHash{V2: "bb"}, true},
		{"different", InfoHash{V1: "aa"}, InfoHash{V1: "cc"}, false},
		{"v1 vs v2 never match", InfoHash{V1: "aa"}, InfoHash{V2: "aa"}, false},
		{"both zero", InfoHash{}, InfoHash{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Matches(tt.b); got != tt.want {
				t.Errorf("Matches(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestInfoHashKey(t *testing.T) {
	if got := (InfoHash{V1: "aa", V2: "bb"}).Key(); got != "aa" {
		t.Errorf("hybrid Key() = %q, want v1 preferred", got)
	}
	if got := (InfoHash{V2: "bb"}).Key(); got != "bb" {
		t.Errorf("v2-only Key() = %q, want %q", got, "bb")
	}
	if !(InfoHash{}).IsZero() {
		t.Error("empty hash should be zero")
	}
}

func TestPieceSetEqual(t *testing.T) {
	a := NewPieceSet(1, 2, 3)
	b := NewPieceSet(3, 2, 1)
	if !a.Equal(b) {
		t.Error("order must not matter")
	}
	b.Add(4)
	if a.Equal(b) {
		t.Error("different sizes must not be equal")
	}
	if a.Equal(NewPieceSet(1, 2, 4)) {
		t.Error("same size, different members must not be equal")
	}
}
