package render

import "testing"

func testContext() Context {
	return Context{
		"event": Static(map[string]any{
			"name":     "ubuntu.iso",
			"progress": 1.0,
			"peers":    0,
		}),
		"steps": Static([]any{}),
	}
}

func TestRenderTextMode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello", "hello"},
		{"single expression", "name={{ event.name }}", "name=ubuntu.iso"},
		{"two expressions", "{{ event.name }}:{{ event.peers }}", "ubuntu.iso:0"},
		{"empty steps list", "{{ steps }}", "[]"},
		{"arithmetic", "{{ 2 + 3 }}", "5"},
		{"unterminated left alone", "{{ event.name", "{{ event.name"},
		{"empty expression", "a{{ }}b", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.input, false, testContext())
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRenderRawMode(t *testing.T) {
	got, err := Render("event.peers == 0", true, testContext())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != true {
		t.Errorf("raw render = %v (%T), want true", got, got)
	}

	got, err = Render("event.name", true, testContext())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "ubuntu.iso" {
		t.Errorf("raw render = %v, want the structured string", got)
	}
}

func TestRenderBadExpression(t *testing.T) {
	if _, err := Render("event ~!? name", true, testContext()); err == nil {
		t.Error("invalid expression accepted")
	}
}

func TestIsFalsy(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"false", false, true},
		{"nil", nil, true},
		{"int zero", 0, true},
		{"int64 zero", int64(0), true},
		{"float zero", 0.0, true},
		{"true", true, false},
		{"nonzero int", 1, false},
		{"empty string is truthy", "", false},
		{"empty list is truthy", []any{}, false},
		{"empty map is truthy", map[string]any{}, false},
		{"nonzero float", 0.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFalsy(tt.v); got != tt.want {
				t.Errorf("IsFalsy(%#v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}
