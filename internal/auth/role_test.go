package auth

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hitoshi/portfolio/internal/model"
)

func TestResolveRole(t *testing.T) {
	tests := []struct {
		name    string
		claims  map[string]any
		want    model.Role
		wantErr error
	}{
		{"role string", map[string]any{"role": "editor"}, model.RoleEditor, nil},
		{"legacy flag", map[string]any{"admin": true}, model.RoleAdmin, nil},
		{"string and matching flag", map[string]any{"role": "admin", "admin": true}, model.RoleAdmin, nil},
		{"false flag ignored", map[string]any{"admin": false, "viewer": true}, model.RoleViewer, nil},
		{"no claims", nil, "", ErrNoRole},
		{"unrelated claims", map[string]any{"tier": "gold"}, "", ErrNoRole},
		{"unknown role string", map[string]any{"role": "owner"}, "", ErrNoRole},
		{"non-string role", map[string]any{"role": 1}, "", ErrNoRole},
		{"two flags", map[string]any{"admin": true, "editor": true}, "", ErrAmbiguousRole},
		{"string and other flag", map[string]any{"role": "editor", "admin": true}, "", ErrAmbiguousRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveRole(tt.claims)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("role = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithRole_ReplacesLegacyFlags(t *testing.T) {
	in := map[string]any{"admin": true, "tier": "gold"}

	got := WithRole(in, model.RoleEditor)

	want := map[string]any{"role": "editor", "tier": "gold"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WithRole = %v, want %v", got, want)
	}
	if _, ok := in["role"]; ok {
		t.Error("input map must not be modified")
	}
}
