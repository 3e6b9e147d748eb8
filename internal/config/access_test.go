package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.Service.Name = "gate-1"
	cfg.Verifier.Timeout = 45 * time.Second
	cfg.Verifier.Command = []string{"face_recognition", "--tolerance", "0.5"}

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{name: "root service field", path: "service.name", want: "gate-1"},
		{name: "integer", path: "reader.max_connections", want: 64},
		{name: "duration renders as string", path: "verifier.timeout", want: "45s"},
		{name: "list", path: "verifier.command", want: []any{"face_recognition", "--tolerance", "0.5"}},
		{name: "missing key", path: "service.missing", wantErr: true},
		{name: "through a scalar", path: "service.name.more", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetPath_EmptyReturnsEverything(t *testing.T) {
	got, err := Defaults().GetPath("")
	require.NoError(t, err)

	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, m, "reader")
	assert.Contains(t, m, "verifier")
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.API.Auth.Tokens = []APIToken{
		{Token: "supersecret-token", Scopes: []string{"*"}},
		{Token: "abc", Scopes: []string{"events:ro"}},
	}

	red := cfg.Redacted()
	assert.Equal(t, "supe*************", red.API.Auth.Tokens[0].Token)
	assert.Equal(t, "****", red.API.Auth.Tokens[1].Token)
	assert.Equal(t, "supersecret-token", cfg.API.Auth.Tokens[0].Token, "original untouched")
}
