package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mempool "github.com/holmberd/go-mempool"
)

const basicScenario = `
capacity = 10
word_size = 4

[[op]]
kind  = "alloc"
name  = "a"
bytes = 16

[[op]]
kind  = "alloc"
name  = "b"
bytes = 24

[[op]]
kind = "free"
name = "a"

[[op]]
kind = "map"
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario(basicScenario)
	require.NoError(t, err)

	assert.Equal(t, 10, s.Capacity)
	assert.Equal(t, 4, s.WordSize)
	assert.Equal(t, mempool.DefaultMaxWords, s.MaxWords, "max words defaults")
	assert.Equal(t, "best", s.Strategy, "strategy defaults")
	assert.Equal(t, sourceHeap, s.Source, "source defaults")
	require.Len(t, s.Ops, 4)
	assert.Equal(t, Op{Kind: "alloc", Name: "b", Bytes: 24}, s.Ops[1])
	assert.Equal(t, "map", s.Ops[3].Kind)
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "malformed toml",
			data:    "capacity = ",
			wantErr: "failed to decode scenario",
		},
		{
			name:    "unknown top level key",
			data:    "capacity = 8\nsize = 3",
			wantErr: "unknown keys size",
		},
		{
			name:    "unknown op key",
			data:    "capacity = 8\n[[op]]\nkind = \"verify\"\nlength = 2",
			wantErr: "unknown keys op.length",
		},
		{
			name:    "negative word size",
			data:    "capacity = 8\nword_size = -4",
			wantErr: "word_size -4 must be positive",
		},
		{
			name:    "unknown strategy",
			data:    "capacity = 8\nstrategy = \"first\"",
			wantErr: `unknown strategy "first"`,
		},
		{
			name:    "unknown source",
			data:    "capacity = 8\nsource = \"disk\"",
			wantErr: `unknown source "disk"`,
		},
		{
			name:    "unknown op kind",
			data:    "capacity = 8\n[[op]]\nkind = \"compact\"",
			wantErr: `op 1: unknown kind "compact"`,
		},
		{
			name:    "alloc without a name",
			data:    "capacity = 8\n[[op]]\nkind = \"alloc\"\nbytes = 8",
			wantErr: "op 1: alloc requires a name",
		},
		{
			name:    "dump without a path",
			data:    "capacity = 8\n[[op]]\nkind = \"verify\"\n[[op]]\nkind = \"dump\"",
			wantErr: "op 2: dump requires a path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("every problem is reported", func(t *testing.T) {
		_, err := ParseScenario("word_size = -1\nsource = \"disk\"\n[[op]]\nkind = \"free\"")
		require.Error(t, err)
		for _, want := range []string{"word_size -1", `unknown source "disk"`, "free requires a name"} {
			assert.Contains(t, err.Error(), want)
		}
	})
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.toml")
	require.NoError(t, os.WriteFile(path, []byte(basicScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Len(t, s.Ops, 4)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
