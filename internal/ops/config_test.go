package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFailsWithoutDBURL(t *testing.T) {
	_, err := Load(Flags{})
	require.Error(t, err)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"db_url":"postgres://file","port":9000}`), 0o644))

	cfg, err := Load(Flags{ConfigFile: path, DBURL: "postgres://flag", Port: 7000})
	require.NoError(t, err)
	require.Equal(t, "postgres://flag", cfg.DBURL)
	require.Equal(t, 7000, cfg.Port)
}

func TestLoadFallsBackToFileThenDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"db_url":"postgres://file"}`), 0o644))

	cfg, err := Load(Flags{ConfigFile: path})
	require.NoError(t, err)
	require.Equal(t, "postgres://file", cfg.DBURL)
	require.Equal(t, 8080, cfg.Port)
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"--db_url=postgres://x", "--disable_rms"})
	require.NoError(t, err)
	require.Equal(t, "postgres://x", f.DBURL)
	require.True(t, f.DisableRMS)
}
