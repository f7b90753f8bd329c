package aiocompl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, IoMgrAsync, cfg.IoMgr)
	require.Equal(t, FileBackendNonBuffered, cfg.FileBackend)
	require.Equal(t, DefaultRequestCacheCap, cfg.RequestCacheCap)
	require.Equal(t, DefaultActiveRequestsMax, cfg.ActiveRequestsMax)
}

func TestLoadConfigAppliesDefaultsToUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "io_mgr: Simple\nbw_groups:\n  - name: slow\n    max: 1048576\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, IoMgrSimple, cfg.IoMgr)
	require.Equal(t, FileBackendNonBuffered, cfg.FileBackend) // untouched, default preserved
	require.Len(t, cfg.BwGroups, 1)
	require.Equal(t, "slow", cfg.BwGroups[0].Name)
	require.Equal(t, int64(1048576), cfg.BwGroups[0].Max)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
