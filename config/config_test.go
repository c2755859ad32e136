package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE", "")
	t.Setenv("AUTH", "")
	cfg := Load()
	require.Equal(t, DatabaseMemory, cfg.Database)
	require.Equal(t, AuthSingleUser, cfg.Auth)
	require.True(t, cfg.SingleUser())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("GITLAB_HOST", "gitlab.example.com")
	t.Setenv("TYPEDAI_FS", "/var/agents")
	t.Setenv("GCLOUD_CLAUDE_REGION", "us-east5")
	cfg := Load()
	require.Equal(t, DatabaseMongo, cfg.Database)
	require.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	require.Equal(t, "gitlab.example.com", cfg.GitLabHost)
	require.Equal(t, "/var/agents", cfg.FSBase)
	require.Equal(t, "us-east5", cfg.GCloudClaudeRegion)
}

func TestSystemDirLayout(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{SysDir: dir}
	require.Equal(t, filepath.Join(dir, ".typedai"), cfg.SystemDir())
	require.Equal(t, filepath.Join(dir, ".typedai", "agents", "a1"), cfg.AgentDir("a1"))
	cfg.FSBase = filepath.Join(dir, "fs")
	require.Equal(t, filepath.Join(dir, "fs", "agents", "a1"), cfg.AgentDir("a1"))
	cfg.FSBase = ""
	require.Equal(t, filepath.Join(dir, ".typedai", "gitlab", "group", "proj"), cfg.CloneDir("gitlab", "group/proj"))
}

func TestSystemDirFallsBackToCwd(t *testing.T) {
	cfg := &Config{}
	got := cfg.SystemDir()
	require.Equal(t, ".typedai", filepath.Base(got))
	require.True(t, filepath.IsAbs(got))
}
