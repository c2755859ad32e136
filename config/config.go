// Package config reads the environment configuration: backend selection, auth
// mode, system directory layout, cloud project settings and source-control
// credentials. A .env file in the working directory is loaded first so local
// development does not need exported variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Database backends selectable via DATABASE.
const (
	DatabaseMemory    = "memory"
	DatabaseFirestore = "firestore"
	DatabaseMongo     = "mongo"
)

// Auth modes selectable via AUTH.
const (
	AuthSingleUser = "single_user"
)

// systemDirName is the directory created under the system root.
const systemDirName = ".typedai"

// Config is the resolved environment configuration.
type Config struct {
	// Database selects the persistence backend: memory, firestore or mongo.
	Database string
	// Auth selects the authentication mode.
	Auth string
	// SysDir is the system directory root; empty means the working directory.
	SysDir string
	// FSBase overrides where agent working directories live; empty keeps
	// them under the system directory.
	FSBase string

	// GCloudProject, FirestoreDatabase and FirestoreEmulatorHost configure
	// the firestore backend. GCloudClaudeRegion is the region for
	// Vertex-hosted Claude models.
	GCloudProject         string
	GCloudRegion          string
	GCloudClaudeRegion    string
	FirestoreDatabase     string
	FirestoreEmulatorHost string

	// MongoURI and MongoDatabase configure the mongo backend.
	MongoURI      string
	MongoDatabase string

	// GitLabHost, GitLabToken, GitLabGroups and GitLabBotUserID configure the
	// source-control integration.
	GitLabHost      string
	GitLabToken     string
	GitLabGroups    string
	GitLabBotUserID string
}

// Load reads the configuration from the environment, after loading an
// optional .env file. Missing .env is not an error.
func Load() *Config {
	_ = godotenv.Load()
	cfg := &Config{
		Database:              os.Getenv("DATABASE"),
		Auth:                  os.Getenv("AUTH"),
		SysDir:                os.Getenv("TYPEDAI_SYS_DIR"),
		FSBase:                os.Getenv("TYPEDAI_FS"),
		GCloudProject:         os.Getenv("GCLOUD_PROJECT"),
		GCloudRegion:          os.Getenv("GCLOUD_REGION"),
		GCloudClaudeRegion:    os.Getenv("GCLOUD_CLAUDE_REGION"),
		FirestoreDatabase:     os.Getenv("FIRESTORE_DATABASE"),
		FirestoreEmulatorHost: os.Getenv("FIRESTORE_EMULATOR_HOST"),
		MongoURI:              os.Getenv("MONGO_URI"),
		MongoDatabase:         os.Getenv("MONGO_DATABASE"),
		GitLabHost:            os.Getenv("GITLAB_HOST"),
		GitLabToken:           os.Getenv("GITLAB_TOKEN"),
		GitLabGroups:          os.Getenv("GITLAB_GROUPS"),
		GitLabBotUserID:       os.Getenv("GITLAB_BOT_USER_ID"),
	}
	if cfg.Database == "" {
		cfg.Database = DatabaseMemory
	}
	if cfg.Auth == "" {
		cfg.Auth = AuthSingleUser
	}
	return cfg
}

// SystemDir returns the system directory root: ${SYS_DIR || cwd}/.typedai.
func (c *Config) SystemDir() string {
	root := c.SysDir
	if root == "" {
		if cwd, err := os.Getwd(); err == nil {
			root = cwd
		} else {
			root = "."
		}
	}
	return filepath.Join(root, systemDirName)
}

// AgentDir returns the working directory assigned to an agent. TYPEDAI_FS
// relocates agent filesystems without moving the rest of the system
// directory.
func (c *Config) AgentDir(agentID string) string {
	if c.FSBase != "" {
		return filepath.Join(c.FSBase, "agents", agentID)
	}
	return filepath.Join(c.SystemDir(), "agents", agentID)
}

// CloneDir returns the shared clone location for a source-control project,
// e.g. <systemDir>/gitlab/<group>/<project>.
func (c *Config) CloneDir(scm, projectPathWithNamespace string) string {
	parts := append([]string{c.SystemDir(), scm}, strings.Split(projectPathWithNamespace, "/")...)
	return filepath.Join(parts...)
}

// SingleUser reports whether the deployment runs in single-user mode.
func (c *Config) SingleUser() bool { return c.Auth == AuthSingleUser }
