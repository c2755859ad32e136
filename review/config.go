// Package review implements the merge-request code-review engine: rule
// configuration, review-unit enumeration, diff preparation, content
// fingerprinting with a durable per-MR cache, LLM invocation and de-duplicated
// inline comments.
package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// Example pairs offending code with the review comment it should draw.
	Example struct {
		Code          string `json:"code" yaml:"code" firestore:"code" bson:"code"`
		ReviewComment string `json:"reviewComment" yaml:"reviewComment" firestore:"reviewComment" bson:"reviewComment"`
	}

	// Config is one durable review rule.
	Config struct {
		ID          string `json:"id" yaml:"id" firestore:"id" bson:"_id"`
		Title       string `json:"title" yaml:"title" firestore:"title" bson:"title"`
		Enabled     bool   `json:"enabled" yaml:"enabled" firestore:"enabled" bson:"enabled"`
		Description string `json:"description" yaml:"description" firestore:"description" bson:"description"`
		// Version participates in the unit fingerprint so rule edits
		// invalidate cached clean verdicts.
		Version string `json:"version,omitempty" yaml:"version,omitempty" firestore:"version,omitempty" bson:"version,omitempty"`
		// FileExtensions.Include limits the rule to matching new paths.
		FileExtensions struct {
			Include []string `json:"include" yaml:"include" firestore:"include" bson:"include"`
		} `json:"fileExtensions" yaml:"fileExtensions" firestore:"fileExtensions" bson:"fileExtensions"`
		// Requires.Text: at least one literal must appear in the diff text.
		Requires struct {
			Text []string `json:"text" yaml:"text" firestore:"text" bson:"text"`
		} `json:"requires" yaml:"requires" firestore:"requires" bson:"requires"`
		// ProjectPaths globs select applicable projects; empty means all.
		ProjectPaths []string  `json:"projectPaths" yaml:"projectPaths" firestore:"projectPaths" bson:"projectPaths"`
		Examples     []Example `json:"examples" yaml:"examples" firestore:"examples" bson:"examples"`
	}

	// ConfigStore persists review rules.
	ConfigStore interface {
		ListConfigs(ctx context.Context) ([]Config, error)
		GetConfig(ctx context.Context, id string) (Config, error)
		SaveConfig(ctx context.Context, cfg Config) error
		DeleteConfig(ctx context.Context, id string) error
	}
)

// AppliesToProject reports whether the rule's project globs match path. Empty
// globs match every project.
func (c Config) AppliesToProject(projectPath string) bool {
	if len(c.ProjectPaths) == 0 {
		return true
	}
	for _, pattern := range c.ProjectPaths {
		if ok, err := filepath.Match(pattern, projectPath); err == nil && ok {
			return true
		}
	}
	return false
}

// AppliesToFile reports whether any include extension matches the new path.
func (c Config) AppliesToFile(newPath string) bool {
	for _, ext := range c.FileExtensions.Include {
		if filepath.Ext(newPath) == ext || strings.HasSuffix(newPath, ext) {
			return true
		}
	}
	return false
}

// RequiresText reports whether at least one required literal appears in the
// diff text. Rules with no required literals always pass.
func (c Config) RequiresText(diffText string) bool {
	if len(c.Requires.Text) == 0 {
		return true
	}
	for _, literal := range c.Requires.Text {
		if literal != "" && strings.Contains(diffText, literal) {
			return true
		}
	}
	return false
}

// LoadConfigsFromDir reads every .yaml/.yml rule file in dir.
func LoadConfigsFromDir(dir string) ([]Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("review: read rules dir %s: %w", dir, err)
	}
	var configs []Config
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("review: read rule %s: %w", entry.Name(), err)
		}
		var cfg Config
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("review: parse rule %s: %w", entry.Name(), err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
