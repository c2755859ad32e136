// Package firestore provides the document-store adapters for the four
// repository capabilities. Documents max out at ~1 MiB, which is what forces
// the LLM-call chunking implemented in package llmcall; this adapter persists
// the planned records atomically and reassembles them on read.
//
// Selected at boot with DATABASE=firestore. Environment:
//
//	GCLOUD_PROJECT            project id
//	FIRESTORE_DATABASE        database name ("(default)" when empty)
//	FIRESTORE_EMULATOR_HOST   enables emulator mode; a demo-* project id is
//	                          used when GCLOUD_PROJECT is unset
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	cloudfirestore "cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/typedai/typedai/telemetry"
)

const (
	agentsCollection       = "AgentContext"
	llmCallsCollection     = "LlmCall"
	reviewConfigCollection = "CodeReviewConfig"
	reviewCacheCollection  = "CodeReviewFingerprints"

	emulatorProject = "demo-typedai"
)

type (
	// Options configures the Firestore adapters.
	Options struct {
		// Project is the GCP project id. Defaults to GCLOUD_PROJECT, or the
		// demo project when the emulator is active.
		Project string
		// Database is the Firestore database name. Defaults to
		// FIRESTORE_DATABASE, then "(default)".
		Database string
		// Logger receives adapter warnings. Defaults to a no-op.
		Logger telemetry.Logger
	}

	// Client bundles the Firestore connection shared by the adapters.
	Client struct {
		fs     *cloudfirestore.Client
		logger telemetry.Logger
	}
)

// NewClient connects to Firestore (or the emulator when
// FIRESTORE_EMULATOR_HOST is set).
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	project := opts.Project
	if project == "" {
		project = os.Getenv("GCLOUD_PROJECT")
	}
	if project == "" {
		if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
			return nil, errors.New("firestore: project is required (set GCLOUD_PROJECT)")
		}
		project = emulatorProject
	}
	database := opts.Database
	if database == "" {
		database = os.Getenv("FIRESTORE_DATABASE")
	}
	if database == "" {
		database = cloudfirestore.DefaultDatabaseID
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	fs, err := cloudfirestore.NewClientWithDatabase(ctx, project, database)
	if err != nil {
		return nil, fmt.Errorf("firestore: connect project %s database %s: %w", project, database, err)
	}
	return &Client{fs: fs, logger: logger}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.fs.Close() }

// isNotFound reports a Firestore document miss.
func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
