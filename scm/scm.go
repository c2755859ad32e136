// Package scm defines the provider-neutral source-control abstraction used by
// the agent runtime (project discovery, clones, merge requests, job logs) and
// the extended surface the code-review engine needs (diffs, discussions,
// anchored comments). Provider adapters live in subpackages.
package scm

import "context"

type (
	// Project is a source-control project.
	Project struct {
		ID                int64  `json:"id"`
		Name              string `json:"name"`
		PathWithNamespace string `json:"pathWithNamespace"`
		Description       string `json:"description,omitempty"`
		DefaultBranch     string `json:"defaultBranch,omitempty"`
		Archived          bool   `json:"archived,omitempty"`
	}

	// MergeRequest is the provider-neutral view of a merge/pull request.
	MergeRequest struct {
		ID           int64  `json:"id"`
		IID          int64  `json:"iid"`
		ProjectID    int64  `json:"projectId"`
		Title        string `json:"title"`
		Description  string `json:"description,omitempty"`
		WebURL       string `json:"url"`
		SourceBranch string `json:"sourceBranch,omitempty"`
		TargetBranch string `json:"targetBranch,omitempty"`
		// DiffRefs anchors positioned comments; nil when the provider has not
		// computed them yet.
		DiffRefs *DiffRefs `json:"diffRefs,omitempty"`
	}

	// DiffRefs are the commit SHAs a positioned comment is anchored to.
	DiffRefs struct {
		BaseSha  string `json:"baseSha"`
		HeadSha  string `json:"headSha"`
		StartSha string `json:"startSha"`
	}

	// Diff is one changed file within a merge request.
	Diff struct {
		OldPath     string `json:"oldPath"`
		NewPath     string `json:"newPath"`
		Diff        string `json:"diff"`
		NewFile     bool   `json:"newFile,omitempty"`
		RenamedFile bool   `json:"renamedFile,omitempty"`
		DeletedFile bool   `json:"deletedFile,omitempty"`
	}

	// Discussion is a comment thread on a merge request.
	Discussion struct {
		ID    string `json:"id"`
		Notes []Note `json:"notes"`
	}

	// Note is a single comment within a discussion.
	Note struct {
		ID       int64  `json:"id"`
		Body     string `json:"body"`
		AuthorID int64  `json:"authorId"`
	}

	// Position anchors a discussion note to a line of the merge-request diff.
	Position struct {
		BaseSha  string
		HeadSha  string
		StartSha string
		OldPath  string
		NewPath  string
		NewLine  int
	}

	// SourceControl is the runtime-facing provider surface.
	SourceControl interface {
		// GetProjects lists the projects visible to the configured scope.
		GetProjects(ctx context.Context) ([]Project, error)
		// GetProject resolves a project by numeric id or path with namespace.
		GetProject(ctx context.Context, pathOrID string) (Project, error)
		// CloneProject clones (or refreshes) the project into the shared clone
		// area and returns the local path. branchOrCommit selects what to check
		// out; empty means the default branch.
		CloneProject(ctx context.Context, pathWithNamespace, branchOrCommit string) (string, error)
		// CreateMergeRequest opens a merge request and returns its identifiers.
		CreateMergeRequest(ctx context.Context, projectID int64, title, description, sourceBranch, targetBranch string) (MergeRequest, error)
		// GetJobLogs returns the log output of a CI job.
		GetJobLogs(ctx context.Context, pathOrID string, jobID int64) (string, error)
	}

	// MergeRequestReviewer is the extended surface the code-review engine
	// needs on top of SourceControl.
	MergeRequestReviewer interface {
		// GetMergeRequest fetches the merge request, including diff refs.
		GetMergeRequest(ctx context.Context, projectID int64, mrIID int64) (MergeRequest, error)
		// GetMergeRequestDiffs lists every changed file of the merge request.
		GetMergeRequestDiffs(ctx context.Context, projectID int64, mrIID int64) ([]Diff, error)
		// ListMergeRequestDiscussions lists the comment threads.
		ListMergeRequestDiscussions(ctx context.Context, projectID int64, mrIID int64) ([]Discussion, error)
		// CreateMergeRequestDiscussion posts a comment, anchored at position
		// when non-nil.
		CreateMergeRequestDiscussion(ctx context.Context, projectID int64, mrIID int64, body string, position *Position) error
	}
)
