// Package gitlab adapts the GitLab API to the scm interfaces. Configured from
// GITLAB_HOST, GITLAB_TOKEN, GITLAB_GROUPS (comma-separated top-level groups
// that scope project discovery) and GITLAB_BOT_USER_ID (the review bot's user
// id, used to recognize its own comments).
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	gitlabapi "gitlab.com/gitlab-org/api/client-go"

	"github.com/typedai/typedai/scm"
	"github.com/typedai/typedai/telemetry"
)

type (
	// Options configures the GitLab adapter.
	Options struct {
		// Host is the GitLab base URL. Defaults to GITLAB_HOST; a bare host
		// name gets an https scheme.
		Host string
		// Token authenticates API and clone access. Defaults to GITLAB_TOKEN.
		Token string
		// Groups scope GetProjects to these top-level groups. Defaults to the
		// comma-separated GITLAB_GROUPS.
		Groups []string
		// BotUserID identifies the review bot's own notes. Defaults to
		// GITLAB_BOT_USER_ID.
		BotUserID int64
		// CloneDir is where shared clones live, one subdirectory per project
		// path with namespace.
		CloneDir string
		// Logger receives adapter warnings. Defaults to a no-op.
		Logger telemetry.Logger
	}

	// GitLab implements scm.SourceControl and scm.MergeRequestReviewer.
	GitLab struct {
		client    *gitlabapi.Client
		host      string
		token     string
		groups    []string
		botUserID int64
		cloneDir  string
		logger    telemetry.Logger
	}
)

// New builds the GitLab adapter from opts, filling gaps from the environment.
func New(opts Options) (*GitLab, error) {
	host := opts.Host
	if host == "" {
		host = os.Getenv("GITLAB_HOST")
	}
	if host == "" {
		return nil, errors.New("gitlab: host is required (set GITLAB_HOST)")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	token := opts.Token
	if token == "" {
		token = os.Getenv("GITLAB_TOKEN")
	}
	if token == "" {
		return nil, errors.New("gitlab: token is required (set GITLAB_TOKEN)")
	}
	groups := opts.Groups
	if len(groups) == 0 {
		groups = SplitGroups(os.Getenv("GITLAB_GROUPS"))
	}
	botUserID := opts.BotUserID
	if botUserID == 0 {
		if raw := os.Getenv("GITLAB_BOT_USER_ID"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("gitlab: parse GITLAB_BOT_USER_ID: %w", err)
			}
			botUserID = id
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	client, err := gitlabapi.NewClient(token, gitlabapi.WithBaseURL(host+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("gitlab: new client: %w", err)
	}
	return &GitLab{
		client:    client,
		host:      host,
		token:     token,
		groups:    groups,
		botUserID: botUserID,
		cloneDir:  opts.CloneDir,
		logger:    logger,
	}, nil
}

// SplitGroups parses the comma-separated GITLAB_GROUPS value.
func SplitGroups(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if g := strings.TrimSpace(part); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// BotUserID returns the configured review-bot user id, zero when unset.
func (g *GitLab) BotUserID() int64 { return g.botUserID }

// GetProjects implements scm.SourceControl. Projects are discovered across
// every configured group, including subgroups, following pagination.
func (g *GitLab) GetProjects(ctx context.Context) ([]scm.Project, error) {
	if len(g.groups) == 0 {
		return nil, errors.New("gitlab: no groups configured (set GITLAB_GROUPS)")
	}
	var out []scm.Project
	for _, group := range g.groups {
		opt := &gitlabapi.ListGroupProjectsOptions{
			ListOptions:      gitlabapi.ListOptions{PerPage: 100},
			IncludeSubGroups: gitlabapi.Ptr(true),
		}
		for {
			projects, resp, err := g.client.Groups.ListGroupProjects(group, opt, gitlabapi.WithContext(ctx))
			if err != nil {
				return nil, fmt.Errorf("gitlab: list projects in %s: %w", group, err)
			}
			for _, p := range projects {
				out = append(out, toProject(p))
			}
			if resp.NextPage == 0 {
				break
			}
			opt.Page = resp.NextPage
		}
	}
	return out, nil
}

// GetProject implements scm.SourceControl.
func (g *GitLab) GetProject(ctx context.Context, pathOrID string) (scm.Project, error) {
	p, _, err := g.client.Projects.GetProject(pid(pathOrID), nil, gitlabapi.WithContext(ctx))
	if err != nil {
		return scm.Project{}, fmt.Errorf("gitlab: get project %s: %w", pathOrID, err)
	}
	return toProject(p), nil
}

// CloneProject implements scm.SourceControl. An existing clone is fetched and
// reset instead of recloned; concurrent callers for different projects are
// safe because each project has its own directory.
func (g *GitLab) CloneProject(ctx context.Context, pathWithNamespace, branchOrCommit string) (string, error) {
	if g.cloneDir == "" {
		return "", errors.New("gitlab: clone dir not configured")
	}
	local := filepath.Join(g.cloneDir, filepath.FromSlash(pathWithNamespace))
	remote := fmt.Sprintf("%s/%s.git", g.host, pathWithNamespace)
	// Token goes in the URL for non-interactive clones.
	authRemote := strings.Replace(remote, "://", "://oauth2:"+g.token+"@", 1)

	if _, err := os.Stat(filepath.Join(local, ".git")); err == nil {
		if err := g.git(ctx, local, "fetch", "--all", "--prune"); err != nil {
			return "", err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return "", fmt.Errorf("gitlab: create clone dir: %w", err)
		}
		if err := g.git(ctx, "", "clone", authRemote, local); err != nil {
			return "", err
		}
	}
	if branchOrCommit != "" {
		if err := g.git(ctx, local, "checkout", branchOrCommit); err != nil {
			return "", err
		}
	}
	return local, nil
}

func (g *GitLab) git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		// Never echo the token back in errors.
		msg := strings.ReplaceAll(string(out), g.token, "***")
		return fmt.Errorf("gitlab: git %s: %s: %w", args[0], strings.TrimSpace(msg), err)
	}
	return nil
}

// CreateMergeRequest implements scm.SourceControl.
func (g *GitLab) CreateMergeRequest(ctx context.Context, projectID int64, title, description, sourceBranch, targetBranch string) (scm.MergeRequest, error) {
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(int(projectID), &gitlabapi.CreateMergeRequestOptions{
		Title:        gitlabapi.Ptr(title),
		Description:  gitlabapi.Ptr(description),
		SourceBranch: gitlabapi.Ptr(sourceBranch),
		TargetBranch: gitlabapi.Ptr(targetBranch),
	}, gitlabapi.WithContext(ctx))
	if err != nil {
		return scm.MergeRequest{}, fmt.Errorf("gitlab: create merge request in project %d: %w", projectID, err)
	}
	return toMergeRequest(mr), nil
}

// GetJobLogs implements scm.SourceControl.
func (g *GitLab) GetJobLogs(ctx context.Context, pathOrID string, jobID int64) (string, error) {
	trace, _, err := g.client.Jobs.GetTraceFile(pid(pathOrID), int(jobID), gitlabapi.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("gitlab: get job %d logs: %w", jobID, err)
	}
	raw, err := io.ReadAll(trace)
	if err != nil {
		return "", fmt.Errorf("gitlab: read job %d logs: %w", jobID, err)
	}
	return string(raw), nil
}

// GetMergeRequest implements scm.MergeRequestReviewer.
func (g *GitLab) GetMergeRequest(ctx context.Context, projectID int64, mrIID int64) (scm.MergeRequest, error) {
	mr, _, err := g.client.MergeRequests.GetMergeRequest(int(projectID), int(mrIID), nil, gitlabapi.WithContext(ctx))
	if err != nil {
		return scm.MergeRequest{}, fmt.Errorf("gitlab: get merge request %d!%d: %w", projectID, mrIID, err)
	}
	return toMergeRequest(mr), nil
}

// GetMergeRequestDiffs implements scm.MergeRequestReviewer.
func (g *GitLab) GetMergeRequestDiffs(ctx context.Context, projectID int64, mrIID int64) ([]scm.Diff, error) {
	opt := &gitlabapi.ListMergeRequestDiffsOptions{
		ListOptions: gitlabapi.ListOptions{PerPage: 100},
	}
	var out []scm.Diff
	for {
		diffs, resp, err := g.client.MergeRequests.ListMergeRequestDiffs(int(projectID), int(mrIID), opt, gitlabapi.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("gitlab: list diffs %d!%d: %w", projectID, mrIID, err)
		}
		for _, d := range diffs {
			out = append(out, scm.Diff{
				OldPath:     d.OldPath,
				NewPath:     d.NewPath,
				Diff:        d.Diff,
				NewFile:     d.NewFile,
				RenamedFile: d.RenamedFile,
				DeletedFile: d.DeletedFile,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

// ListMergeRequestDiscussions implements scm.MergeRequestReviewer.
func (g *GitLab) ListMergeRequestDiscussions(ctx context.Context, projectID int64, mrIID int64) ([]scm.Discussion, error) {
	opt := &gitlabapi.ListMergeRequestDiscussionsOptions{PerPage: 100}
	var out []scm.Discussion
	for {
		discussions, resp, err := g.client.Discussions.ListMergeRequestDiscussions(int(projectID), int(mrIID), opt, gitlabapi.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("gitlab: list discussions %d!%d: %w", projectID, mrIID, err)
		}
		for _, d := range discussions {
			disc := scm.Discussion{ID: d.ID}
			for _, n := range d.Notes {
				disc.Notes = append(disc.Notes, scm.Note{
					ID:       int64(n.ID),
					Body:     n.Body,
					AuthorID: int64(n.Author.ID),
				})
			}
			out = append(out, disc)
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

// CreateMergeRequestDiscussion implements scm.MergeRequestReviewer.
func (g *GitLab) CreateMergeRequestDiscussion(ctx context.Context, projectID int64, mrIID int64, body string, position *scm.Position) error {
	opt := &gitlabapi.CreateMergeRequestDiscussionOptions{
		Body: gitlabapi.Ptr(body),
	}
	if position != nil {
		opt.Position = &gitlabapi.PositionOptions{
			PositionType: gitlabapi.Ptr("text"),
			BaseSHA:      gitlabapi.Ptr(position.BaseSha),
			HeadSHA:      gitlabapi.Ptr(position.HeadSha),
			StartSHA:     gitlabapi.Ptr(position.StartSha),
			OldPath:      gitlabapi.Ptr(position.OldPath),
			NewPath:      gitlabapi.Ptr(position.NewPath),
			NewLine:      gitlabapi.Ptr(position.NewLine),
		}
	}
	_, _, err := g.client.Discussions.CreateMergeRequestDiscussion(int(projectID), int(mrIID), opt, gitlabapi.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: create discussion %d!%d: %w", projectID, mrIID, err)
	}
	return err
}

// pid resolves a numeric id or a path with namespace into the interface the
// client accepts.
func pid(pathOrID string) any {
	if id, err := strconv.Atoi(pathOrID); err == nil {
		return id
	}
	return pathOrID
}

func toProject(p *gitlabapi.Project) scm.Project {
	return scm.Project{
		ID:                int64(p.ID),
		Name:              p.Name,
		PathWithNamespace: p.PathWithNamespace,
		Description:       p.Description,
		DefaultBranch:     p.DefaultBranch,
		Archived:          p.Archived,
	}
}

func toMergeRequest(mr *gitlabapi.MergeRequest) scm.MergeRequest {
	out := scm.MergeRequest{
		ID:           int64(mr.ID),
		IID:          int64(mr.IID),
		ProjectID:    int64(mr.ProjectID),
		Title:        mr.Title,
		Description:  mr.Description,
		WebURL:       mr.WebURL,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
	}
	if mr.DiffRefs.BaseSha != "" || mr.DiffRefs.HeadSha != "" {
		out.DiffRefs = &scm.DiffRefs{
			BaseSha:  mr.DiffRefs.BaseSha,
			HeadSha:  mr.DiffRefs.HeadSha,
			StartSha: mr.DiffRefs.StartSha,
		}
	}
	return out
}
