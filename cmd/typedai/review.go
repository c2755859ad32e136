package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/typedai/typedai/review"
	"github.com/typedai/typedai/scm/gitlab"
)

func newReviewCmd(a *app) *cobra.Command {
	var (
		project  string
		mrIID    int64
		rulesDir string
	)
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review a merge request against the configured rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var botUserID int64
			if raw := a.cfg.GitLabBotUserID; raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return fmt.Errorf("typedai: invalid GITLAB_BOT_USER_ID %q: %w", raw, err)
				}
				botUserID = id
			}
			lab, err := gitlab.New(gitlab.Options{
				Host:      a.cfg.GitLabHost,
				Token:     a.cfg.GitLabToken,
				Groups:    gitlab.SplitGroups(a.cfg.GitLabGroups),
				BotUserID: botUserID,
				CloneDir:  filepath.Join(a.cfg.SystemDir(), "gitlab"),
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}

			if rulesDir != "" {
				configs, err := review.LoadConfigsFromDir(rulesDir)
				if err != nil {
					return err
				}
				for _, rc := range configs {
					if err := a.reviewConfigs.SaveConfig(ctx, rc); err != nil {
						return err
					}
				}
				a.logger.Info(ctx, "seeded review configs", "dir", rulesDir, "count", len(configs))
			}

			model, err := a.buildModel(ctx)
			if err != nil {
				return err
			}
			engine, err := review.NewEngine(review.EngineOptions{
				Llm:       model,
				Configs:   a.reviewConfigs,
				Cache:     a.reviewCache,
				Scm:       lab,
				Calls:     a.calls,
				BotUserID: lab.BotUserID(),
				Logger:    a.logger,
				Tracer:    a.tracer,
			})
			if err != nil {
				return err
			}

			p, err := lab.GetProject(ctx, project)
			if err != nil {
				return err
			}
			posted, err := engine.ReviewMergeRequest(ctx, p.ID, p.PathWithNamespace, mrIID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted %d comment(s) on %s!%d\n", posted, p.PathWithNamespace, mrIID)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project path with namespace or numeric id")
	cmd.Flags().Int64Var(&mrIID, "mr", 0, "merge request IID")
	cmd.Flags().StringVar(&rulesDir, "rules", "", "directory of YAML review rules to load before reviewing")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("mr")
	return cmd
}
