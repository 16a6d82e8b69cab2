package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/garyjia/bill-workflow/internal/application/permission"
	"github.com/garyjia/bill-workflow/internal/application/workflow"
	"github.com/garyjia/bill-workflow/internal/config"
	"github.com/garyjia/bill-workflow/internal/container"
	"github.com/garyjia/bill-workflow/pkg/utils"
)

// withContainer opens the store without background workers and runs fn
func withContainer(ctx context.Context, fn func(c *container.Container) error) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}

	logger := utils.NewCLILogger(viper.GetBool("verbose"))
	defer logger.Sync()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx, false); err != nil {
		return err
	}
	defer c.Close()

	return fn(c)
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <billId>",
		Short: "Show a bill's workflow history and time in each state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				h, err := c.Services().Orchestrator.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(os.Stdout, h)
				}
				renderHistory(os.Stdout, h)
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	var stuckAfter time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show bill counts, time per state and stuck bills",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				stats, err := c.Services().Stats.Stats(cmd.Context(), stuckAfter, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(os.Stdout, stats)
				}
				renderStats(os.Stdout, stats)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&stuckAfter, "stuck-after", 72*time.Hour, "idle time before a bill counts as stuck")
	return cmd
}

type transitionFlags struct {
	fromID, fromName string
	fromRoles        []string
	toID, toName     string
	toRoles          []string
	action           string
	remarks          string
	target           string
}

func (f transitionFlags) request(billIDs []string) workflow.BatchRequest {
	return workflow.BatchRequest{
		FromUser:    workflow.UserInput{ID: f.fromID, Name: f.fromName, Roles: f.fromRoles},
		ToUser:      workflow.UserInput{ID: f.toID, Name: f.toName, Roles: f.toRoles},
		BillIDs:     billIDs,
		Action:      f.action,
		Remarks:     utils.SanitizeRemarks(f.remarks, 2000),
		TargetState: f.target,
	}
}

func transitionCmd() *cobra.Command {
	var f transitionFlags
	cmd := &cobra.Command{
		Use:   "transition <billId>...",
		Short: "Move one or more bills forward, backward, to Rejected, or out of Rejected",
		Example: `  billctl transition --from-id u1 --from-roles site_officer --to-id u2 --to-roles pimo_mumbai --action forward B1 B2
  billctl transition --from-id u3 --from-roles admin --action recover --target QS_Mumbai B7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := f.request(args)
			if err := req.Validate(); err != nil {
				return err
			}
			return withContainer(cmd.Context(), func(c *container.Container) error {
				if len(req.FromUser.Roles) > 0 {
					if err := c.Gate().Participates(req.FromUser.Roles); err != nil {
						return err
					}
				}
				res, err := c.Services().Orchestrator.BatchTransition(cmd.Context(), req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(os.Stdout, res); err != nil {
						return err
					}
				} else {
					renderBatch(os.Stdout, res)
				}
				if res.FailedCount > 0 {
					return fmt.Errorf("%d of %d bills failed", res.FailedCount, len(args))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.fromID, "from-id", "", "acting user id")
	cmd.Flags().StringVar(&f.fromName, "from-name", "", "acting user name")
	cmd.Flags().StringSliceVar(&f.fromRoles, "from-roles", nil, "acting user roles (resolved from the user directory when empty)")
	cmd.Flags().StringVar(&f.toID, "to-id", "", "receiving user id")
	cmd.Flags().StringVar(&f.toName, "to-name", "", "receiving user name")
	cmd.Flags().StringSliceVar(&f.toRoles, "to-roles", nil, "receiving user roles")
	cmd.Flags().StringVar(&f.action, "action", "", "forward, backward, reject or recover")
	cmd.Flags().StringVar(&f.remarks, "remarks", "", "remarks recorded on the history entry")
	cmd.Flags().StringVar(&f.target, "target", "", "target state for recover")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func policyCmd() *cobra.Command {
	p := &cobra.Command{Use: "policy", Short: "Inspect the permission policy"}
	p.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective permission policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}
			policy, err := permission.LoadPolicy(cfg.Workflow.PolicyPath)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(os.Stdout, policy)
			}
			renderPolicy(os.Stdout, policy)
			return nil
		},
	})
	return p
}
