package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	httpadapter "github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/http"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/persistence"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/bootstrap"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/config"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/usecase"
)

// openFunc builds the engine for a command
type openFunc func(ctx context.Context) (*bootstrap.App, error)

type cli struct {
	open    openFunc
	app     *bootstrap.App
	jsonOut bool
}

func newRootCmd(open openFunc) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:          "zonetrust",
		Short:        "Operate the zone trust kill-switch engine",
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(
		c.reconcileCmd(),
		c.summaryCmd(),
		c.showCmd(),
		c.auditCmd(),
		c.killCmd(),
		c.reviveCmd(),
		c.permanentKillCmd(),
		c.resolveCmd(),
		c.policyCmd(),
		c.tokenCmd(),
		c.migrateCmd(),
	)
	return root
}

func (c *cli) engine(ctx context.Context) (*bootstrap.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	app, err := c.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	c.app = app
	return app, nil
}

func (c *cli) printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func entityArgs(args []string) (domain.EntityKey, error) {
	return domain.NewEntityKey(args[0], args[1])
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass (auto-revive and staleness)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			result, err := app.Reconciler.RunReconciliation(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d updated=%d revivals=%d degraded=%d killed=%d failed=%d duration=%s\n",
				result.Checked, result.Updated, result.Revivals, result.Degraded, result.Killed, result.Failed, result.Duration)
			return nil
		},
	}
}

func (c *cli) summaryCmd() *cobra.Command {
	var (
		region     string
		limit      int
		windowDays int
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print counts per state and recent kills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			opts := domain.SummaryOptions{
				RecentKill: limit,
				Window:     time.Duration(windowDays) * 24 * time.Hour,
			}
			if region != "" {
				opts.RegionID = &region
			}
			summary, err := app.Summary.Summarize(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd.OutOrStdout(), summary)
			}
			return writeSummary(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "restrict to one region")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent kills to list")
	cmd.Flags().IntVar(&windowDays, "window-days", 7, "recent kill window in days")
	return cmd
}

func writeSummary(w io.Writer, s *domain.KillSwitchSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", s.Total)
	for _, state := range []domain.State{domain.StateActive, domain.StateDegraded, domain.StateOffline, domain.StateKilled} {
		fmt.Fprintf(tw, "%s\t%d\n", strings.ToLower(string(state)), s.ByState[state])
	}
	fmt.Fprintf(tw, "pending_revival\t%d\n", s.PendingRevival)
	if len(s.RecentKills) > 0 {
		fmt.Fprintf(tw, "\nkilled (last %d days)\n", s.WindowDays)
		for _, k := range s.RecentKills {
			fmt.Fprintf(tw, "%s/%s\t%s\t%s\n", k.EntityType, k.EntityID, k.Reason, k.KilledAt.Format(time.RFC3339))
		}
	}
	return tw.Flush()
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity-type> <entity-id>",
		Short: "Print one record and its display verdict",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entityArgs(args)
			if err != nil {
				return err
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := app.KillSwitch.GetRecord(cmd.Context(), key)
			if err != nil {
				return err
			}
			return c.printRecord(cmd.OutOrStdout(), rec)
		},
	}
}

func (c *cli) printRecord(w io.Writer, rec *domain.KillSwitchRecord) error {
	if c.jsonOut {
		return c.printJSON(w, httpadapter.RecordView{KillSwitchRecord: rec, Visibility: rec.Visibility()})
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "entity\t%s\n", rec.Key())
	fmt.Fprintf(tw, "region\t%s\n", rec.RegionID)
	fmt.Fprintf(tw, "state\t%s\n", rec.State)
	fmt.Fprintf(tw, "visibility\t%s\n", rec.Visibility())
	if rec.Reason != "" {
		fmt.Fprintf(tw, "reason\t%s\n", rec.Reason)
	}
	if rec.ReviveAfter != nil {
		fmt.Fprintf(tw, "revive_after\t%s\n", rec.ReviveAfter.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "hazards\t%d\n", rec.HazardCount)
	fmt.Fprintf(tw, "anomalies\t%d\n", rec.AnomalyCount)
	fmt.Fprintf(tw, "audit_entries\t%d\n", len(rec.AuditLog))
	return tw.Flush()
}

func (c *cli) auditCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "audit <entity-type> <entity-id>",
		Short: "Export the audit trail of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entityArgs(args)
			if err != nil {
				return err
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			if !verify {
				return app.KillSwitch.ExportAudit(cmd.Context(), key, cmd.OutOrStdout())
			}

			result, err := app.KillSwitch.VerifyAudit(cmd.Context(), key)
			if err != nil {
				return err
			}
			if c.jsonOut {
				if err := c.printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else if result.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %d entries, state %s\n", result.Entries, result.State)
			}
			if !result.Valid {
				return fmt.Errorf("%w: %s", domain.ErrAuditCorrupted, result.Problem)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "replay the log and check it against the record")
	return cmd
}

func parseDetails(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	details := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("detail %q must be key=value", p)
		}
		details[k] = v
	}
	return details, nil
}

func (c *cli) killCmd() *cobra.Command {
	var (
		actor        string
		reason       string
		durationDays int
		details      []string
	)
	cmd := &cobra.Command{
		Use:   "kill <entity-type> <entity-id>",
		Short: "Take an entity offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entityArgs(args)
			if err != nil {
				return err
			}
			parsed, err := parseDetails(details)
			if err != nil {
				return err
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := app.KillSwitch.ManualKill(cmd.Context(), usecase.ManualKillRequest{
				Key:          key,
				Reason:       domain.KillReason(reason),
				Actor:        actor,
				Details:      parsed,
				DurationDays: durationDays,
			})
			if err != nil {
				return err
			}
			return c.printRecord(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "operator performing the action (required)")
	cmd.Flags().StringVar(&reason, "reason", string(domain.ReasonAdminManual), "kill reason")
	cmd.Flags().IntVar(&durationDays, "duration-days", 0, "auto-revive after this many days (0 = manual revive only)")
	cmd.Flags().StringArrayVar(&details, "detail", nil, "key=value detail recorded in the audit entry (repeatable)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (c *cli) reviveCmd() *cobra.Command {
	var actor, note string
	cmd := &cobra.Command{
		Use:   "revive <entity-type> <entity-id>",
		Short: "Return an offline or degraded entity to ACTIVE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entityArgs(args)
			if err != nil {
				return err
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := app.KillSwitch.ManualRevive(cmd.Context(), key, actor, note)
			if err != nil {
				return err
			}
			return c.printRecord(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "operator performing the action (required)")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in the audit entry")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (c *cli) permanentKillCmd() *cobra.Command {
	var actor, note string
	cmd := &cobra.Command{
		Use:   "permanent-kill <entity-type> <entity-id>",
		Short: "Move an entity to the terminal KILLED state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entityArgs(args)
			if err != nil {
				return err
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := app.KillSwitch.PermanentKill(cmd.Context(), key, actor, note)
			if err != nil {
				return err
			}
			return c.printRecord(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "operator performing the action (required)")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in the audit entry")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (c *cli) resolveCmd() *cobra.Command {
	var actor, notes string
	cmd := &cobra.Command{
		Use:   "resolve <report-id>",
		Short: "Mark an anomaly report as reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			report, err := app.KillSwitch.ResolveAnomaly(cmd.Context(), args[0], actor, notes)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s (%s on %s/%s)\n",
				report.ID, report.AnomalyType, report.EntityType, report.EntityID)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "operator resolving the report (required)")
	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (c *cli) policyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective threshold policy as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			policy := app.KillSwitch.Policy()
			if c.jsonOut {
				return c.printJSON(cmd.OutOrStdout(), policy)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(policy); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == domain.SystemActor {
				return domain.ErrSystemActor
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			sec := app.Config.Security
			auth := httpadapter.NewOperatorAuth(sec.JWTSecret, sec.JWTIssuer, app.Clock.Now, app.Logger)
			token, err := auth.IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded as the audit actor (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or revert the SQL migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			if app.DB == nil {
				return fmt.Errorf("migrations need STORE_DRIVER=%s", config.DriverPostgres)
			}

			migrator := persistence.NewMigrator(app.DB, app.Config.Database.MigrationsPath, app.Logger)
			var n int
			switch args[0] {
			case "up":
				n, err = migrator.Up(cmd.Context())
			case "down":
				n, err = migrator.Down(cmd.Context())
			default:
				return fmt.Errorf("unknown migration direction %q", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d migration(s)\n", args[0], n)
			return nil
		},
	}
}
