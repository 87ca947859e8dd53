package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"perfline/internal/engine"
	"perfline/internal/metrics"
)

// rangeFlags are shared by every command that reads metrics over a date range.
type rangeFlags struct {
	subject string
	preset  string
	start   string
	end     string
}

func (f *rangeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.subject, "subject", "", "restrict to one user")
	cmd.Flags().StringVar(&f.preset, "preset", "", "named range (today, last7Days, thisMonth, ...; all for no bound)")
	cmd.Flags().StringVar(&f.start, "start", "", "range start (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&f.end, "end", "", "range end (YYYY-MM-DD or RFC3339)")
}

func (f *rangeFlags) query() engine.Query {
	return engine.Query{
		ActorID: viper.GetString("actor-id"),
		Subject: f.subject,
		Preset:  f.preset,
		Start:   f.start,
		End:     f.end,
	}
}

func metricsCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compute the performance dashboard and record it in the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Dashboard(ctx, rf.query())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				m := d.Metrics
				tw := newTable("Metric", "Value")
				tw.AppendRows([]table.Row{
					{"Total tasks", m.TotalTasks},
					{"Completed", m.CompletedTasks},
					{"In progress", m.InProgressTasks},
					{"Not started", m.NotStartedTasks},
					{"Overdue", m.OverdueTasks},
					{"Blocked", m.BlockedTasks},
					{"Completion rate", pct(m.CompletionRate)},
					{"On-time rate", pct(m.OnTimeRate)},
					{"Avg completion (days)", m.AverageCompletionTime},
					{"Productivity", fmt.Sprintf("%d (%s %s)", m.ProductivityScore, d.Grade.Grade, d.Grade.Label)},
					{"Quality", qualityCell(m)},
					{"Workload", m.WorkloadScore},
				})
				tw.Render()
				printReadiness(d.Report.Score, d.Readiness.Ready, d.Readiness.Confidence, d.Readiness.Reason)
				fmt.Printf("audit: %s\n", d.AuditID)
				return nil
			})
		},
	}
	rf.bind(cmd)
	return cmd
}

func trendCmd() *cobra.Command {
	var rf rangeFlags
	var days int
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Daily created, completed and in-progress counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				points, err := e.Trend(ctx, rf.query(), days)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(points)
				}
				tw := newTable("Date", "Created", "Completed", "In progress")
				for _, p := range points {
					tw.AppendRow(table.Row{p.Date, p.Created, p.Completed, p.InProgress})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rf.subject, "subject", "", "restrict to one user")
	cmd.Flags().IntVar(&days, "days", 0, "window size (default from settings)")
	return cmd
}

func breakdownCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:       "breakdown <project|vertical|department>",
		Short:     "Task counts and completion rate grouped by a dimension",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{engine.DimensionProject, engine.DimensionVertical, engine.DimensionDepartment},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				groups, err := e.Breakdown(ctx, rf.query(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				tw := newTable(args[0], "Total", "Completed", "In progress", "Blocked", "Overdue", "Completion")
				for _, g := range groups {
					key := g.Key
					if g.Unassigned {
						key = "(unassigned)"
					}
					tw.AppendRow(table.Row{key, g.Total, g.Completed, g.InProgress, g.Blocked, g.Overdue, pct(g.CompletionRate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	rf.bind(cmd)
	return cmd
}

func teamCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Per-employee metrics, best first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.Team(ctx, rf.query())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable("Employee", "Name", "Tasks", "Completion", "On time", "Productivity", "Grade")
				for _, m := range rows {
					tw.AppendRow(table.Row{m.EmployeeID, m.Name, m.TotalTasks, pct(m.CompletionRate), pct(m.OnTimeRate), m.ProductivityScore, m.Grade.Grade})
				}
				tw.Render()
				return nil
			})
		},
	}
	rf.bind(cmd)
	return cmd
}

func managersCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "managers",
		Short: "Team rollups per manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.Managers(ctx, rf.query())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable("Manager", "Name", "Team", "Tasks", "Completion", "Productivity", "Grade")
				for _, m := range rows {
					tw.AppendRow(table.Row{m.ManagerID, m.Name, m.TeamSize, m.TotalTasks, pct(m.CompletionRate), m.ProductivityScore, m.Grade.Grade})
				}
				tw.Render()
				return nil
			})
		},
	}
	rf.bind(cmd)
	return cmd
}

func integrityCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Data-quality report and decision readiness for the visible data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Integrity(ctx, rf.query())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printIntegrity(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rf.subject, "subject", "", "restrict to one user")
	return cmd
}

func gradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grade <score>",
		Short: "Map a 0-100 score to a letter grade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("score must be a number: %w", err)
			}
			return printJSONOrTable(metrics.GetPerformanceGrade(score))
		},
	}
}

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List named date ranges as of now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				presets := e.Presets()
				if viper.GetBool("json") {
					return printJSON(presets)
				}
				tw := newTable("Preset", "Start", "End")
				for _, p := range presets {
					tw.AppendRow(table.Row{p.Name, p.Start.Format("2006-01-02 15:04"), p.End.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func printIntegrity(res engine.IntegrityResult) {
	r := res.Report
	fmt.Printf("%s (score %d, %s)\n", r.Summary, r.Score, r.Status)
	for _, msg := range r.Errors {
		fmt.Println("  error:  ", msg)
	}
	for _, msg := range r.Warnings {
		fmt.Println("  warning:", msg)
	}
	if len(r.Recommendations) > 0 {
		tw := newTable("Priority", "Category", "Recommendation")
		for _, rec := range r.Recommendations {
			tw.AppendRow(table.Row{rec.Priority, rec.Category, rec.Message})
		}
		tw.Render()
	}
	printReadiness(r.Score, res.Readiness.Ready, res.Readiness.Confidence, res.Readiness.Reason)
	for _, b := range res.Readiness.Blockers {
		fmt.Println("  blocker:", b)
	}
}

func printReadiness(quality int, ready bool, confidence int, reason string) {
	verdict := "NOT READY"
	if ready {
		verdict = "READY"
	}
	fmt.Printf("data quality %d%%, decision readiness: %s (confidence %d%%) %s\n", quality, verdict, confidence, reason)
}

func qualityCell(m metrics.Result) string {
	if !m.HasQualityData {
		return "n/a"
	}
	return fmt.Sprintf("%d (%d rated)", m.QualityScore, m.TasksWithRatings)
}

func pct(v int) string {
	return strconv.Itoa(v) + "%"
}
