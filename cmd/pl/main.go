package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"perfline/internal/app"
	"perfline/internal/config"
	"perfline/internal/db"
	"perfline/internal/engine"
	"perfline/internal/logging"
	"perfline/internal/migrate"
	"perfline/internal/repo"
	"perfline/internal/server"
	"perfline/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Perfline CLI",
	Long: `Perfline turns task records into employee performance metrics you can trust.
Core concepts:
- Workspace: the .perfline directory holding the database; the org config lives in the DB and can be imported from perfline.yml.
- Org: the company whose users and tasks are analysed. Users are admins, managers or employees.
- Dataset: tasks and users imported from JSON; re-importing a record with the same id replaces it.
- Metrics: completion, on-time and productivity scores over a date range, with a letter grade.
- Integrity: data-quality checks that decide whether the numbers are ready to act on.
- Audit log: every dashboard computation is recorded; view with 'pl audit tail'.
- Event log: diary of changes, view with 'pl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initConfig loads <workspace>/.env before binding PERFLINE_* variables. Variables already
// set in the environment win over the file.
func initConfig() {
	workspace, _ := rootCmd.PersistentFlags().GetString("workspace")
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("PERFLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", app.DefaultActor, "acting user id")
	rootCmd.PersistentFlags().String("org", "", "org id (overrides perfline.yml and PERFLINE_ORG)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "org", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(trendCmd())
	rootCmd.AddCommand(breakdownCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(managersCmd())
	rootCmd.AddCommand(integrityCmd())
	rootCmd.AddCommand(gradeCmd())
	rootCmd.AddCommand(presetsCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an org and make the acting user its admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID := strings.TrimSpace(viper.GetString("org"))
			if orgID == "" {
				return fmt.Errorf("--org required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				if cfg == nil || cfg.Org.ID != orgID {
					cfg = config.Default(orgID)
				}
				if name != "" {
					cfg.Org.Name = name
				}
				e := engine.New(r.DB, cfg)
				o, err := e.Bootstrap(ctx, cfg.Org.Name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				workspace := viper.GetString("workspace")
				if err := setEnvValue(filepath.Join(workspace, ".env"), "PERFLINE_ORG", orgID); err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func importCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tasks and users from a JSON dataset",
		Long:  `The file holds {"tasks": [...], "users": [...]} or a bare array of tasks. Records are upserted by id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(filePath)
			if err != nil {
				return err
			}
			defer f.Close()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ImportJSON(ctx, viper.GetString("actor-id"), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("imported %d tasks and %d users\n", res.Tasks, res.Users)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON dataset")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func validateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a JSON dataset without importing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			e := engine.New(nil, config.Default("validate"))
			res := e.ValidateDocument(data)
			if viper.GetBool("json") {
				return printJSON(res)
			}
			printIntegrity(res)
			if !res.Validation.IsValid {
				return errors.New("dataset is not valid")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON dataset")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Browse imported tasks"}
	task.AddCommand(taskListCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var subject, status, project string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q := engine.Query{ActorID: viper.GetString("actor-id"), Subject: subject}
				tasks, err := e.Tasks(ctx, q, status, project, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "Title", "Status", "Assignee", "Project", "Due", "Completed")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.AssignedTo, t.Project, t.DueDate, t.CompletedDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "only this user's tasks")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&project, "project", "", "project filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Browse imported users"}
	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Users(ctx, engine.Query{ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Name", "Role", "Department", "Manager")
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.Department, u.ManagerID})
				}
				tw.Render()
				return nil
			})
		},
	})
	return user
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the metrics audit log",
		Long:  "Every dashboard computation stores its metrics, data quality and decision readiness so a decision can be traced to the numbers behind it.",
	}
	var n int
	var userID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.AuditLog(ctx, viper.GetString("actor-id"), userID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := newTable("ID", "When", "User", "Ready", "Confidence", "Metrics Tasks", "Validated Tasks")
				for _, r := range records {
					tw.AppendRow(table.Row{r.ID, r.TS, r.UserID, r.Ready, r.Confidence, r.MetricsTasks, r.ValidatedTasks})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of records")
	tail.Flags().StringVar(&userID, "user", "", "only records produced by this user")
	audit.AddCommand(tail)
	return audit
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.EventLog(ctx, viper.GetString("actor-id"), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "When", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, strings.TrimSuffix(evt.EntityKind+"/"+evt.EntityID, "/"), evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func settingsCmd() *cobra.Command {
	s := &cobra.Command{Use: "settings", Short: "Show or change your dashboard settings"}
	s.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.GetSettings(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	})
	var preset, theme string
	var days int
	var notifications bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Change settings; unset flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				cur, err := e.GetSettings(ctx, actor)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("preset") {
					cur.DefaultPreset = preset
				}
				if cmd.Flags().Changed("trend-days") {
					cur.TrendDays = days
				}
				if cmd.Flags().Changed("theme") {
					cur.Theme = theme
				}
				if cmd.Flags().Changed("notifications") {
					cur.Notifications = notifications
				}
				out, err := e.PutSettings(ctx, actor, cur)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	set.Flags().StringVar(&preset, "preset", "", "default date range preset")
	set.Flags().IntVar(&days, "trend-days", 0, "trend window in days")
	set.Flags().StringVar(&theme, "theme", "", "light, dark or system")
	set.Flags().BoolVar(&notifications, "notifications", true, "enable notifications")
	s.AddCommand(set)
	return s
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	var name, subject string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a key; the plaintext is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issued, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), subject, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issued)
				}
				fmt.Printf("id:  %s\nkey: %s\n", issued.ID, issued.Key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	create.Flags().StringVar(&subject, "for", "", "user the key authenticates as (default: acting user)")
	k.AddCommand(create)

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, viper.GetString("actor-id"), owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "User", "Created")
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, key.ActorID, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&owner, "for", "", "only keys of this user")
	k.AddCommand(list)

	k.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeAPIKey(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	})
	return k
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and replace the org config",
		Long:  "Config is stored in the DB: org identity, analytics defaults, role permissions, webhooks and logging. Import from perfline.yml to change it.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config())
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config().Validate()
			})
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	var filePath string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.UpdateConfig(ctx, viper.GetString("actor-id"), next); err != nil {
					return err
				}
				return printJSONOrTable(e.Config())
			})
		},
	}
	imp.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = imp.MarkFlagRequired("file")
	cfg.AddCommand(imp)
	cfg.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID := viper.GetString("org")
			if orgID == "" {
				orgID = "my-org"
			}
			fmt.Print(config.GenerateDefault(orgID))
			return nil
		},
	})
	return cfg
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user's role and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := e.WhoAmI(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(id)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, actorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			_, cfg, err := app.ResolveOrgAndConfig(ctx, workspace, viper.GetString("org"), viper.GetString("actor-id"), conn)
			if err != nil {
				return err
			}
			logger := logging.FromConfig(cfg, viper.GetString("log-level"), viper.GetString("log-format"))
			e := engine.New(conn, cfg)
			e.Logger = logger
			e.Telemetry = telemetry.New()
			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				DevLogin:         devLogin,
				AllowActorHeader: actorHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PERFLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(ctx, e)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving perfline api", "addr", addr, "base_path", basePath, "org", cfg.Org.ID,
				"openapi", basePath+"/openapi.json", "docs", "/docs", "metrics", "/metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (local use only)")
	cmd.Flags().BoolVar(&actorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (or PERFLINE_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	_, cfg, err := app.ResolveOrgAndConfig(ctx, workspace, viper.GetString("org"), viper.GetString("actor-id"), conn)
	if err != nil {
		return err
	}
	level := viper.GetString("log-level")
	if level == "" {
		level = "warn"
	}
	e := engine.New(conn, cfg)
	e.Logger = logging.FromConfig(cfg, level, viper.GetString("log-format"))
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
