package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"signupsheet/internal/app"
	"signupsheet/internal/config"
	"signupsheet/internal/db"
	"signupsheet/internal/domain"
	"signupsheet/internal/engine"
	"signupsheet/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "signup",
	Short: "Topic sign-up sheet",
	Long: `signup runs topic sign-up sheets for team assignments.
- Assignment: owns topics, teams and deadlines; may enable bidding or staggered deadlines.
- Topic: a subject with a capacity; teams past capacity wait in an ordered waitlist.
- Sign-up: a team on a topic, confirmed or waitlisted. A team holds at most one confirmed topic.
- Withdraw: frees a slot for the head of the waitlist, unless the team has submitted work or the drop deadline passed.
- Bidding: teams rank topics; 'signup resolve' recomputes placements from the bids.
- Event log: every change is recorded, view with 'signup log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		envPath := filepath.Join(workspace, ".env")
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envPath, err)
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
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SIGNUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("role", string(domain.RoleInstructor), "actor role (student|instructor)")
	flags.String("log-level", "", "log level (overrides config)")
	flags.String("lock-backend", "", "lock backend local|redis (overrides config)")
	flags.String("redis-addr", "", "redis address for the redis lock backend")
	for _, name := range []string{"workspace", "json", "actor-id", "role", "log-level", "lock-backend", "redis-addr"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(topicCmd())
	rootCmd.AddCommand(deadlineCmd())
	rootCmd.AddCommand(signUpCmd())
	rootCmd.AddCommand(withdrawCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(switchCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create signup.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			envPath := filepath.Join(workspace, ".env")
			env, err := godotenv.Read(envPath)
			if err != nil {
				env = map[string]string{}
			}
			env["SIGNUP_ACTOR_ID"] = viper.GetString("actor-id")
			env["SIGNUP_ROLE"] = viper.GetString("role")
			if err := godotenv.Write(env, envPath); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("Initialized workspace %s (config %s, database %s)\n", workspace, path, db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing signup.yml")
	return cmd
}

func assignmentCmd() *cobra.Command {
	c := &cobra.Command{Use: "assignment", Short: "Manage assignments"}
	c.AddCommand(assignmentCreateCmd())
	c.AddCommand(assignmentUpdateCmd())
	c.AddCommand(assignmentShowCmd())
	return c
}

func assignmentCreateCmd() *cobra.Command {
	var opts engine.AssignmentOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAssignment(ctx, currentActor(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "assignment id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "assignment name")
	cmd.Flags().BoolVar(&opts.IsMicrotask, "microtask", false, "topics are microtasks")
	cmd.Flags().BoolVar(&opts.HasStaggeredDeadlines, "staggered", false, "topics may carry their own deadlines")
	cmd.Flags().BoolVar(&opts.IsBiddingEnabled, "bidding", false, "place teams by bidding")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func assignmentUpdateCmd() *cobra.Command {
	var name string
	var microtask, staggered, bidding bool
	cmd := &cobra.Command{
		Use:   "update <assignment-id>",
		Short: "Change assignment flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.AssignmentPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("microtask") {
				patch.IsMicrotask = &microtask
			}
			if cmd.Flags().Changed("staggered") {
				patch.HasStaggeredDeadlines = &staggered
			}
			if cmd.Flags().Changed("bidding") {
				patch.IsBiddingEnabled = &bidding
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateAssignment(ctx, currentActor(), args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "assignment name")
	cmd.Flags().BoolVar(&microtask, "microtask", false, "topics are microtasks")
	cmd.Flags().BoolVar(&staggered, "staggered", false, "topics may carry their own deadlines")
	cmd.Flags().BoolVar(&bidding, "bidding", false, "place teams by bidding")
	return cmd
}

func assignmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <assignment-id>",
		Short: "Show an assignment and its deadlines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAssignment(ctx, args[0])
				if err != nil {
					return err
				}
				deadlines, err := e.ListDeadlines(ctx, engine.DeadlineTarget{AssignmentID: a.ID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"assignment": a, "deadlines": deadlines})
				}
				fmt.Printf("%s  %s  (instructor %s)\n", a.ID, a.Name, a.InstructorID)
				fmt.Printf("microtask=%t staggered=%t bidding=%t\n", a.IsMicrotask, a.HasStaggeredDeadlines, a.IsBiddingEnabled)
				renderDeadlines(deadlines, time.Now())
				return nil
			})
		},
	}
}

func teamCmd() *cobra.Command {
	c := &cobra.Command{Use: "team", Short: "Manage teams"}
	c.AddCommand(teamCreateCmd())
	c.AddCommand(teamShowCmd())
	c.AddCommand(teamSubmitCmd())
	return c
}

func teamCreateCmd() *cobra.Command {
	var opts engine.TeamOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTeam(ctx, currentActor(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "team id (generated when empty)")
	cmd.Flags().StringVar(&opts.AssignmentID, "assignment", "", "assignment id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "team name")
	cmd.Flags().StringSliceVar(&opts.Members, "member", nil, "member user id (repeatable)")
	_ = cmd.MarkFlagRequired("assignment")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func teamShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <team-id>",
		Short: "Show a team, its sign-ups and bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTeam(ctx, args[0])
				if err != nil {
					return err
				}
				signUps, err := e.TeamSignUps(ctx, t.ID)
				if err != nil {
					return err
				}
				bids, err := e.TeamBids(ctx, t.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"team": t, "signups": signUps, "bids": bids})
				}
				fmt.Printf("%s  %s  members: %s\n", t.ID, t.Name, strings.Join(t.Members, ", "))
				renderSignUps(signUps)
				if len(bids) > 0 {
					renderBids(bids)
				}
				return nil
			})
		},
	}
}

func teamSubmitCmd() *cobra.Command {
	var kind, ref string
	cmd := &cobra.Command{
		Use:   "submit <team-id>",
		Short: "Record a file or link submitted by a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddSubmission(ctx, currentActor(), args[0], domain.SubmissionKind(kind), ref)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.SubmissionLink), "file|link")
	cmd.Flags().StringVar(&ref, "ref", "", "file name or URL")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func deadlineCmd() *cobra.Command {
	c := &cobra.Command{Use: "deadline", Short: "Manage deadlines"}
	c.AddCommand(deadlineSetCmd())
	c.AddCommand(deadlineListCmd())
	return c
}

func deadlineSetCmd() *cobra.Command {
	var target engine.DeadlineTarget
	var typ, due string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set an assignment-wide or topic deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			dueAt, err := parseDue(due)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, created, err := e.SetDeadline(ctx, currentActor(), target, domain.DeadlineType(typ), dueAt)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deadline": d, "created": created})
				}
				verb := "Updated"
				if created {
					verb = "Created"
				}
				fmt.Printf("%s %s deadline %s\n", verb, d.Type, d.DueAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target.AssignmentID, "assignment", "", "assignment id")
	cmd.Flags().StringVar(&target.TopicID, "topic", "", "topic id (assignment-wide when empty)")
	cmd.Flags().StringVar(&typ, "type", string(domain.DeadlineSignup), "submission|review|signup|drop|team_formation")
	cmd.Flags().StringVar(&due, "due", "", "due time, RFC3339 or YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func deadlineListCmd() *cobra.Command {
	var target engine.DeadlineTarget
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deadlines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDeadlines(ctx, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderDeadlines(items, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target.AssignmentID, "assignment", "", "assignment id")
	cmd.Flags().StringVar(&target.TopicID, "topic", "", "include this topic's deadlines")
	return cmd
}

func signUpCmd() *cobra.Command {
	var teamID, topicID string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Sign a team up for a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SignUp(ctx, currentActor(), teamID, topicID, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				if s.IsWaitlisted {
					fmt.Printf("Team %s is waitlisted on %s (position %d)\n", s.TeamID, s.TopicID, s.QueuePos)
				} else {
					fmt.Printf("Team %s is confirmed on %s\n", s.TeamID, s.TopicID)
				}
				return nil
			})
		},
	}
	teamTopicFlags(cmd, &teamID, &topicID)
	return cmd
}

func withdrawCmd() *cobra.Command {
	var teamID, topicID string
	var asInstructor bool
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw a team from a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				withdraw := e.Withdraw
				if asInstructor {
					withdraw = e.InstructorWithdraw
				}
				res, err := withdraw(ctx, currentActor(), teamID, topicID, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Team %s withdrawn from %s\n", res.Withdrawn.TeamID, res.Withdrawn.TopicID)
				for _, p := range res.Promoted {
					fmt.Printf("Promoted team %s from the waitlist\n", p.TeamID)
				}
				return nil
			})
		},
	}
	teamTopicFlags(cmd, &teamID, &topicID)
	cmd.Flags().BoolVar(&asInstructor, "instructor", false, "remove the team on its behalf as instructor")
	return cmd
}

func assignCmd() *cobra.Command {
	var teamID, topicID string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Place a team on a topic as instructor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.InstructorAssign(ctx, currentActor(), teamID, topicID, time.Now())
				if err != nil {
					return err
				}
				return printPlacement(res)
			})
		},
	}
	teamTopicFlags(cmd, &teamID, &topicID)
	return cmd
}

func switchCmd() *cobra.Command {
	var teamID, topicID string
	cmd := &cobra.Command{
		Use:   "switch",
		Short: "Move a team onto the approved topic it suggested",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SwitchToSuggestedTopic(ctx, currentActor(), teamID, topicID, time.Now())
				if err != nil {
					return err
				}
				return printPlacement(res)
			})
		},
	}
	teamTopicFlags(cmd, &teamID, &topicID)
	return cmd
}

func bidCmd() *cobra.Command {
	c := &cobra.Command{Use: "bid", Short: "Manage topic bids"}
	c.AddCommand(bidSetCmd())
	c.AddCommand(bidRemoveCmd())
	return c
}

func bidSetCmd() *cobra.Command {
	var teamID, topicID string
	var priority int
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a team's priority for a topic (1 is most wanted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.SetPriority(ctx, currentActor(), teamID, topicID, priority)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	teamTopicFlags(cmd, &teamID, &topicID)
	cmd.Flags().IntVar(&priority, "priority", 0, "priority, 1 or more")
	_ = cmd.MarkFlagRequired("priority")
	return cmd
}

func bidRemoveCmd() *cobra.Command {
	var teamID, topicID string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a team's bid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RemoveBid(ctx, currentActor(), teamID, topicID); err != nil {
					return err
				}
				fmt.Printf("Removed bid of %s on %s\n", teamID, topicID)
				return nil
			})
		},
	}
	teamTopicFlags(cmd, &teamID, &topicID)
	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <assignment-id>",
		Short: "Recompute sign-ups from bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Resolve(ctx, currentActor(), args[0], time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderResolution(res)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Event log"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var q engine.EventQuery
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.ListEvents(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				renderEvents(evts)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&q.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&q.AssignmentID, "assignment", "", "assignment filter")
	cmd.Flags().StringVar(&q.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&q.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&q.EntityID, "entity-id", "", "entity id filter")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := server.SignToken(authConfig(cfg), currentActor(), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the event relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			authCfg := authConfig(cfg)
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("auth.jwt_secret (or SIGNUP_JWT_SECRET) is required for bearer auth")
			}
			a, err := app.Open(cmd.Context(), viper.GetString("workspace"), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg.Logger = a.Logger
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: cfg.Server.BasePath,
				Auth:     authCfg,
				Logger:   a.Logger,
			})
			if err != nil {
				return err
			}
			relay, err := a.Relay()
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			g.Go(func() error {
				a.Logger.Info(ctx, "serving signup API", zap.String("addr", cfg.Server.Addr), zap.String("base_path", cfg.Server.BasePath))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if relay != nil {
				g.Go(func() error {
					a.Logger.Info(ctx, "event relay started", zap.String("topic", cfg.Kafka.Topic), zap.Strings("brokers", cfg.Kafka.Brokers))
					return relay.Run(ctx)
				})
			}
			fmt.Printf("Serving signup API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath, cfg.Server.BasePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

func teamTopicFlags(cmd *cobra.Command, teamID, topicID *string) {
	cmd.Flags().StringVar(teamID, "team", "", "team id")
	cmd.Flags().StringVar(topicID, "topic", "", "topic id")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("topic")
}

func currentActor() domain.Actor {
	return domain.Actor{
		ID:   viper.GetString("actor-id"),
		Role: domain.Role(strings.ToLower(viper.GetString("role"))),
	}
}

// loadConfig reads signup.yml and applies flag and SIGNUP_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	return cfg, cfg.Validate()
}

func applyOverrides(cfg *config.Config) {
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("lock-backend"); v != "" {
		cfg.Lock.Backend = v
	}
	if v := viper.GetString("redis-addr"); v != "" {
		cfg.Lock.Redis.Addr = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("kafka-brokers"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
}

func authConfig(cfg *config.Config) server.AuthConfig {
	return server.AuthConfig{
		JWTSecret:              cfg.Auth.JWTSecret,
		Issuer:                 cfg.Auth.Issuer,
		AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

// parseDue accepts RFC3339 or a bare date, read as the end of that day in UTC.
func parseDue(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.Add(24*time.Hour - time.Second), nil
	}
	return time.Time{}, fmt.Errorf("invalid due time %q: want RFC3339 or YYYY-MM-DD", s)
}
