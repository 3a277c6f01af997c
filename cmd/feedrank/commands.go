package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/rushteam/feedrank/config"
	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/engine"
	"github.com/rushteam/feedrank/learning"
	"github.com/rushteam/feedrank/pkg/logging"
	"github.com/rushteam/feedrank/pkg/metrics"
	"github.com/rushteam/feedrank/profile"
	"github.com/rushteam/feedrank/recall"
	"github.com/rushteam/feedrank/store"
	"github.com/rushteam/feedrank/vector"
)

type rootOptions struct {
	configPath string
	fixture    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "feedrank",
		Short:         "Personalized feed ranking engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $"+config.PathEnvVar+")")
	root.PersistentFlags().StringVar(&opts.fixture, "fixture", "", "YAML fixture applied to the store before the command runs")

	root.AddCommand(
		newRecommendCmd(opts),
		newLearnCmd(opts),
		newEmbeddingCmd(opts),
		newSeedCmd(opts),
		newConsumeCmd(opts),
		newStatsCmd(opts),
		newServeMetricsCmd(opts),
	)
	return root
}

// withApp 加载配置、装配依赖，执行 fn 后关闭存储。
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, opts.fixture)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// --- recommend ---

func newRecommendCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		kind  string
	)
	cmd := &cobra.Command{
		Use:   "recommend <user>",
		Short: "Rank candidate content for a user",
		Long: `Rank candidate content for a user.

Examples:
  feedrank recommend u1 --fixture ./testdata/demo.yaml
  feedrank recommend u1 --limit 10 --kind videos`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				recs, err := a.engine.Recommend(ctx, engine.Request{UserID: args[0], Limit: limit, Kind: kind})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"userId":          args[0],
					"recommendations": recs,
					"count":           len(recs),
					"modelVersion":    core.ModelVersion,
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of results (default from ranking.default_limit)")
	cmd.Flags().StringVarP(&kind, "kind", "k", "all", "content kind: all, posts or videos")
	return cmd
}

// --- learn ---

func newLearnCmd(opts *rootOptions) *cobra.Command {
	var (
		watchTime float64
		publish   bool
	)
	cmd := &cobra.Command{
		Use:   "learn <user> <content> <action>",
		Short: "Apply an interaction to the user's preference vector",
		Long: `Apply an interaction to the user's preference vector.

action is a name (view, like, share, comment, save, skip, unlike, unsave)
or its numeric code. With --publish the event is written to Kafka instead
and applied by a running "feedrank consume".`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := core.ParseAction(args[2])
			if err != nil {
				return err
			}
			ev := core.InteractionEvent{
				UserID:    args[0],
				ContentID: args[1],
				Action:    action,
				WatchTime: watchTime,
				Timestamp: time.Now(),
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if publish {
					return publishEvent(ctx, a.cfg.Kafka, ev, cmd)
				}
				rec := a.findRecord(ctx, ev.ContentID)
				target := a.profiles.GetContentVector(ctx, ev.ContentID, rec)
				before := vector.Similarity(a.profiles.GetUserVector(ctx, ev.UserID), target)

				updated, err := a.loop.Apply(ctx, ev, rec)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"userId":            ev.UserID,
					"contentId":         ev.ContentID,
					"action":            action.String(),
					"weight":            action.Weight(),
					"similarityBefore":  before,
					"similarityAfter":   vector.Similarity(updated, target),
					"embeddingPreview":  preview(updated),
					"embeddingChecksum": profile.Fingerprint(updated),
				})
			})
		},
	}
	cmd.Flags().Float64Var(&watchTime, "watch-time", 0, "watch time in seconds")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the event to Kafka instead of applying it")
	return cmd
}

func publishEvent(ctx context.Context, cfg learning.KafkaConfig, ev core.InteractionEvent, cmd *cobra.Command) error {
	pub, err := learning.NewKafkaPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()
	if err := pub.Publish(ctx, ev); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"status": "queued",
		"topic":  cfg.Topic,
		"event":  ev,
	})
}

// previewLen 是输出中展示的向量前缀长度。
const previewLen = 10

func preview(v core.Vector) core.Vector {
	if len(v) > previewLen {
		return v[:previewLen]
	}
	return v
}

// --- embedding ---

func newEmbeddingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "embedding <user>",
		Short: "Show a preview of the user's preference vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				v := a.profiles.GetUserVector(ctx, args[0])
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"userId":           args[0],
					"embeddingSize":    len(v),
					"embeddingPreview": preview(v),
					"checksum":         profile.Fingerprint(v),
					"norm":             vector.Norm(v),
				})
			})
		},
	}
}

// --- seed ---

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Write fixture posts, videos, follows and behavior into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logging.Init(cfg.Log)
			ext, err := store.NewExternalStore(cfg.Store)
			if err != nil {
				return err
			}
			defer ext.Close()

			stats, err := store.LoadFixture(cmd.Context(), ext, args[0], cfg.Store.Tables)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"store":  ext.Name(),
				"loaded": stats,
			})
		},
	}
}

// --- consume ---

func newConsumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Consume interaction events from Kafka and apply them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				worker := learning.NewWorker(a.loop, a.cfg.Learning.Workers, a.cfg.Learning.QueueSize)
				consumer, err := learning.NewKafkaConsumer(a.cfg.Kafka, worker)
				if err != nil {
					worker.Close()
					return err
				}
				runErr := consumer.Run(ctx)
				if err := consumer.Close(); err != nil {
					logging.Warn().Err(err).Msg("close kafka reader")
				}
				worker.Close()
				logging.Info().
					Int64("processed", worker.Processed()).
					Int64("failed", worker.Failed()).
					Msg("consumer drained")
				return runErr
			})
		},
	}
}

// --- stats ---

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		user string
		days int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics, or a user's behavior summary with --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out := map[string]any{
					"engine": a.engine.Stats(),
					"cache":  a.cache.Stats(),
				}
				if user != "" {
					if days <= 0 {
						days = a.cfg.Catalog.BehaviorDays
					}
					behavior := a.catalog.Behavior(ctx, user, days)
					out["user"] = map[string]any{
						"userId":      user,
						"following":   len(a.catalog.Following(ctx, user)),
						"days":        days,
						"preferences": recall.ComputePreferences(behavior),
					}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "summarize this user's behavior history")
	cmd.Flags().IntVar(&days, "days", 0, "behavior window in days (default catalog.behavior_days)")
	return cmd
}

// --- serve-metrics ---

func newServeMetricsCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve /metrics and /healthz until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				srv := &http.Server{
					Addr:              addr,
					Handler:           newOpsRouter(a.engine),
					ReadHeaderTimeout: 5 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() {
					logging.Info().Str("addr", addr).Msg("metrics listening")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()

				select {
				case <-ctx.Done():
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("metrics server: %w", err)
					}
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9100", "listen address")
	return cmd
}

// newOpsRouter 只暴露运维端点，不包含推荐 API。
func newOpsRouter(eng *engine.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = printJSON(w, map[string]any{
			"status": "healthy",
			"stats":  eng.Stats(),
		})
	})
	return r
}
