package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/project-tktt/offer-collector/internal/common/cache"
	"github.com/project-tktt/offer-collector/internal/common/fetcher"
	"github.com/project-tktt/offer-collector/internal/common/llm"
	"github.com/project-tktt/offer-collector/internal/common/structured"
	"github.com/project-tktt/offer-collector/internal/domain"
	"github.com/project-tktt/offer-collector/internal/module"
	"github.com/project-tktt/offer-collector/internal/module/enricher"
	"github.com/project-tktt/offer-collector/internal/module/hellowork"
	"github.com/project-tktt/offer-collector/internal/queue"
)

var (
	collectRole        string
	collectLocation    string
	collectContract    string
	collectTarget      int
	collectOutput      string
	collectPublish     bool
	collectConcurrency int
	collectBackend     string
	collectMaxPages    int
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect and enrich offers for one search",
	Example: `  offer-collector collect --role "data scientist" --location paris --target 50
  offer-collector collect --role comptable --contract CDI --output offers.jsonl --publish`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		applyCollectOverrides(cmd)

		fetchCfg := fetcher.Config{
			UserAgent:      cfg.Crawler.UserAgent,
			AcceptLanguage: cfg.Crawler.AcceptLanguage,
			ProxyURL:       cfg.Crawler.ProxyURL,
			Timeout:        cfg.Crawler.Timeout,
		}
		listFetcher, err := fetcher.New(cfg.Crawler.Backend, fetchCfg)
		if err != nil {
			return err
		}
		detailFetcher := fetcher.WithRateLimit(listFetcher, cfg.Crawler.DetailRPS, cfg.Crawler.DetailBurst)

		model, err := llm.New(ctx, cfg.LLM)
		if err != nil {
			return eris.Wrap(err, "init model")
		}

		// Redis is only needed for the attribute cache and the offer queue
		var rdb *redis.Client
		if cfg.Cache.Enabled || collectPublish {
			rdb, err = newRedisClient(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close()
		}

		retry := structured.DefaultRetryConfig()
		retry.MaxAttempts = cfg.LLM.MaxAttempts
		retry.BaseDelay = cfg.LLM.BaseDelay
		retry.MaxDelay = cfg.LLM.MaxDelay

		opts := []structured.Option{
			structured.WithLogger(zap.L()),
			structured.WithRetry(retry),
		}
		if cfg.Cache.Enabled {
			opts = append(opts, structured.WithCache(
				cache.NewAttributeCache(rdb, cfg.Cache.Prefix, domain.SourceHelloWork, cfg.Cache.TTL),
			))
		}
		extractor := structured.NewExtractor(model, opts...)

		batcher := enricher.NewBatcher(
			detailFetcher,
			hellowork.NewDetailExtractor(hellowork.DefaultSelectors()),
			extractor,
			enricher.Config{Concurrency: cfg.Worker.Concurrency},
			zap.L(),
		)

		var collector module.Collector
		collector, err = hellowork.NewCrawler(listFetcher, batcher, hellowork.Config{
			BaseURL:     cfg.Site.BaseURL,
			SearchPath:  cfg.Site.SearchPath,
			Selectors:   hellowork.DefaultSelectors(),
			MaxPages:    cfg.Crawler.MaxPages,
			BatchSize:   cfg.Crawler.BatchSize,
			BatchDelay:  cfg.Crawler.BatchDelay,
			BatchJitter: cfg.Crawler.BatchJitter,
		}, zap.L())
		if err != nil {
			return eris.Wrap(err, "init crawler")
		}

		zap.L().Info("collector ready",
			zap.String("source", string(collector.Source())),
			zap.String("fetcher", listFetcher.Name()),
			zap.String("model", model.Name()),
			zap.Bool("cache", cfg.Cache.Enabled),
			zap.Int("concurrency", cfg.Worker.Concurrency),
		)

		res := collector.Collect(ctx, module.Request{
			Role:     collectRole,
			Location: collectLocation,
			Contract: collectContract,
			Target:   collectTarget,
			Progress: logProgress(zap.L()),
		})

		out := cmd.OutOrStdout()
		if collectOutput != "" {
			f, err := os.Create(collectOutput)
			if err != nil {
				return eris.Wrapf(err, "create %s", collectOutput)
			}
			defer f.Close()
			out = f
		}
		if err := writeOffers(out, res.Offers); err != nil {
			return err
		}

		if collectPublish && len(res.Offers) > 0 {
			// The run context may already be cancelled; hand off what was collected
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := queue.NewPublisher(rdb, cfg.Redis.Queue).PublishBatch(pubCtx, res.Offers); err != nil {
				return eris.Wrap(err, "publish offers")
			}
			zap.L().Info("offers published", zap.String("queue", cfg.Redis.Queue), zap.Int("count", len(res.Offers)))
		}

		printSummary(cmd.ErrOrStderr(), res)

		if res.Err != nil {
			return eris.Wrapf(res.Err, "collection stopped (%s)", res.Reason)
		}
		return nil
	},
}

// applyCollectOverrides lets explicitly set flags win over file and env configuration
func applyCollectOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Worker.Concurrency = collectConcurrency
	}
	if flags.Changed("backend") {
		cfg.Crawler.Backend = collectBackend
	}
	if flags.Changed("max-pages") {
		cfg.Crawler.MaxPages = collectMaxPages
	}
}

func logProgress(logger *zap.Logger) module.ProgressFunc {
	return func(done, target int) {
		logger.Debug("progress", zap.Int("done", done), zap.Int("target", target))
	}
}

// writeOffers writes one JSON document per line
func writeOffers(w io.Writer, offers []domain.EnrichedOffer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, o := range offers {
		if err := enc.Encode(o); err != nil {
			return eris.Wrapf(err, "write offer %s", o.DetailURL)
		}
	}
	return nil
}

func printSummary(w io.Writer, res module.Result) {
	fmt.Fprintf(w, "run %s stopped: %s\n", res.RunID, res.Reason)
	fmt.Fprintf(w, "  pages processed: %d (last page %d)\n", res.State.PagesProcessed, res.State.LastKnownPageCount)
	fmt.Fprintf(w, "  offers collected: %d/%d\n", len(res.Offers), res.State.TargetCount)
	fmt.Fprintf(w, "  extracted: %d, failed: %d, irrelevant: %d, no content: %d, dropped: %d\n",
		res.State.Extracted, res.State.Failed, res.State.Irrelevant, res.State.NoContent, res.State.Dropped)
	fmt.Fprintf(w, "  elapsed: %s\n", res.Elapsed.Round(time.Millisecond))
}

func init() {
	collectCmd.Flags().StringVar(&collectRole, "role", "", "job title or keyword to search (required)")
	collectCmd.Flags().StringVar(&collectLocation, "location", "", "city, department or region")
	collectCmd.Flags().StringVar(&collectContract, "contract", "", "contract type (CDI, CDD, Stage, ...); empty for any")
	collectCmd.Flags().IntVar(&collectTarget, "target", 50, "number of offers to collect")
	collectCmd.Flags().StringVarP(&collectOutput, "output", "o", "", "write JSON lines to this file instead of stdout")
	collectCmd.Flags().BoolVar(&collectPublish, "publish", false, "push collected offers to the Redis queue")
	collectCmd.Flags().IntVar(&collectConcurrency, "concurrency", 1, "offers enriched concurrently (overrides worker.concurrency)")
	collectCmd.Flags().StringVar(&collectBackend, "backend", "http", "fetcher backend: http or colly (overrides crawler.backend)")
	collectCmd.Flags().IntVar(&collectMaxPages, "max-pages", 500, "safety page cap (overrides crawler.max_pages)")
	_ = collectCmd.MarkFlagRequired("role")
	rootCmd.AddCommand(collectCmd)
}
