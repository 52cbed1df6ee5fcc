package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/project-tktt/offer-collector/internal/common/indexer"
	"github.com/project-tktt/offer-collector/internal/module/worker"
	"github.com/project-tktt/offer-collector/internal/queue"
)

var (
	indexBackend     string
	indexConcurrency int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Drain the enriched offer queue into Postgres or Elasticsearch",
	Long:  "Runs a pool of workers that pop enriched offers from the Redis queue and bulk index them until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("backend") {
			cfg.Index.Backend = indexBackend
		}
		if cmd.Flags().Changed("concurrency") {
			cfg.Worker.Concurrency = indexConcurrency
		}

		rdb, err := newRedisClient(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()

		var idx indexer.Indexer
		switch cfg.Index.Backend {
		case "", "postgres":
			pg, err := indexer.NewPostgresIndexer(ctx, cfg.Postgres.URL, cfg.Postgres.Table, zap.L())
			if err != nil {
				return eris.Wrap(err, "init postgres indexer")
			}
			idx = pg
		case "elasticsearch":
			es, err := indexer.NewElasticsearchIndexer(cfg.Elasticsearch.Addresses, cfg.Elasticsearch.Index, zap.L())
			if err != nil {
				return eris.Wrap(err, "init elasticsearch indexer")
			}
			if err := es.EnsureIndex(ctx); err != nil {
				zap.L().Warn("failed to ensure index", zap.String("index", cfg.Elasticsearch.Index), zap.Error(err))
			}
			idx = es
		default:
			return eris.Errorf("unknown index backend %q", cfg.Index.Backend)
		}
		defer idx.Close()

		consumer := queue.NewConsumer(rdb, cfg.Redis.Queue, 0, zap.L())
		w := worker.NewWorker(consumer, idx, worker.Config{
			Concurrency: cfg.Worker.Concurrency,
			BatchSize:   cfg.Worker.BatchSize,
		}, zap.L())

		zap.L().Info("indexing started",
			zap.String("backend", cfg.Index.Backend),
			zap.String("queue", cfg.Redis.Queue),
		)
		if err := w.Run(ctx); err != nil {
			return eris.Wrap(err, "worker pool")
		}
		zap.L().Info("indexing stopped")
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexBackend, "backend", "postgres", "index backend: postgres or elasticsearch (overrides index.backend)")
	indexCmd.Flags().IntVar(&indexConcurrency, "concurrency", 1, "number of indexing workers (overrides worker.concurrency)")
	rootCmd.AddCommand(indexCmd)
}
