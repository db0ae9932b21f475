package experiment

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/propsim/internal/breakpoint"
	"github.com/san-kum/propsim/internal/config"
	"github.com/san-kum/propsim/internal/logging"
	"github.com/san-kum/propsim/internal/storage"
	"github.com/san-kum/propsim/internal/surrogate"
)

// Trainer reduces raw sweeps and fits one bundle per identifier. Bundles
// already in the repository are reused as they are.
type Trainer struct {
	repo    storage.Repository
	reducer *breakpoint.Reducer
	opts    surrogate.Options
	workers int
	log     *slog.Logger
}

type TrainResult struct {
	ID       string
	Raw      int
	Reduced  int
	Reused   bool
	Duration time.Duration
	Bundle   *surrogate.Bundle
}

func NewTrainer(repo storage.Repository, cfg config.ReduceConfig, opts surrogate.Options, logger *slog.Logger) *Trainer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Trainer{
		repo:    repo,
		reducer: &breakpoint.Reducer{Samples: cfg.Samples},
		opts:    opts,
		workers: workers,
		log:     logging.OrDiscard(logger),
	}
}

// Train processes every identifier concurrently. The first reduction or
// fit error cancels the rest; no partial bundle is ever saved.
func (t *Trainer) Train(ctx context.Context, m storage.Measurements) ([]TrainResult, error) {
	ids := m.IDs()
	results := make([]TrainResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := t.trainOne(id, m[id])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Trainer) trainOne(id string, raw *breakpoint.Dataset) (TrainResult, error) {
	res := TrainResult{ID: id, Raw: raw.Len()}

	if b, ok, err := t.repo.Load(id); err != nil {
		return res, err
	} else if ok {
		res.Reused = true
		res.Reduced = b.Data.Len()
		res.Bundle = b
		t.log.Info("reusing trained bundle", "id", id, "samples", res.Reduced)
		return res, nil
	}

	start := time.Now()
	reduced, err := t.reducer.Reduce(raw)
	if err != nil {
		return res, err
	}
	res.Reduced = reduced.Len()
	t.log.Info("training surrogate", "id", id, "raw", res.Raw, "reduced", res.Reduced)

	b, err := surrogate.Train(id, reduced, t.opts)
	if err != nil {
		return res, err
	}
	if err := t.repo.Save(id, b); err != nil {
		return res, err
	}
	res.Bundle = b
	res.Duration = time.Since(start)
	t.log.Info("surrogate trained", "id", id, "duration", res.Duration)
	return res, nil
}
