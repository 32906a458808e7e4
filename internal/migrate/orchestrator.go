package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/langchain-ai/langsmith-data-migration-tool/internal/session"
)

// Options select which phases a full migration runs.
type Options struct {
	Datasets bool
	Prompts  bool
	Queues   bool
	Rules    bool
	Charts   bool

	IncludeExamples    bool
	IncludeExperiments bool

	PromptOpts PromptOptions
	RuleOpts   RuleOptions
}

// DefaultOptions enables every phase.
func DefaultOptions() Options {
	return Options{
		Datasets:           true,
		Prompts:            true,
		Queues:             true,
		Rules:              true,
		Charts:             true,
		IncludeExamples:    true,
		IncludeExperiments: true,
		PromptOpts:         DefaultPromptOptions(),
	}
}

// Orchestrator sequences the kind migrators. Datasets fan out over a
// bounded worker pool; the dependent kinds (prompts, queues, rules,
// charts) run serially afterward because rules and charts consume the ID
// maps the earlier phases produce.
type Orchestrator struct {
	ctx *Context
}

func NewOrchestrator(c *Context) *Orchestrator {
	return &Orchestrator{ctx: c}
}

// MigrateDataset runs the full pipeline for one dataset: the dataset
// itself, its examples, then experiments with their runs and feedback.
func (o *Orchestrator) MigrateDataset(ctx context.Context, sourceDatasetID string, opts Options) error {
	c := o.ctx
	destID, err := NewDatasetMigrator(c).Migrate(ctx, sourceDatasetID, DatasetOptions{
		IncludeExamples: opts.IncludeExamples,
	})
	if err != nil {
		return err
	}
	if !opts.IncludeExperiments {
		return nil
	}

	expMap, err := NewExperimentMigrator(c).MigrateForDataset(ctx, sourceDatasetID, destID)
	if err != nil {
		return err
	}
	if len(expMap) == 0 {
		return nil
	}

	if _, err := NewRunMigrator(c).MigrateForExperiments(ctx, expMap, c.IDMap(KindExample)); err != nil {
		return err
	}

	sourceExpIDs := make([]string, 0, len(expMap))
	for src := range expMap {
		sourceExpIDs = append(sourceExpIDs, src)
	}
	sort.Strings(sourceExpIDs)
	if _, err := NewFeedbackMigrator(c).MigrateForExperiments(ctx, sourceExpIDs, c.IDMap(KindRun)); err != nil {
		return err
	}
	return nil
}

// MigrateDatasets fans the per-dataset pipeline over the worker pool. An
// empty id list means every source dataset.
func (o *Orchestrator) MigrateDatasets(ctx context.Context, ids []string, opts Options) error {
	c := o.ctx
	if len(ids) == 0 {
		datasets, err := NewDatasetMigrator(c).List(ctx)
		if err != nil {
			return err
		}
		for _, ds := range datasets {
			ids = append(ids, ds.ID)
		}
	}
	if len(ids) == 0 {
		c.Log.Infof("no datasets to migrate")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Cfg.Migration.Workers)
	var mu sync.Mutex
	var failures []error
	for _, id := range ids {
		g.Go(func() error {
			if err := o.MigrateDataset(gctx, id, opts); err != nil {
				c.Log.Errorf("dataset %s: %v", id, err)
				mu.Lock()
				failures = append(failures, fmt.Errorf("dataset %s: %w", id, err))
				mu.Unlock()
				// With resume_on_error the failure is collected, not
				// returned, so one bad dataset does not cancel the rest of
				// the pool. Without it the pool drains and stops.
				if !c.Cfg.Migration.ResumeOnError {
					return err
				}
			}
			return nil
		})
	}
	// Every group error is already in failures.
	_ = g.Wait()
	return errors.Join(failures...)
}

// MigrateEverything runs all enabled phases in dependency order. Phase
// failures are collected; later phases still run.
func (o *Orchestrator) MigrateEverything(ctx context.Context, opts Options) error {
	c := o.ctx
	var failures []error
	stopped := false
	phase := func(name string, enabled bool, run func() error) {
		if stopped {
			return
		}
		if !enabled {
			c.Log.Infof("skipping %s", name)
			return
		}
		c.Log.Headerf("%s", name)
		if err := run(); err != nil {
			c.Log.Errorf("%s phase: %v", name, err)
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			if !c.Cfg.Migration.ResumeOnError {
				c.Log.Warnf("stopping after the %s phase; resume_on_error is off", name)
				stopped = true
			}
		}
	}

	phase("datasets", opts.Datasets, func() error {
		return o.MigrateDatasets(ctx, nil, opts)
	})
	phase("prompts", opts.Prompts, func() error {
		_, err := NewPromptMigrator(c).MigrateAll(ctx, opts.PromptOpts)
		return err
	})
	phase("annotation queues", opts.Queues, func() error {
		_, err := NewQueueMigrator(c).MigrateAll(ctx)
		return err
	})
	phase("rules", opts.Rules, func() error {
		_, err := NewRuleMigrator(c).MigrateAll(ctx, opts.RuleOpts)
		return err
	})
	phase("charts", opts.Charts, func() error {
		_, err := NewChartMigrator(c).MigrateAll(ctx)
		return err
	})

	c.SaveState()
	return errors.Join(failures...)
}

// Resume retries the unfinished work of a loaded session: failed items
// still under the attempt ceiling plus anything left pending. Datasets
// re-run individually; the flat kinds re-run their whole phase and rely on
// the existing-name checks to skip what already landed.
func (o *Orchestrator) Resume(ctx context.Context, opts Options) error {
	c := o.ctx
	if c.State == nil {
		return fmt.Errorf("no session to resume")
	}

	retryable := c.State.FailedItems(session.DefaultMaxAttempts)
	for _, kind := range Kinds {
		retryable = append(retryable, c.State.PendingItems(string(kind))...)
	}
	if len(retryable) == 0 {
		c.Log.Infof("session has nothing to resume")
		return nil
	}

	kinds := map[string]bool{}
	var datasetIDs []string
	seen := map[string]bool{}
	for _, item := range retryable {
		kinds[item.Kind] = true
		if item.Kind == string(KindDataset) && !seen[item.SourceID] {
			seen[item.SourceID] = true
			datasetIDs = append(datasetIDs, item.SourceID)
		}
	}
	c.Log.Infof("resuming %d unfinished items", len(retryable))

	var failures []error
	if len(datasetIDs) > 0 {
		if err := o.MigrateDatasets(ctx, datasetIDs, opts); err != nil {
			failures = append(failures, err)
		}
	}
	if kinds[string(KindPrompt)] {
		if _, err := NewPromptMigrator(c).MigrateAll(ctx, opts.PromptOpts); err != nil {
			failures = append(failures, err)
		}
	}
	if kinds[string(KindQueue)] {
		if _, err := NewQueueMigrator(c).MigrateAll(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	if kinds[string(KindRule)] {
		if _, err := NewRuleMigrator(c).MigrateAll(ctx, opts.RuleOpts); err != nil {
			failures = append(failures, err)
		}
	}
	if kinds[string(KindChart)] {
		if _, err := NewChartMigrator(c).MigrateAll(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	c.SaveState()
	return errors.Join(failures...)
}
