package scraper

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
)

// FabricOptions cap the immediate-response path. The background continuation
// runs uncapped.
type FabricOptions struct {
	// MaxProcess is the accepted-stream cap per fan-out.
	MaxProcess int
	// MaxProcessTime is the wall-clock ceiling of the immediate path.
	MaxProcessTime time.Duration
	Logger         *zap.Logger
}

func (o FabricOptions) withDefaults() FabricOptions {
	if o.MaxProcess == 0 {
		o.MaxProcess = 30
	}
	if o.MaxProcessTime == 0 {
		o.MaxProcessTime = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type tagged struct {
	scraper string
	rec     *catalog.Record
}

// Fabric fans a query out across all registered scrapers: producers write
// raw records to a bounded channel, a single consumer validates,
// deduplicates, persists and yields them. When a cap trips, a background
// worker drains the rest and keeps persisting through the catalog.
type Fabric struct {
	scrapers   []Scraper
	validators map[string]*Validator
	store      *catalog.Store
	kvStore    *kv.Store
	background *pool.Pool
	opts       FabricOptions
	logger     *zap.Logger
}

func NewFabric(scrapers []Scraper, validators map[string]*Validator, store *catalog.Store, kvStore *kv.Store, opts FabricOptions) *Fabric {
	opts = opts.withDefaults()
	return &Fabric{
		scrapers:   scrapers,
		validators: validators,
		store:      store,
		kvStore:    kvStore,
		background: pool.New().WithMaxGoroutines(4),
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Close waits for background continuations to drain.
func (f *Fabric) Close() {
	f.background.Wait()
}

func (f *Fabric) validator(scraper string) *Validator {
	if v, ok := f.validators[scraper]; ok {
		return v
	}
	return NewValidator(0)
}

// Run executes one fan-out and returns the records accepted on the
// immediate path. Scrapers whose TTL cache is still fresh are skipped
// entirely.
func (f *Fabric) Run(ctx context.Context, q Query) []*catalog.Record {
	// Producers outlive the immediate path so the background continuation
	// can keep consuming after the caps trip.
	prodCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)

	recCh := make(chan tagged, 64)
	g, gCtx := errgroup.WithContext(prodCtx)
	for _, s := range f.scrapers {
		s := s
		g.Go(func() error {
			if fresh, err := f.kvStore.ScrapedWithin(gCtx, s.Name(), q.Fingerprint(), s.TTL()); err != nil {
				f.logger.Error("Couldn't check scrape TTL cache", zap.String("scraper", s.Name()), zap.Error(err))
			} else if fresh {
				return nil
			}
			if err := f.kvStore.MarkScraped(gCtx, s.Name(), q.Fingerprint()); err != nil {
				f.logger.Error("Couldn't mark scrape", zap.String("scraper", s.Name()), zap.Error(err))
			}
			recs, err := s.Scrape(gCtx, q)
			if err != nil {
				f.logger.Warn("Scraper failed", zap.String("scraper", s.Name()), zap.Error(err))
				return nil
			}
			for i := range recs {
				select {
				case recCh <- tagged{scraper: s.Name(), rec: &recs[i]}:
				case <-gCtx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		cancel()
		close(recCh)
	}()

	processed := map[string]bool{}
	var accepted []*catalog.Record
	deadline := time.NewTimer(f.opts.MaxProcessTime)
	defer deadline.Stop()

	capped := false
	for !capped {
		select {
		case t, ok := <-recCh:
			if !ok {
				return accepted
			}
			if rec := f.process(prodCtx, t, q, processed); rec != nil {
				accepted = append(accepted, rec)
				if len(accepted) >= f.opts.MaxProcess {
					capped = true
				}
			}
		case <-deadline.C:
			capped = true
		case <-ctx.Done():
			capped = true
		}
	}

	// Keep validating and persisting past the caps, without yielding.
	f.background.Go(func() {
		for t := range recCh {
			f.process(prodCtx, t, q, processed)
		}
	})
	return accepted
}

// process validates, deduplicates and persists one record. Returns nil when
// the record is dropped. processed is only touched from the single consumer
// at a time, so no lock is needed.
func (f *Fabric) process(ctx context.Context, t tagged, q Query, processed map[string]bool) *catalog.Record {
	key := NaturalKey(t.rec)
	if key == "" || processed[key] {
		return nil
	}
	processed[key] = true

	if !f.validator(t.scraper).Validate(t.rec, q) {
		return nil
	}
	if len(t.rec.MediaLinks) == 0 {
		t.rec.MediaLinks = []catalog.MediaLink{{MediaID: q.Media.ID, IsPrimary: true}}
	}
	if _, err := f.store.UpsertStream(ctx, t.rec); err != nil {
		f.logger.Error("Couldn't persist scraped stream",
			zap.String("scraper", t.scraper), zap.String("key", key), zap.Error(err))
		return nil
	}
	return t.rec
}

// Maintenance trims every scraper's TTL sorted set. Meant to run
// periodically from main.
func (f *Fabric) Maintenance(ctx context.Context) {
	for _, s := range f.scrapers {
		if err := f.kvStore.TrimScraped(ctx, s.Name(), s.TTL()); err != nil {
			f.logger.Error("Couldn't trim scrape TTL cache", zap.String("scraper", s.Name()), zap.Error(err))
		}
	}
}
