// Package warmer pre-fetches current prices and historical series through the
// fallback read path so that user queries hit a warm cache.
package warmer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/fallback"
	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	warmerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandi_warmer_jobs_total",
		Help: "Warm-up jobs by result (warmed, fallback)",
	}, []string{"result"})

	warmerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mandi_warmer_run_duration_seconds",
		Help:    "Duration of complete warm-up runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})
)

// Config holds warmer configuration.
type Config struct {
	// MaxConcurrency is the number of parallel workers.
	MaxConcurrency int

	// Timeout per job.
	Timeout time.Duration

	// Schedule is a cron expression with a seconds field, e.g. "0 */15 * * * *".
	Schedule string

	// Locations to warm. Empty means the location catalog.
	Locations []string

	// Products whose history is warmed at every location. Empty skips history.
	Products []string

	// HistoryDays is the series length warmed per product.
	HistoryDays int
}

// DefaultConfig returns the warmer defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
		Schedule:       "0 */15 * * * *",
		HistoryDays:    30,
	}
}

// Reader is the read path the warmer drives. *fallback.Orchestrator satisfies it.
type Reader interface {
	CurrentPrices(ctx context.Context, location string, date time.Time) ([]market.RawPriceRecord, fallback.Outcome)
	Historical(ctx context.Context, product, location string, days int) ([]market.HistoricalPoint, fallback.Outcome)
	Locations(ctx context.Context) ([]string, fallback.Outcome)
}

// Job is one cache entry to warm. An empty Product warms current prices.
type Job struct {
	Product  string
	Location string
}

func (j Job) String() string {
	if j.Product == "" {
		return "prices:" + j.Location
	}
	return "historical:" + j.Product + ":" + j.Location
}

// Result is the outcome of one job.
type Result struct {
	Job     Job
	Outcome fallback.Outcome
}

// Report summarizes a warming run.
type Report struct {
	Jobs      int
	Warmed    int
	Fallbacks int
	Skipped   int
	Duration  time.Duration
}

// Warmer runs warming jobs on a worker pool, optionally on a cron schedule.
type Warmer struct {
	reader Reader
	config Config
	logger zerolog.Logger

	// Now is the clock used for the current-price date.
	Now func() time.Time

	cron *cron.Cron
	mu   sync.Mutex
}

// New creates a warmer.
func New(reader Reader, config Config, logger zerolog.Logger) *Warmer {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.HistoryDays <= 0 {
		config.HistoryDays = defaults.HistoryDays
	}
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}

	return &Warmer{
		reader: reader,
		config: config,
		logger: logger.With().Str("component", "warmer").Logger(),
		Now:    time.Now,
	}
}

// Jobs lists the jobs of one run: current prices per location, then
// history per product and location.
func (w *Warmer) Jobs(ctx context.Context) []Job {
	locations := w.config.Locations
	if len(locations) == 0 {
		locations, _ = w.reader.Locations(ctx)
	}

	jobs := make([]Job, 0, len(locations)*(1+len(w.config.Products)))
	for _, loc := range locations {
		jobs = append(jobs, Job{Location: loc})
	}
	for _, product := range w.config.Products {
		for _, loc := range locations {
			jobs = append(jobs, Job{Product: product, Location: loc})
		}
	}
	return jobs
}

// Run warms every job once and returns a summary. Jobs left when ctx is
// cancelled are counted as skipped.
func (w *Warmer) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	jobs := w.Jobs(ctx)
	report := Report{Jobs: len(jobs)}

	w.logger.Info().
		Int("jobs", len(jobs)).
		Int("workers", w.config.MaxConcurrency).
		Msg("Starting cache warm-up")

	jobQueue := make(chan Job, len(jobs))
	for _, job := range jobs {
		jobQueue <- job
	}
	close(jobQueue)

	results := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go w.worker(ctx, jobQueue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	done := 0
	for result := range results {
		done++
		if result.Outcome.Fallback() {
			report.Fallbacks++
			warmerJobsTotal.WithLabelValues("fallback").Inc()
			w.logger.Warn().
				Str("job", result.Job.String()).
				Str("outcome", string(result.Outcome)).
				Msg("Warm-up job fell back")
			continue
		}
		report.Warmed++
		warmerJobsTotal.WithLabelValues("warmed").Inc()
	}
	report.Skipped = len(jobs) - done
	report.Duration = time.Since(start)
	warmerRunDuration.Observe(report.Duration.Seconds())

	w.logger.Info().
		Int("warmed", report.Warmed).
		Int("fallbacks", report.Fallbacks).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("Cache warm-up complete")

	if err := ctx.Err(); err != nil && report.Skipped > 0 {
		return report, fmt.Errorf("warm-up interrupted (%d/%d jobs done): %w", done, len(jobs), err)
	}
	return report, nil
}

// worker processes jobs from the queue
func (w *Warmer) worker(ctx context.Context, jobQueue <-chan Job, results chan<- Result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for job := range jobQueue {
		select {
		case <-ctx.Done():
			w.logger.Debug().
				Int("worker_id", workerID).
				Int("jobs_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		jobCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		var outcome fallback.Outcome
		if job.Product == "" {
			_, outcome = w.reader.CurrentPrices(jobCtx, job.Location, w.Now())
		} else {
			_, outcome = w.reader.Historical(jobCtx, job.Product, job.Location, w.config.HistoryDays)
		}
		cancel()

		results <- Result{Job: job, Outcome: outcome}
		processed++
	}

	if processed > 0 {
		w.logger.Debug().
			Int("worker_id", workerID).
			Int("jobs_processed", processed).
			Msg("Worker completed")
	}
}

// Start schedules Run on the configured cron expression.
func (w *Warmer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return fmt.Errorf("warmer already started")
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(w.config.Schedule, func() {
		if _, err := w.Run(ctx); err != nil {
			w.logger.Warn().Err(err).Msg("Scheduled warm-up failed")
		}
	}); err != nil {
		return fmt.Errorf("register warm-up schedule %q: %w", w.config.Schedule, err)
	}

	c.Start()
	w.cron = c
	w.logger.Info().Str("schedule", w.config.Schedule).Msg("Warmer scheduled")
	return nil
}

// Stop stops the schedule and waits for a running warm-up to finish.
func (w *Warmer) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	w.logger.Info().Msg("Warmer stopped")
}
