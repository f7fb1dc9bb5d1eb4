package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/parishems/compliance/internal/config"
	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/services"
	"github.com/parishems/compliance/internal/strategies"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Candidates int                      `json:"candidates"`
	Evaluated  int                      `json:"evaluated"`
	Errors     int                      `json:"errors"`
	Outcomes   map[services.Outcome]int `json:"outcomes"`
}

// EvaluationSweepJob periodically evaluates calls that were never evaluated,
// picking up whatever the fire-and-forget queue missed.
type EvaluationSweepJob struct {
	db         *gorm.DB
	exclusions *services.ExclusionService
	windows    strategies.WindowSource
}

// NewEvaluationSweepJob creates a new evaluation sweep job
func NewEvaluationSweepJob(db *gorm.DB, exclusions *services.ExclusionService, windows strategies.WindowSource) *EvaluationSweepJob {
	return &EvaluationSweepJob{
		db:         db,
		exclusions: exclusions,
		windows:    windows,
	}
}

// Run evaluates one batch of unevaluated calls, oldest first, with bounded
// concurrency. The whole batch uses a single rules snapshot.
func (j *EvaluationSweepJob) Run(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{Outcomes: make(map[services.Outcome]int)}

	settings, err := database.GetOrCreateEvaluationSettings(j.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if !settings.SweepEnabled {
		log.Println("Evaluation sweep is disabled, skipping")
		return result, nil
	}

	pending, err := j.exclusions.UnevaluatedCalls(ctx, settings.SweepBatchLimit)
	if err != nil {
		return nil, err
	}
	result.Candidates = len(pending)
	if len(pending) == 0 {
		return result, nil
	}

	rules := j.exclusions.Rules()
	windows := j.precomputeWindows(ctx, rules, pending)

	concurrency := settings.EvaluationConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	timeout := time.Duration(settings.EvaluationTimeoutSeconds) * time.Second

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, call := range pending {
		call := call
		g.Go(func() error {
			callCtx := gctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}

			res, err := j.exclusions.EvaluateCall(callCtx, call.ID, services.EvaluateOptions{
				Rules:  rules,
				Window: windows[call.ID],
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One failed call must not stop the rest of the batch.
				result.Errors++
				log.Printf("Evaluation sweep: call %s failed: %v", call.CallID, err)
				return nil
			}
			result.Evaluated++
			result.Outcomes[res.Outcome]++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, ctx.Err()
}

type windowGroup struct {
	parishID uint
	minutes  float64
}

// precomputeWindows computes peak-load window positions for every pending call
// with one query and one pass per parish and window length. Calls whose window
// could not be computed are left out; the strategy then queries on its own.
func (j *EvaluationSweepJob) precomputeWindows(ctx context.Context, rules *config.Rules, pending []database.Call) map[uint]*strategies.WindowStats {
	out := make(map[uint]*strategies.WindowStats)
	if j.windows == nil {
		return out
	}

	groups := make(map[windowGroup][]*database.Call)
	for i := range pending {
		c := &pending[i]
		if c.QueueTime == nil {
			continue
		}
		setting := rules.StrategiesFor(c.RegionID)[strategies.KeyPeakCallLoad]
		if !setting.Enabled {
			continue
		}
		key := windowGroup{
			parishID: c.ParishID,
			minutes:  setting.Float("window_minutes", strategies.DefaultPeakWindowMinutes),
		}
		groups[key] = append(groups[key], c)
	}

	for key, members := range groups {
		first, last := *members[0].QueueTime, *members[0].QueueTime
		for _, c := range members[1:] {
			if c.QueueTime.Before(first) {
				first = *c.QueueTime
			}
			if c.QueueTime.After(last) {
				last = *c.QueueTime
			}
		}

		window := time.Duration(key.minutes * float64(time.Minute))
		calls, err := j.windows.CallsInWindow(ctx, key.parishID, first.Add(-window), last)
		if err != nil {
			log.Printf("Evaluation sweep: failed to load peak windows for parish %d: %v", key.parishID, err)
			continue
		}
		positions := strategies.ComputeWindowPositions(calls, window)
		for _, c := range members {
			if stats, ok := positions[c.ID]; ok {
				stats := stats
				out[c.ID] = &stats
			}
		}
	}
	return out
}

// Start begins the periodic sweep. The first sweep runs immediately.
func (j *EvaluationSweepJob) Start(stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	settings, err := database.GetOrCreateEvaluationSettings(j.db)
	if err != nil {
		log.Printf("Failed to get evaluation settings, using default interval: %v", err)
		settings = database.NewDefaultEvaluationSettings()
	}
	interval := sweepInterval(settings)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.runAndLog(ctx)
	for {
		select {
		case <-ticker.C:
			j.runAndLog(ctx)

			newSettings, err := database.GetOrCreateEvaluationSettings(j.db)
			if err == nil && newSettings.SweepIntervalMinutes != settings.SweepIntervalMinutes {
				settings = newSettings
				interval = sweepInterval(settings)
				ticker.Reset(interval)
				log.Printf("Evaluation sweep interval updated to %d minutes", settings.SweepIntervalMinutes)
			}
		case <-stop:
			log.Println("Evaluation sweep stopped")
			return
		}
	}
}

func (j *EvaluationSweepJob) runAndLog(ctx context.Context) {
	result, err := j.Run(ctx)
	if err != nil {
		log.Printf("Evaluation sweep error: %v", err)
		return
	}
	if result.Candidates > 0 {
		log.Printf("Evaluation sweep: %d candidates, %d evaluated, %d excluded, %d errors",
			result.Candidates, result.Evaluated, result.Outcomes[services.OutcomeExcluded], result.Errors)
	}
}

func sweepInterval(s *database.EvaluationSettings) time.Duration {
	if s.SweepIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.SweepIntervalMinutes) * time.Minute
}
