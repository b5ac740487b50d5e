// Package loadtest simulates many sync clients writing the same records
// concurrently and checks that last-write-wins held for every record.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
	tasksync "github.com/mschirtzinger/tasksync/internal/sync"
)

// Options controls the simulated workload.
type Options struct {
	// Clients is the number of concurrent writers; even clients push as
	// vault, odd ones as extension
	Clients int
	// PushesPerClient is the number of batches each client sends
	PushesPerClient int
	// BatchSize is the number of records per batch
	BatchSize int
	// IDs is the size of the shared id pool; smaller pools mean more contention
	IDs int
	// Seed makes the workload reproducible
	Seed int64
}

// DefaultOptions returns a moderate workload.
func DefaultOptions() Options {
	return Options{
		Clients:         20,
		PushesPerClient: 10,
		BatchSize:       10,
		IDs:             50,
		Seed:            42,
	}
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// Violation is a record whose stored updatedAt is not the newest one pushed.
type Violation struct {
	TaskID string
	Want   time.Time
	Got    time.Time
}

// Report is the outcome of a run.
type Report struct {
	Push       *LatencyStats
	Pull       *LatencyStats
	Synced     int
	Conflicts  int
	Errors     int
	Violations []Violation
}

// Run drives the workload against svc and verifies the final state
// through store.
func Run(ctx context.Context, svc *tasksync.Service, store storage.Store, opts Options) (*Report, error) {
	if opts.Clients <= 0 || opts.PushesPerClient <= 0 || opts.BatchSize <= 0 || opts.IDs <= 0 {
		return nil, fmt.Errorf("all load test options must be positive: %+v", opts)
	}

	base := schema.NormalizeTime(time.Now().Add(-time.Hour))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		newest   = make(map[string]time.Time)
		pushDurs []time.Duration
		pullDurs []time.Duration
		report   = &Report{}
		pushErrs int
		pullErrs int
	)

	for i := 0; i < opts.Clients; i++ {
		wg.Add(1)
		go func(client int) {
			defer wg.Done()

			source := schema.SourceVault
			if client%2 == 1 {
				source = schema.SourceExtension
			}
			rng := rand.New(rand.NewSource(opts.Seed + int64(client)))

			for j := 0; j < opts.PushesPerClient; j++ {
				if ctx.Err() != nil {
					return
				}

				batch := generateBatch(rng, base, client, opts)

				start := time.Now()
				res, err := svc.Push(ctx, string(source), batch)
				pushElapsed := time.Since(start)

				start = time.Now()
				_, pullErr := svc.Pull(ctx, string(source), base)
				pullElapsed := time.Since(start)

				mu.Lock()
				pushDurs = append(pushDurs, pushElapsed)
				pullDurs = append(pullDurs, pullElapsed)
				if pullErr != nil {
					pullErrs++
				}
				if err != nil {
					pushErrs++
				} else {
					report.Synced += res.Synced
					report.Conflicts += len(res.Conflicts)
					report.Errors += len(res.Errors)
					for _, rec := range batch {
						if rec.UpdatedAt.After(newest[rec.ID]) {
							newest[rec.ID] = rec.UpdatedAt
						}
					}
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Push = computeLatencyStats(pushDurs)
	report.Push.Errors = pushErrs
	report.Pull = computeLatencyStats(pullDurs)
	report.Pull.Errors = pullErrs

	violations, err := verify(ctx, store, newest)
	if err != nil {
		return nil, err
	}
	report.Violations = violations
	return report, nil
}

// generateBatch creates records over the shared id pool with random
// timestamps inside a one hour window.
func generateBatch(rng *rand.Rand, base time.Time, client int, opts Options) []*schema.TaskRecord {
	batch := make([]*schema.TaskRecord, opts.BatchSize)
	for k := range batch {
		id := fmt.Sprintf("load-%04d", rng.Intn(opts.IDs))
		at := base.Add(time.Duration(rng.Int63n(int64(time.Hour/time.Millisecond))) * time.Millisecond)
		batch[k] = &schema.TaskRecord{
			ID:        id,
			Title:     fmt.Sprintf("%s written by client %d", id, client),
			Status:    schema.StatusPending,
			Priority:  schema.PriorityMedium,
			CreatedAt: base,
			UpdatedAt: at,
		}
	}
	return batch
}

// verify checks that every id holds the newest timestamp pushed for it.
func verify(ctx context.Context, store storage.Store, newest map[string]time.Time) ([]Violation, error) {
	ids := make([]string, 0, len(newest))
	for id := range newest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var violations []Violation
	for _, id := range ids {
		rec, err := store.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", id, err)
		}
		if !rec.UpdatedAt.Equal(newest[id]) {
			violations = append(violations, Violation{TaskID: id, Want: newest[id], Got: rec.UpdatedAt})
		}
	}
	return violations, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer, label string) {
	fmt.Fprintf(w, "%s Latency:\n", label)
	fmt.Fprintf(w, "  Total:         %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// Print writes the full report to w.
func (r *Report) Print(w io.Writer) {
	r.Push.PrintStats(w, "Push")
	r.Pull.PrintStats(w, "Pull")
	fmt.Fprintf(w, "Records: %d synced, %d conflicts, %d errors\n", r.Synced, r.Conflicts, r.Errors)
	fmt.Fprintf(w, "LWW violations: %d\n", len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  %s: stored %s, newest pushed %s\n",
			v.TaskID, v.Got.Format(time.RFC3339Nano), v.Want.Format(time.RFC3339Nano))
	}
}
