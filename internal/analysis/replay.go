package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/engine"
	"github.com/camwatch/camwatch-go/internal/frame"
	"github.com/camwatch/camwatch-go/internal/logging"
)

// maxLineBytes bounds one detection log line. A frame with a few hundred
// detections stays well under this.
const maxLineBytes = 1 << 20

// replayResult tallies one replay run.
type replayResult struct {
	frames    int
	malformed int
	lastPTS   time.Time
}

// Replay feeds a recorded JSONL detection log through the engine with the
// configured sinks attached and prints a run summary on exit. Ctrl-C stops
// the replay cleanly; the summary still prints.
func Replay(settings *conf.Settings) error {
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	file, err := os.Open(settings.Input.Path)
	if err != nil {
		return fmt.Errorf("error opening detection log: %w", err)
	}
	defer file.Close()

	p, err := newPipeline(settings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.start(ctx, settings)

	fmt.Printf("Replaying %s", filepath.Base(settings.Input.Path))
	if settings.Input.Speed > 0 {
		fmt.Printf(" at %gx speed", settings.Input.Speed)
	}
	fmt.Println()

	start := time.Now()
	result, err := replayLog(ctx, p.engine, file, settings.Input.Speed)
	elapsed := time.Since(start)

	if settings.Input.CloseDay && !result.lastPTS.IsZero() {
		date := result.lastPTS.Format("2006-01-02")
		closed := p.engine.CloseDay(context.Background(), date, result.lastPTS)
		if len(closed) > 0 {
			fmt.Printf("Closed %d open attendance sessions for %s\n", len(closed), date)
		}
	}

	stop()
	p.close()

	printSummary(p.engine.Stats(), result, elapsed)
	return err
}

// replayLog feeds frames from the log into the engine. With a positive
// speed each frame is delayed by the PTS delta to its predecessor divided
// by speed; zero speed replays as fast as possible. Malformed lines are
// skipped and counted. Returns early without error when ctx is canceled.
func replayLog(ctx context.Context, eng *engine.Engine, r io.Reader, speed float64) (replayResult, error) {
	log := logging.ForService("replay")
	if log == nil {
		log = slog.Default()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var res replayResult
	var prev time.Time
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		select {
		case <-ctx.Done():
			log.Info("Replay interrupted", "frames", res.frames)
			return res, nil
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var f frame.Frame
		if err := json.Unmarshal(line, &f); err != nil {
			res.malformed++
			log.Warn("Skipping malformed log line", "line", lineNo, "error", err)
			continue
		}

		if speed > 0 && !prev.IsZero() && f.PTS.After(prev) {
			delay := time.Duration(float64(f.PTS.Sub(prev)) / speed)
			select {
			case <-ctx.Done():
				log.Info("Replay interrupted", "frames", res.frames)
				return res, nil
			case <-time.After(delay):
			}
		}
		if !f.PTS.IsZero() {
			prev = f.PTS
			res.lastPTS = f.PTS
		}

		eng.ProcessFrame(ctx, &f)
		res.frames++
	}
	return res, scanner.Err()
}

// printSummary prints the run counters from the engine's final state.
func printSummary(stats engine.Stats, res replayResult, elapsed time.Duration) {
	fmt.Println()
	if elapsed > 0 {
		fmt.Printf("Processed %d frames in %s (%.1f frames/s)\n",
			res.frames, elapsed.Round(time.Millisecond), float64(res.frames)/elapsed.Seconds())
	} else {
		fmt.Printf("Processed %d frames\n", res.frames)
	}
	if res.malformed > 0 {
		fmt.Printf("⚠️  Skipped %d malformed lines\n", res.malformed)
	}

	fmt.Printf("Tracks live: %d, evicted: %d, detections dropped: %d\n",
		stats.Tracks, stats.Evictions, stats.DetectionsDropped)
	fmt.Printf("Identity cache: %d hits, %d misses\n", stats.IdentityHits, stats.IdentityMisses)
	fmt.Printf("API budget: %d granted, %d denied\n", stats.BudgetGranted, stats.BudgetDenied)
	if stats.IdentityDeferrals+stats.GateDeferrals > 0 {
		fmt.Printf("Deferrals: identity %d, gate %d\n", stats.IdentityDeferrals, stats.GateDeferrals)
	}
	if stats.StaleResults > 0 {
		fmt.Printf("Stale results discarded: %d\n", stats.StaleResults)
	}

	if len(stats.OccupancyByCounter) > 0 {
		names := make([]string, 0, len(stats.OccupancyByCounter))
		for name := range stats.OccupancyByCounter {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Printf("Occupancy:")
		for _, name := range names {
			fmt.Printf(" %s=%d", name, stats.OccupancyByCounter[name])
		}
		fmt.Println()
	}
}
