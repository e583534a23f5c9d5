// Package profiler accumulates per-stage frame timings and periodically logs frame rate, stage
// breakdown and memory statistics.
package profiler

import (
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"
)

// Stage names a timed section of a frame.
type Stage string

// Profiler tracks frame rate, per-stage durations and memory statistics. Outputs stats to the
// log at a configurable interval. Not safe for concurrent use; record from the frame goroutine.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	stages     map[Stage]time.Duration
	stageOrder []Stage
	counters   map[string]int
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
		stages:         make(map[Stage]time.Duration),
		counters:       make(map[string]int),
	}
}

// SetUpdateInterval changes how often Tick logs.
func (p *Profiler) SetUpdateInterval(d time.Duration) {
	p.updateInterval = d
}

// Record adds d to the running total of a stage.
//
// Parameters:
//   - stage: the stage
//   - d: the time spent in it
func (p *Profiler) Record(stage Stage, d time.Duration) {
	if _, ok := p.stages[stage]; !ok {
		p.stageOrder = append(p.stageOrder, stage)
	}
	p.stages[stage] += d
}

// Time starts timing a stage. Call the returned function when the stage ends.
//
// Example:
//
//	defer p.Time("cull")()
func (p *Profiler) Time(stage Stage) func() {
	start := time.Now()
	return func() {
		p.Record(stage, time.Since(start))
	}
}

// Count adds n to a named per-interval counter, such as the number of draws submitted.
func (p *Profiler) Count(name string, n int) {
	p.counters[name] += n
}

// StageTotal returns the time recorded for a stage since the last log.
func (p *Profiler) StageTotal(stage Stage) time.Duration {
	return p.stages[stage]
}

// Counter returns a counter's value since the last log.
func (p *Profiler) Counter(name string) int {
	return p.counters[name]
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, average stage times, counters, heap usage, allocation rate and GC pauses.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	var maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 pauses.
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	log.Printf("[Profiler] FPS: %.2f | %s | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (max: %d µs)",
		fps, p.breakdown(), allocMB, allocRateMB, gcCount, maxPauseUs)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	clear(p.stages)
	clear(p.counters)
	p.stageOrder = p.stageOrder[:0]
	return true
}

// breakdown formats the average time per frame of each stage, in first-recorded order.
func (p *Profiler) breakdown() string {
	var b strings.Builder
	for i, stage := range p.stageOrder {
		if i > 0 {
			b.WriteString(" ")
		}
		avg := p.stages[stage] / time.Duration(max(p.frameCount, 1))
		fmt.Fprintf(&b, "%s=%s", stage, avg.Round(time.Microsecond))
	}
	for name, n := range p.counters {
		fmt.Fprintf(&b, " %s=%d", name, n/max(p.frameCount, 1))
	}
	if b.Len() == 0 {
		return "no stages"
	}
	return b.String()
}
