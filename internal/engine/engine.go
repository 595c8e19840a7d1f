// Package engine correlates per-frame detections into persistent tracked
// entities and decides when each entity may spend the shared external API
// budget. It owns the track arena, drives the gate triggers, crossing
// counters and the attendance tracker, and fans derived events out to the
// configured sinks. Frame processing never blocks on an external service;
// recognitions are dispatched asynchronously behind pending placeholders.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/camwatch/camwatch-go/internal/attendance"
	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/errors"
	"github.com/camwatch/camwatch-go/internal/facematch"
	"github.com/camwatch/camwatch-go/internal/frame"
	"github.com/camwatch/camwatch-go/internal/gatezone"
	"github.com/camwatch/camwatch-go/internal/linecross"
	"github.com/camwatch/camwatch-go/internal/logging"
	"github.com/camwatch/camwatch-go/internal/observability/metrics"
	"github.com/camwatch/camwatch-go/internal/plateocr"
	"github.com/camwatch/camwatch-go/internal/ratelimit"
	"github.com/camwatch/camwatch-go/internal/shiftpolicy"
	"github.com/camwatch/camwatch-go/internal/statecache"
)

// gateBinding couples one configured zone with its trigger and the
// detection filter that feeds it.
type gateBinding struct {
	trigger *gatezone.Trigger
	classes map[frame.Class]struct{}
	minConf float64
}

func (b *gateBinding) accepts(d *frame.Detection) bool {
	if d.Confidence < b.minConf {
		return false
	}
	_, ok := b.classes[d.Class]
	return ok
}

// lineBinding couples one configured crossing line with its counter.
type lineBinding struct {
	counter *linecross.Counter
	classes map[frame.Class]struct{}
	minConf float64
}

func (b *lineBinding) accepts(d *frame.Detection) bool {
	if d.Confidence < b.minConf {
		return false
	}
	_, ok := b.classes[d.Class]
	return ok
}

type attendanceMode int

const (
	attendanceOff attendanceMode = iota
	attendanceCrossing
	attendancePresence
)

// cameraState is the per-camera runtime built from configuration.
type cameraState struct {
	id    string
	gates []*gateBinding
	lines []*lineBinding
	mode  attendanceMode
	line  string // crossing line that drives attendance in crossing mode
}

type attendanceEvent int

const (
	attCheckIn attendanceEvent = iota
	attCheckOut
)

// Engine is the correlation core. One logical worker per camera stream
// calls ProcessFrame; the arena, caches, budget and occupancy counters are
// shared across streams and internally synchronized.
type Engine struct {
	log   *slog.Logger
	clock func() time.Time

	resultTTL       time.Duration
	sessionTTL      time.Duration
	failureCooldown time.Duration
	pendingTimeout  time.Duration
	trackSilence    time.Duration
	sweepInterval   time.Duration
	historyDepth    int

	faces    facematch.Service
	plates   plateocr.Service
	policies shiftpolicy.Provider

	defaultPolicy shiftpolicy.ShiftPolicy

	budget     *ratelimit.Limiter
	identities *statecache.Cache[IdentityResult]
	visits     *statecache.Cache[VisitResult]
	tracker    *attendance.Tracker
	sinks      *Sinks

	metrics    *metrics.EngineMetrics
	attMetrics *metrics.AttendanceMetrics

	cameras     map[string]*cameraState
	occupancies map[string]*linecross.Occupancy

	mu     sync.Mutex
	arena  map[frame.TrackKey]*entity
	genSeq uint64

	dispatchCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	frames            atomic.Uint64
	dropped           atomic.Uint64
	identityDeferrals atomic.Uint64
	gateDeferrals     atomic.Uint64
	staleResults      atomic.Uint64
	evictions         atomic.Uint64
}

// New creates an engine from settings. Any of the three services may be nil
// to disable the corresponding behavior: faces disables identity resolution,
// plates disables plate reads on gate fires, policies falls back to the
// configured default shift policy.
func New(settings *conf.Settings, faces facematch.Service, plates plateocr.Service, policies shiftpolicy.Provider) (*Engine, error) {
	return NewWithClock(settings, faces, plates, policies, time.Now)
}

// NewWithClock creates an engine with an injectable time source. The clock
// drives cache expiry, the budget window and the eviction sweeper; frame
// state machines run on frame PTS.
func NewWithClock(settings *conf.Settings, faces facematch.Service, plates plateocr.Service, policies shiftpolicy.Provider, nowFunc func() time.Time) (*Engine, error) {
	if settings == nil {
		return nil, errors.Newf("engine settings are required").
			Category(errors.CategoryConfiguration).
			Component("engine").
			Build()
	}
	if nowFunc == nil {
		nowFunc = time.Now
	}

	log := logging.ForService("engine")
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		log:             log,
		clock:           nowFunc,
		resultTTL:       durationOr(settings.Engine.ResultTTL, time.Minute),
		sessionTTL:      durationOr(settings.Engine.SessionTTL, 10*time.Minute),
		failureCooldown: durationOr(settings.Engine.FailureCooldown, 30*time.Second),
		pendingTimeout:  durationOr(settings.Engine.PendingTimeout, 5*time.Second),
		trackSilence:    durationOr(settings.Engine.TrackSilence, 30*time.Second),
		sweepInterval:   durationOr(settings.Engine.SweepInterval, 10*time.Second),
		historyDepth:    intOr(settings.Engine.HistoryDepth, 16),
		faces:           faces,
		plates:          plates,
		policies:        policies,
		budget:          ratelimit.NewWithClock(intOr(settings.Engine.APIBudget, 5), time.Second, nowFunc),
		tracker:         attendance.New(attendance.Config{DuplicateWindow: settings.Attendance.DuplicateWindow}),
		sinks:           NewSinks(),
		cameras:         make(map[string]*cameraState),
		occupancies:     make(map[string]*linecross.Occupancy),
		arena:           make(map[frame.TrackKey]*entity),
	}
	e.identities = statecache.NewWithClock[IdentityResult](e.resultTTL, nowFunc)
	e.visits = statecache.NewWithClock[VisitResult](e.sessionTTL, nowFunc)
	e.dispatchCtx, e.cancel = context.WithCancel(context.Background())

	policy, err := defaultPolicyFrom(&settings.Attendance.Policy)
	if err != nil {
		return nil, err
	}
	e.defaultPolicy = policy

	for i := range settings.Cameras {
		cam, err := e.buildCamera(&settings.Cameras[i], settings.Attendance.Enabled)
		if err != nil {
			return nil, err
		}
		if _, dup := e.cameras[cam.id]; dup {
			return nil, errors.Newf("duplicate camera id %q", cam.id).
				Category(errors.CategoryConfiguration).
				Component("engine").
				Build()
		}
		e.cameras[cam.id] = cam
	}

	log.Info("Correlation engine initialized",
		"cameras", len(e.cameras),
		"occupancy_counters", len(e.occupancies),
		"api_budget", intOr(settings.Engine.APIBudget, 5),
		"result_ttl", e.resultTTL,
		"session_ttl", e.sessionTTL,
		"track_silence", e.trackSilence,
		"face_match", faces != nil,
		"plate_ocr", plates != nil)
	return e, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func intOr(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

// defaultPolicyFrom parses the configured fallback shift policy. Empty clock
// fields fall back to a standard day shift so a bare config still
// classifies sanely.
func defaultPolicyFrom(p *conf.PolicyDefaults) (shiftpolicy.ShiftPolicy, error) {
	policy := shiftpolicy.ShiftPolicy{
		Start:          shiftpolicy.MustTimeOfDay("08:00"),
		End:            shiftpolicy.MustTimeOfDay("17:00"),
		LateGrace:      p.LateGrace,
		EarlyExitGrace: p.EarlyExitGrace,
	}
	if p.ShiftStart != "" {
		start, err := shiftpolicy.ParseTimeOfDay(p.ShiftStart)
		if err != nil {
			return shiftpolicy.ShiftPolicy{}, err
		}
		policy.Start = start
	}
	if p.ShiftEnd != "" {
		end, err := shiftpolicy.ParseTimeOfDay(p.ShiftEnd)
		if err != nil {
			return shiftpolicy.ShiftPolicy{}, err
		}
		policy.End = end
	}
	return policy, nil
}

// classSet converts configured class names, applying the fallback when the
// list is empty.
func classSet(names []string, fallback frame.Class) map[frame.Class]struct{} {
	set := make(map[frame.Class]struct{}, len(names))
	for _, n := range names {
		set[frame.Class(strings.ToLower(strings.TrimSpace(n)))] = struct{}{}
	}
	if len(set) == 0 {
		set[fallback] = struct{}{}
	}
	return set
}

func (e *Engine) buildCamera(cfg *conf.CameraConfig, attendanceEnabled bool) (*cameraState, error) {
	if cfg.ID == "" {
		return nil, errors.Newf("camera without an id").
			Category(errors.CategoryConfiguration).
			Component("engine").
			Build()
	}
	cam := &cameraState{id: cfg.ID}

	for i := range cfg.Gates {
		g := &cfg.Gates[i]
		zone, err := buildZone(g)
		if err != nil {
			return nil, err
		}
		cam.gates = append(cam.gates, &gateBinding{
			trigger: gatezone.NewTrigger(g.Name, zone),
			classes: classSet(g.Classes, frame.ClassVehicle),
			minConf: g.MinConfidence,
		})
	}

	lineNames := make(map[string]bool, len(cfg.Lines))
	for i := range cfg.Lines {
		l := &cfg.Lines[i]
		counterName := l.Counter
		if counterName == "" {
			counterName = l.Name
		}
		counter := linecross.NewCounter(linecross.Config{
			Name:   l.Name,
			Line:   frame.Line{A: frame.Point(l.A), B: frame.Point(l.B)},
			Buffer: l.Buffer,
			Invert: l.Invert,
		}, e.occupancyFor(counterName))
		cam.lines = append(cam.lines, &lineBinding{
			counter: counter,
			classes: classSet(l.Classes, frame.ClassPerson),
			minConf: l.MinConfidence,
		})
		lineNames[l.Name] = true
	}

	if attendanceEnabled && cfg.Attendance.Enabled {
		switch strings.ToLower(cfg.Attendance.Mode) {
		case "crossing", "":
			if !lineNames[cfg.Attendance.Line] {
				return nil, errors.Newf("camera %q: attendance line %q is not configured", cfg.ID, cfg.Attendance.Line).
					Category(errors.CategoryConfiguration).
					Component("engine").
					Build()
			}
			cam.mode = attendanceCrossing
			cam.line = cfg.Attendance.Line
		case "presence":
			cam.mode = attendancePresence
		default:
			return nil, errors.Newf("camera %q: unknown attendance mode %q", cfg.ID, cfg.Attendance.Mode).
				Category(errors.CategoryConfiguration).
				Component("engine").
				Build()
		}
	}
	return cam, nil
}

func buildZone(g *conf.GateZoneConfig) (gatezone.Zone, error) {
	switch {
	case g.Band != nil:
		var axis gatezone.Axis
		switch strings.ToLower(g.Band.Axis) {
		case "x":
			axis = gatezone.AxisX
		case "y":
			axis = gatezone.AxisY
		default:
			return nil, errors.Newf("gate zone %q: unknown band axis %q", g.Name, g.Band.Axis).
				Category(errors.CategoryConfiguration).
				Component("engine").
				Build()
		}
		return gatezone.Band{Axis: axis, From: g.Band.From, To: g.Band.To}, nil
	case len(g.Polygon) >= 3:
		poly := make(frame.Polygon, len(g.Polygon))
		for i, p := range g.Polygon {
			poly[i] = frame.Point(p)
		}
		return gatezone.PolygonZone{Polygon: poly}, nil
	default:
		return nil, errors.Newf("gate zone %q needs a band or a polygon with at least 3 points", g.Name).
			Category(errors.CategoryConfiguration).
			Component("engine").
			Build()
	}
}

// occupancyFor returns the shared counter with the given name, creating it
// on first use. Lines on different cameras that name the same counter feed
// one facility-wide count.
func (e *Engine) occupancyFor(name string) *linecross.Occupancy {
	if o, ok := e.occupancies[name]; ok {
		return o
	}
	o := linecross.NewOccupancy(name)
	e.occupancies[name] = o
	return o
}

// AddSink registers a sink. Call before frames start flowing.
func (e *Engine) AddSink(s Sink) {
	e.sinks.Add(s)
}

// SetMetrics wires the engine and attendance collectors. Call before frames
// start flowing; the engine runs without metrics when unset.
func (e *Engine) SetMetrics(em *metrics.EngineMetrics, am *metrics.AttendanceMetrics) {
	e.metrics = em
	e.attMetrics = am
}

// Attendance exposes the attendance tracker for manual override and query
// paths owned by the surrounding application.
func (e *Engine) Attendance() *attendance.Tracker { return e.tracker }

// Occupancy returns the named shared occupancy counter, or nil.
func (e *Engine) Occupancy(name string) *linecross.Occupancy {
	return e.occupancies[name]
}

// Track returns a snapshot of a live tracked entity with its recent
// centroid history, oldest first.
func (e *Engine) Track(key frame.TrackKey) (TrackSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.arena[key]
	if !ok {
		return TrackSnapshot{}, false
	}
	return TrackSnapshot{
		Key:       ent.key,
		Class:     ent.class,
		FirstSeen: ent.firstSeen,
		LastSeen:  ent.lastSeen,
		LastBox:   ent.lastBox,
		History:   ent.history.snapshot(),
	}, true
}

// ProcessFrame runs one frame's detections through the correlation steps
// and returns the per-track results. Failures inside never propagate; a bad
// detection is dropped and an external failure becomes a cached unknown.
func (e *Engine) ProcessFrame(ctx context.Context, f *frame.Frame) []TrackResult {
	if f == nil || len(f.Detections) == 0 {
		return nil
	}
	e.frames.Add(1)
	start := time.Now()

	ts := f.PTS
	if ts.IsZero() {
		ts = e.clock()
	}
	cam := e.cameras[f.CameraID]

	results := make([]TrackResult, 0, len(f.Detections))
	for i := range f.Detections {
		d := f.Detections[i]
		if !d.Box.Valid() {
			e.dropped.Add(1)
			if e.metrics != nil {
				e.metrics.RecordDroppedDetection(f.CameraID, "invalid_box")
			}
			e.log.Debug("Dropping detection with invalid box",
				"camera_id", f.CameraID,
				"track_id", d.TrackID,
				"box", d.Box)
			continue
		}

		key := d.Key(f.CameraID)
		gen := e.touch(key, &d, ts)

		res := TrackResult{CameraID: f.CameraID, TrackID: d.TrackID, Class: d.Class}

		if d.Class == frame.ClassFace || d.Class == frame.ClassPerson {
			e.resolveIdentity(cam, key, gen, &d, ts, &res)
		}
		if cam != nil {
			for _, gb := range cam.gates {
				if gb.accepts(&d) {
					e.evaluateGate(ctx, gb, key, gen, &d, ts, &res)
				}
			}
			e.updateLines(ctx, cam, key, &d, ts)
		}

		results = append(results, res)
	}
	if e.metrics != nil {
		e.metrics.RecordFrame(f.CameraID, time.Since(start).Seconds())
	}
	return results
}

// touch updates the arena record for the track, creating it on first
// sighting, and returns the entity generation for stale-result checks.
func (e *Engine) touch(key frame.TrackKey, d *frame.Detection, ts time.Time) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.arena[key]
	if !ok {
		e.genSeq++
		ent = &entity{
			key:        key,
			generation: e.genSeq,
			firstSeen:  ts,
			history:    newPositionRing(e.historyDepth),
		}
		e.arena[key] = ent
		if e.metrics != nil {
			e.metrics.UpdateActiveTracks(len(e.arena))
		}
	}
	if ts.After(ent.lastSeen) {
		ent.lastSeen = ts
	}
	ent.class = d.Class
	ent.lastBox = d.Box
	ent.history.push(d.Box.Centroid())
	return ent.generation
}

// currentGeneration reports whether the track is still alive under the same
// generation, so results landing after an eviction are discarded.
func (e *Engine) currentGeneration(key frame.TrackKey, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.arena[key]
	return ok && ent.generation == gen
}

// resolveIdentity implements the identity step: serve from cache, otherwise
// spend budget on an async face search behind a pending placeholder. A
// budget denial leaves no placeholder so the very next frame retries.
func (e *Engine) resolveIdentity(cam *cameraState, key frame.TrackKey, gen uint64, d *frame.Detection, ts time.Time, res *TrackResult) {
	ck := key.String()
	if r, ok := e.identities.Get(ck); ok {
		if e.metrics != nil {
			e.metrics.RecordCacheLookup("identity", "hit")
		}
		res.Identity = &r
		res.Cached = true
		return
	}
	if e.metrics != nil {
		e.metrics.RecordCacheLookup("identity", "miss")
	}
	if e.faces == nil {
		return
	}
	if !e.budget.Allow() {
		e.identityDeferrals.Add(1)
		if e.metrics != nil {
			e.metrics.RecordDeferral("identity")
		}
		res.Identity = &IdentityResult{State: IdentityPending}
		return
	}

	e.identities.SetWithTTL(ck, IdentityResult{State: IdentityPending}, e.pendingTimeout)
	res.Identity = &IdentityResult{State: IdentityPending}

	crop := facematch.Crop{CameraID: key.CameraID, TrackID: key.TrackID, PTS: ts, Box: d.Box}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.completeFaceSearch(cam, key, gen, crop, ts)
	}()
}

func (e *Engine) completeFaceSearch(cam *cameraState, key frame.TrackKey, gen uint64, crop facematch.Crop, ts time.Time) {
	ctx, cancel := context.WithTimeout(e.dispatchCtx, e.pendingTimeout)
	defer cancel()

	result, err := e.faces.Search(ctx, crop)

	if !e.currentGeneration(key, gen) {
		e.staleResults.Add(1)
		if e.metrics != nil {
			e.metrics.RecordStaleResult()
		}
		e.log.Debug("Discarding face result for evicted track", "track", key.String())
		return
	}

	ck := key.String()
	switch {
	case err != nil:
		e.log.Warn("Face search failed, retrying after cooldown",
			"track", ck,
			"cooldown", e.failureCooldown,
			"error", err)
		e.identities.SetWithTTL(ck, IdentityResult{State: IdentityUnknown}, e.failureCooldown)
	case !result.Known():
		e.identities.SetWithTTL(ck, IdentityResult{State: IdentityUnknown}, e.failureCooldown)
	default:
		r := IdentityResult{State: IdentityResolved, EmployeeID: result.ID, Confidence: result.Confidence}
		e.identities.Set(ck, r)
		e.log.Debug("Track identity resolved",
			"track", ck,
			"employee_id", result.ID,
			"confidence", result.Confidence)
		if cam != nil && cam.mode == attendancePresence && e.identities.Consume(ck) {
			e.presenceCheckIn(ctx, result.ID, ts)
		}
	}
	// Re-check after the write: an eviction racing the write must not leave
	// a result behind for a recycled track id.
	if !e.currentGeneration(key, gen) {
		e.identities.Delete(ck)
	}
}

// presenceCheckIn records a check-in for a recognized employee on a
// presence-mode camera. An existing session for the day wins; a person
// walking past the lobby camera at noon must not overwrite their morning
// check-in.
func (e *Engine) presenceCheckIn(ctx context.Context, employeeID string, ts time.Time) {
	if s, ok := e.tracker.Session(employeeID, ts.Format("2006-01-02")); ok && s.Status != attendance.StatusNoRecord {
		e.log.Debug("Presence check-in skipped, session exists",
			"employee_id", employeeID,
			"status", s.Status)
		return
	}
	e.runAttendance(ctx, attCheckIn, employeeID, ts)
}

// evaluateGate implements the gate step for one zone. A Fire decision
// without a dispatched read is always released so the next frame may fire
// instead.
func (e *Engine) evaluateGate(ctx context.Context, gb *gateBinding, key frame.TrackKey, gen uint64, d *frame.Detection, ts time.Time, res *TrackResult) {
	dec := gb.trigger.Evaluate(key, d.Box, ts)
	vk := visitKey(key, gb.trigger.Name())
	if e.metrics != nil {
		e.metrics.RecordGateDecision(gb.trigger.Name(), dec.String())
	}

	switch dec {
	case gatezone.NotInZone:
		setGateStatus(res, dec.String())

	case gatezone.AlreadyTriggered:
		if v, ok := e.visits.Get(vk); ok {
			if e.metrics != nil {
				e.metrics.RecordCacheLookup("visit", "hit")
			}
			res.Visit = &v
			res.Cached = true
		}
		setGateStatus(res, dec.String())

	case gatezone.Fire:
		if v, ok := e.visits.Get(vk); ok {
			// A fresh unknown from an earlier failed read; hold the retry
			// until the cooldown drains.
			gb.trigger.Release(key)
			res.Visit = &v
			res.Cached = true
			setGateStatus(res, "cooling")
			return
		}
		if e.metrics != nil {
			e.metrics.RecordCacheLookup("visit", "miss")
		}
		if e.plates == nil {
			// No OCR service: record the visit as such and keep the claim
			// so it is counted once.
			e.visits.Set(vk, VisitResult{State: VisitUnknown})
			setGateStatus(res, dec.String())
			e.sinks.OnGateEvent(ctx, &GateEvent{
				ID:        uuid.NewString(),
				CameraID:  key.CameraID,
				TrackID:   key.TrackID,
				Zone:      gb.trigger.Name(),
				Timestamp: ts,
			})
			return
		}
		if !e.budget.Allow() {
			e.gateDeferrals.Add(1)
			if e.metrics != nil {
				e.metrics.RecordDeferral("gate")
			}
			gb.trigger.Release(key)
			setGateStatus(res, "deferred")
			e.log.Debug("Gate fire deferred, API budget exhausted",
				"track", key.String(),
				"zone", gb.trigger.Name())
			return
		}

		e.visits.SetWithTTL(vk, VisitResult{State: VisitPending}, e.pendingTimeout)
		res.Visit = &VisitResult{State: VisitPending}
		setGateStatus(res, dec.String())

		crop := plateocr.Crop{CameraID: key.CameraID, TrackID: key.TrackID, PTS: ts, Box: d.Box}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.completePlateRead(gb, key, gen, vk, crop, ts)
		}()
	}
}

func (e *Engine) completePlateRead(gb *gateBinding, key frame.TrackKey, gen uint64, vk string, crop plateocr.Crop, ts time.Time) {
	ctx, cancel := context.WithTimeout(e.dispatchCtx, e.pendingTimeout)
	defer cancel()

	result, err := e.plates.Read(ctx, crop)

	if !e.currentGeneration(key, gen) {
		e.staleResults.Add(1)
		if e.metrics != nil {
			e.metrics.RecordStaleResult()
		}
		e.log.Debug("Discarding plate result for evicted track", "track", key.String())
		return
	}

	zone := gb.trigger.Name()
	switch {
	case err != nil:
		// Transport or service failure: release the claim and hold retries
		// behind the cooldown. No event yet, the visit may still resolve.
		e.log.Warn("Plate read failed, retrying after cooldown",
			"track", key.String(),
			"zone", zone,
			"cooldown", e.failureCooldown,
			"error", err)
		e.visits.SetWithTTL(vk, VisitResult{State: VisitUnknown}, e.failureCooldown)
		gb.trigger.Release(key)

	case !result.Valid():
		// The service answered and saw no readable plate. That is the
		// final word for this visit.
		e.visits.Set(vk, VisitResult{State: VisitUnknown})
		e.sinks.OnGateEvent(ctx, &GateEvent{
			ID:        uuid.NewString(),
			CameraID:  key.CameraID,
			TrackID:   key.TrackID,
			Zone:      zone,
			Timestamp: ts,
		})

	default:
		v := VisitResult{State: VisitResolved, Plate: result.Text, Confidence: result.Confidence, Region: result.Region}
		e.visits.Set(vk, v)
		e.log.Info("Gate visit resolved",
			"track", key.String(),
			"zone", zone,
			"plate", result.Text,
			"confidence", result.Confidence)
		e.sinks.OnGateEvent(ctx, &GateEvent{
			ID:         uuid.NewString(),
			CameraID:   key.CameraID,
			TrackID:    key.TrackID,
			Zone:       zone,
			Resolved:   true,
			Plate:      result.Text,
			Confidence: result.Confidence,
			Region:     result.Region,
			Timestamp:  ts,
		})
	}

	if !e.currentGeneration(key, gen) {
		e.visits.Delete(vk)
	}
}

// updateLines implements the crossing step and, on the attendance line,
// derives check-in/out from the crossing direction.
func (e *Engine) updateLines(ctx context.Context, cam *cameraState, key frame.TrackKey, d *frame.Detection, ts time.Time) {
	for _, lb := range cam.lines {
		if !lb.accepts(d) {
			continue
		}
		ev, ok := lb.counter.Update(key, d.Box.FootPoint(), ts)
		if !ok {
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordCrossing(ev.Zone, ev.Direction.String(), ev.Counter, ev.OccupancyAfter)
		}
		e.log.Debug("Crossing counted",
			"line", ev.Zone,
			"track", key.String(),
			"direction", ev.Direction,
			"occupancy", ev.OccupancyAfter)
		e.sinks.OnCrossing(ctx, ev)
		e.sinks.OnOccupancy(ctx, &OccupancySample{Counter: ev.Counter, Count: ev.OccupancyAfter, Timestamp: ts})

		if cam.mode == attendanceCrossing && ev.Zone == cam.line {
			e.crossingAttendance(key, ev.Direction, ts)
		}
	}
}

// crossingAttendance maps a crossing on the attendance line to a check-in
// or checkout for the track's resolved identity. Without an identity there
// is nothing to record.
func (e *Engine) crossingAttendance(key frame.TrackKey, dir linecross.Direction, ts time.Time) {
	r, ok := e.identities.Get(key.String())
	if !ok || r.State != IdentityResolved {
		e.log.Debug("Crossing without resolved identity",
			"track", key.String(),
			"direction", dir)
		return
	}

	kind := attCheckIn
	if dir == linecross.Exit {
		kind = attCheckOut
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.dispatchCtx, e.pendingTimeout)
		defer cancel()
		e.runAttendance(ctx, kind, r.EmployeeID, ts)
	}()
}

// runAttendance fetches the employee's policy and applies the transition.
// Orphan checkouts are forwarded flagged rather than dropped.
func (e *Engine) runAttendance(ctx context.Context, kind attendanceEvent, employeeID string, ts time.Time) {
	policy := e.policyFor(ctx, employeeID)

	var tr attendance.Transition
	var err error
	switch kind {
	case attCheckIn:
		tr, err = e.tracker.CheckIn(employeeID, policy, ts)
	case attCheckOut:
		tr, err = e.tracker.CheckOut(employeeID, policy, ts)
	}
	if err != nil {
		switch {
		case errors.Is(err, attendance.ErrOrphanCheckout):
			e.log.Warn("Orphan checkout flagged for review",
				"employee_id", employeeID,
				"timestamp", ts)
			e.recordAttendance(&tr)
			e.sinks.OnAttendance(ctx, &tr)
		case errors.Is(err, attendance.ErrSessionClosed):
			e.log.Debug("Attendance transition on closed session",
				"employee_id", employeeID)
		default:
			e.log.Warn("Attendance transition failed",
				"employee_id", employeeID,
				"error", err)
		}
		return
	}
	e.recordAttendance(&tr)
	e.sinks.OnAttendance(ctx, &tr)
}

func (e *Engine) recordAttendance(tr *attendance.Transition) {
	if e.attMetrics == nil {
		return
	}
	e.attMetrics.RecordTransition(string(tr.Type), tr.Suppressed)
	e.attMetrics.UpdateOpenSessions(e.tracker.OpenSessions())
}

func (e *Engine) policyFor(ctx context.Context, employeeID string) shiftpolicy.ShiftPolicy {
	if e.policies != nil {
		p, err := e.policies.Policy(ctx, employeeID)
		if err == nil {
			return p
		}
		e.log.Warn("Shift policy lookup failed, using default policy",
			"employee_id", employeeID,
			"error", err)
	}
	return e.defaultPolicy
}

// CloseDay rolls attendance over for the date and forwards the rollover
// transitions to the sinks. Scheduling is the caller's concern.
func (e *Engine) CloseDay(ctx context.Context, date string, ts time.Time) []attendance.Transition {
	closed := e.tracker.CloseDay(date, ts)
	for i := range closed {
		e.recordAttendance(&closed[i])
		e.sinks.OnAttendance(ctx, &closed[i])
	}
	return closed
}

// EvictStale removes tracks silent for longer than the configured window,
// along with their trigger sessions, crossing state and cached results, and
// purges expired cache entries. Returns the number of evicted tracks.
func (e *Engine) EvictStale(now time.Time) int {
	cutoff := now.Add(-e.trackSilence)

	e.mu.Lock()
	var victims []frame.TrackKey
	for key, ent := range e.arena {
		if ent.lastSeen.Before(cutoff) {
			delete(e.arena, key)
			victims = append(victims, key)
		}
	}
	e.mu.Unlock()

	for _, key := range victims {
		if cam := e.cameras[key.CameraID]; cam != nil {
			for _, gb := range cam.gates {
				gb.trigger.RemoveTrack(key)
				e.visits.Delete(visitKey(key, gb.trigger.Name()))
			}
			for _, lb := range cam.lines {
				lb.counter.RemoveTrack(key)
			}
		}
		e.identities.Delete(key.String())
	}

	if len(victims) > 0 {
		e.evictions.Add(uint64(len(victims)))
		if e.metrics != nil {
			e.metrics.RecordEvictions(len(victims))
			e.mu.Lock()
			e.metrics.UpdateActiveTracks(len(e.arena))
			e.mu.Unlock()
		}
		e.log.Debug("Evicted silent tracks", "count", len(victims))
	}
	e.identities.PurgeExpired()
	e.visits.PurgeExpired()
	return len(victims)
}

// StartSweeper runs periodic eviction until ctx is canceled or the engine
// closes. Lazy expiry on read stays the correctness mechanism; the sweeper
// only reclaims memory for tracks nobody asks about anymore.
func (e *Engine) StartSweeper(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.sweepInterval)
		defer ticker.Stop()
		e.log.Info("Eviction sweeper started",
			"interval", e.sweepInterval,
			"track_silence", e.trackSilence)
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.dispatchCtx.Done():
				return
			case <-ticker.C:
				e.EvictStale(e.clock())
			}
		}
	}()
}

// Close stops background work and waits for in-flight dispatches.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
	e.log.Info("Correlation engine closed")
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	tracks := len(e.arena)
	e.mu.Unlock()

	ids := e.identities.Stats()
	budget := e.budget.Stats()

	occ := make(map[string]int, len(e.occupancies))
	for name, o := range e.occupancies {
		occ[name] = o.Count()
	}

	return Stats{
		Tracks:             tracks,
		IdentityHits:       ids.Hits,
		IdentityMisses:     ids.Misses,
		BudgetGranted:      budget.Granted,
		BudgetDenied:       budget.Denied,
		IdentityDeferrals:  e.identityDeferrals.Load(),
		GateDeferrals:      e.gateDeferrals.Load(),
		StaleResults:       e.staleResults.Load(),
		FramesProcessed:    e.frames.Load(),
		DetectionsDropped:  e.dropped.Load(),
		Evictions:          e.evictions.Load(),
		OccupancyByCounter: occ,
	}
}

func visitKey(key frame.TrackKey, zone string) string {
	return key.String() + "|" + zone
}

// setGateStatus keeps the most significant decision when a detection is
// evaluated against several zones.
func setGateStatus(res *TrackResult, status string) {
	if res.GateStatus == "" || res.GateStatus == "not_in_zone" {
		res.GateStatus = status
	}
}
