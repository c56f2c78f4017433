// Command decisioncore runs a bank of simulated pair-trading slots end to
// end: each slot owns a PairModel instance, a PositionLedger, and its own
// BOCPD/Kelly/throughput/survival models, fed by a synthetic random event
// stream. It exercises the full decision-core stack concurrently: config
// load, validate, logger, goroutine-per-slot, signal handling, graceful
// shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/robjohncolson/decisioncore/internal/bocpd"
	"github.com/robjohncolson/decisioncore/internal/config"
	"github.com/robjohncolson/decisioncore/internal/kelly"
	"github.com/robjohncolson/decisioncore/internal/ledger"
	"github.com/robjohncolson/decisioncore/internal/ledgerstore"
	"github.com/robjohncolson/decisioncore/internal/metrics"
	"github.com/robjohncolson/decisioncore/internal/pairmodel"
	"github.com/robjohncolson/decisioncore/internal/survival"
	"github.com/robjohncolson/decisioncore/internal/throughput"
	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	numSlots := flag.Int("slots", 4, "number of simulated pair-trading slots to run concurrently")
	steps := flag.Int("steps", 2000, "random-exploration steps per slot")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	flag.Parse()

	cfg, err := loadConfigOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info("decisioncore starting", "slots", *numSlots, "steps", *steps)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store, err := ledgerstore.Open(cfg.Store.SQLitePath)
	if err != nil {
		logger.Error("ledgerstore open failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go serveMetrics(ctx, logger, *metricsAddr, reg)

	g, gctx := errgroup.WithContext(ctx)
	for slotID := 0; slotID < *numSlots; slotID++ {
		slotID := slotID
		g.Go(func() error {
			return runSlot(gctx, slotID, *steps, *cfg, logger, m, store)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("slot run failed", "err", err)
		os.Exit(1)
	}
	logger.Info("decisioncore shut down cleanly")
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			def := config.Default()
			return &def, nil
		}
		return nil, statErr
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch config.ParseLogLevel(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "err", err)
	}
}

// slotState bundles the PairModel instance with its supporting ledger and
// statistical models — one per simulated trading slot.
type slotState struct {
	id     int
	log    *slog.Logger
	cfg    pairmodel.ModelConfig
	ledger *ledger.Ledger

	detector *bocpd.Detector
	sizer    *kelly.Sizer
	tp       *throughput.Sizer
	surv     *survival.Model

	cyclesObserved int // cursor into state.CompletedCycles already fed to CycleDurationSeconds

	openPositions map[pairtypes.TradeID]int // leg -> ledger position id currently open for that leg
}

func newSlot(id int, cfg config.Config, logger *slog.Logger) *slotState {
	return &slotState{
		id:  id,
		log: logger.With("slot", id),
		cfg: modelConfigFrom(cfg.Model),

		ledger: ledger.New(cfg.Ledger.Enabled, cfg.Ledger.JournalLocalLimit),

		detector: bocpd.New(bocpdConfigFrom(cfg.Bocpd)),
		sizer:    kelly.New(kellyConfigFrom(cfg.Kelly)),
		tp:       throughput.New(throughputConfigFrom(cfg.Throughput)),
		surv:     survival.New(survivalConfigFrom(cfg.Survival)),

		openPositions: make(map[pairtypes.TradeID]int),
	}
}

// runSlot drives one simulated trading slot end to end for the
// configured number of random-exploration steps, logging a correlation
// id per run and surfacing invariant violations and sizing decisions as
// structured log lines and metrics observations.
func runSlot(ctx context.Context, slotID, steps int, cfg config.Config, logger *slog.Logger, m *metrics.Registry, store *ledgerstore.Store) error {
	slot := newSlot(slotID, cfg, logger)
	runID := uuid.New().String()
	slot.log.Info("slot starting", "run_id", runID)

	rng := rand.New(rand.NewSource(int64(slotID) + 1))
	snapPath := filepath.Join(cfg.Store.DataDir, fmt.Sprintf("slot_%d_snapshot.json", slotID))
	state := restoreSlot(slot, snapPath)

	chunk := 50
	done := 0
	for done < steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n := chunk
		if steps-done < n {
			n = steps - done
		}
		var sweepActions []pairmodel.Action
		state, sweepActions = priceSweepStep(state, slot.cfg, rng, state.Now+1+rng.Float64()*5)
		applyActions(slot, state, sweepActions)

		var violations []string
		var acts []pairmodel.Action
		state, violations, acts = pairmodel.ExploreRandom(rng, state, slot.cfg, n)
		done += n

		applyActions(slot, state, acts)

		for _, v := range violations {
			m.InvariantViolations.WithLabelValues(v).Inc()
			slot.log.Warn("invariant violation", "detail", v)
		}
		m.TransitionsTotal.WithLabelValues("explore_chunk").Add(float64(n))

		snap := pairmodel.Predict(state)
		slot.detector.Update([]float64{snap.MarketPrice}, float64(done))
		bstate := slot.detector.State()
		m.BocpdChangeProb.WithLabelValues(fmt.Sprint(slotID)).Set(bstate.ChangeProb)
		m.ObserveAlert(fmt.Sprint(slotID), bstate.AlertActive)

		if snap.CompletedCycleCount > 0 {
			m.JournalRows.WithLabelValues(fmt.Sprint(slotID)).Set(float64(len(slot.ledger.GetJournal(nil))))
			refitSizers(slot, state, m)
		}
	}

	for _, pos := range slot.ledger.GetOpenPositions(&slotID) {
		if err := store.SavePosition(pos); err != nil {
			slot.log.Warn("persist position failed", "position_id", pos.PositionID, "err", err)
		}
	}
	for _, row := range slot.ledger.GetJournal(nil) {
		if err := store.AppendJournal(slotID, row); err != nil {
			slot.log.Warn("persist journal row failed", "journal_id", row.JournalID, "err", err)
		}
	}

	persistSlot(slot, snapPath, state)

	slot.log.Info("slot finished", "completed_cycles", pairmodel.Predict(state).CompletedCycleCount)
	return nil
}

// slotSnapshot bundles every component's persisted state for one slot, so
// a restarted process resumes where the previous run stopped.
type slotSnapshot struct {
	Pair     pairmodel.StateSnapshot `json:"pair"`
	Ledger   ledger.Snapshot         `json:"ledger"`
	Bocpd    bocpd.Snapshot          `json:"bocpd"`
	Kelly    kelly.Snapshot          `json:"kelly"`
	Tp       throughput.Snapshot     `json:"throughput"`
	Survival survival.Snapshot       `json:"survival"`
}

// restoreSlot loads the slot's snapshot file if one exists, feeding each
// component its persisted block; otherwise it starts the slot fresh from
// an initial S0 state.
func restoreSlot(slot *slotState, path string) pairmodel.PairState {
	var snap slotSnapshot
	if err := ledgerstore.ReadSnapshot(path, &snap); err != nil {
		state, _ := pairmodel.MakeInitialState(slot.cfg, syntheticMarketPrice(slot.id), 0)
		return state
	}
	slot.ledger.Restore(snap.Ledger)
	slot.detector.Restore(snap.Bocpd)
	slot.sizer.Restore(snap.Kelly)
	slot.tp.Restore(snap.Tp)
	slot.surv.Restore(snap.Survival)
	state := pairmodel.RestoreState(snap.Pair, slot.cfg)
	if len(state.Orders) == 0 {
		state, _ = pairmodel.MakeInitialState(slot.cfg, syntheticMarketPrice(slot.id), state.Now)
	}
	slot.log.Info("restored slot snapshot", "path", path)
	return state
}

// persistSlot writes the slot's full component state to its snapshot file.
func persistSlot(slot *slotState, path string, state pairmodel.PairState) {
	snap := slotSnapshot{
		Pair:     pairmodel.SnapshotState(state),
		Ledger:   slot.ledger.Snapshot(),
		Bocpd:    slot.detector.Snapshot(),
		Kelly:    slot.sizer.Snapshot(),
		Tp:       slot.tp.Snapshot(),
		Survival: slot.surv.Snapshot(),
	}
	if err := ledgerstore.WriteSnapshot(path, snap); err != nil {
		slot.log.Warn("write slot snapshot failed", "path", path, "err", err)
	}
}

// priceSweepStep drives one price-path tick through the book: it moves the
// market price, then uses GenerateFills to derive exactly the fills that
// price crossing resting orders implies, feeding each back through
// Transition in turn. Distinct from ExploreRandom's fuzzer, which fills
// arbitrary resting orders regardless of price.
func priceSweepStep(state pairmodel.PairState, cfg pairmodel.ModelConfig, rng *rand.Rand, now float64) (pairmodel.PairState, []pairmodel.Action) {
	m := state.MarketPrice.Float64()
	if m <= 0 {
		m = 0.10
	}
	drift := (rng.Float64() - 0.5) * 0.02 * m
	newPrice := m + drift

	var actions []pairmodel.Action
	state, acts := pairmodel.Transition(state, pairmodel.PriceTick{Price: newPrice, Now: now}, cfg)
	actions = append(actions, acts...)

	for _, fill := range pairmodel.GenerateFills(state, newPrice, now) {
		state, acts = pairmodel.Transition(state, fill, cfg)
		actions = append(actions, acts...)
	}
	return state, actions
}

// applyActions replays a chunk of Transition's emitted actions against the
// slot's ledger, since the transition function itself never touches the
// ledger — PlaceOrder actions for a freshly filled entry's exit leg open a
// position, BookProfit closes it, OrphanExit journals the recovery-list
// park, and RepriceExit mutates the live exit price. Positions are tracked
// per leg (slot.openPositions) since a leg never holds more than one open
// position's worth of exit bookkeeping at a time.
func applyActions(slot *slotState, state pairmodel.PairState, actions []pairmodel.Action) {
	for _, a := range actions {
		switch act := a.(type) {
		case pairmodel.PlaceOrder:
			o := act.Order
			if o.Role != pairtypes.RoleExit {
				continue
			}
			entryCost := o.MatchedEntryPrice.Float64() * o.Volume.Float64()
			entry := ledger.EntryData{
				EntryPrice:  o.MatchedEntryPrice.Float64(),
				EntryCost:   entryCost,
				EntryFee:    (slot.cfg.MakerFeePct / 100) * entryCost,
				EntryVolume: o.Volume.Float64(),
				EntryTime:   o.EntryFilledAt,
			}
			exit := ledger.ExitData{
				CurrentExitPrice:  o.Price.Float64(),
				OriginalExitPrice: o.Price.Float64(),
			}
			pid, err := slot.ledger.OpenPosition(slot.id, o.TradeID, pairtypes.SlotSticky, o.Cycle, entry, exit)
			if err != nil {
				slot.log.Warn("open position failed", "trade_id", o.TradeID, "err", err)
				continue
			}
			if pid != 0 {
				slot.openPositions[o.TradeID] = pid
			}
		case pairmodel.BookProfit:
			pid, ok := slot.openPositions[act.Cycle.TradeID]
			if !ok {
				continue
			}
			err := slot.ledger.ClosePosition(pid, ledger.OutcomeData{
				CloseReason: "filled",
				ExitPrice:   act.Cycle.ExitPrice.Float64(),
				ExitCost:    act.Cycle.ExitPrice.Float64() * act.Cycle.Volume.Float64(),
				ExitFee:     act.Cycle.Fees.Float64(),
				ExitTime:    act.Cycle.ExitTime,
				ExitRegime:  act.Cycle.Regime.Label(),
				NetProfit:   act.Cycle.Net.Float64(),
			})
			if err != nil {
				slot.log.Warn("close position failed", "position_id", pid, "err", err)
			}
			delete(slot.openPositions, act.Cycle.TradeID)
		case pairmodel.OrphanExit:
			pid, ok := slot.openPositions[act.Order.TradeID]
			if !ok {
				continue
			}
			if _, err := slot.ledger.JournalEvent(pid, "orphaned", map[string]interface{}{
				"reason": string(act.Reason),
			}, state.Now); err != nil {
				slot.log.Warn("journal orphan failed", "position_id", pid, "err", err)
			}
		case pairmodel.RepriceExit:
			pid, ok := slot.openPositions[act.TradeID]
			if !ok {
				continue
			}
			if err := slot.ledger.RepricePosition(pid, ledger.RepriceOptions{
				NewExitPrice: act.NewPrice,
				Reason:       act.Reason,
				Timestamp:    state.Now,
			}); err != nil {
				slot.log.Warn("reprice position failed", "position_id", pid, "err", err)
			}
		}
	}
}

// refitSizers refits the Kelly and throughput sizers from the slot's
// completed-cycle history and open exits, then publishes the multipliers
// a slot's next entry placement would actually consult.
func refitSizers(slot *slotState, state pairmodel.PairState, m *metrics.Registry) {
	slotLabel := fmt.Sprint(slot.id)
	regimeLabel := "ranging"
	if n := len(state.CompletedCycles); n > 0 {
		regimeLabel = state.CompletedCycles[n-1].Regime.Label()
	}

	kellyCycles := make([]kelly.Cycle, 0, len(state.CompletedCycles))
	tpCycles := make([]throughput.CompletedCycle, 0, len(state.CompletedCycles))
	survObs := make([]survival.Observation, 0, len(state.CompletedCycles))
	for _, c := range state.CompletedCycles {
		regimeLabel := c.Regime.Label()
		kellyCycles = append(kellyCycles, kelly.Cycle{
			ProfitUSD:   c.Net.Float64(),
			ExitTime:    c.ExitTime,
			RegimeLabel: regimeLabel,
		})
		tpCycles = append(tpCycles, throughput.CompletedCycle{
			EntryTime:   c.EntryTime,
			ExitTime:    c.ExitTime,
			ProfitUSD:   c.Net.Float64(),
			RegimeLabel: regimeLabel,
			Side:        string(c.TradeID),
		})
		survObs = append(survObs, survival.Observation{
			DurationSec:   c.DurationSec(),
			Censored:      false,
			RegimeAtEntry: regimeLabel,
			Side:          string(c.TradeID),
		})
	}

	var openExits []throughput.OpenExit
	for _, o := range state.Orders {
		if o.Role != pairtypes.RoleExit {
			continue
		}
		age := state.Now - o.EntryFilledAt
		openExits = append(openExits, throughput.OpenExit{
			EntryFilledAt: o.EntryFilledAt,
			AgeSec:        age,
			RegimeLabel:   regimeLabel,
			Side:          string(o.TradeID),
		})
		survObs = append(survObs, survival.Observation{
			DurationSec:   age,
			Censored:      true,
			RegimeAtEntry: regimeLabel,
			Side:          string(o.TradeID),
		})
	}

	slot.sizer.Update(kellyCycles)
	_, kellyReason := slot.sizer.SizeForSlot(slot.cfg.OrderSizeUSD, regimeLabel)
	if res, ok := slot.sizer.StatusPayload()[regimeLabel]; ok {
		m.KellyMultiplier.WithLabelValues(slotLabel, regimeLabel).Set(res.Multiplier)
	}
	slot.log.Debug("kelly refit", "reason", kellyReason)

	refAge := throughput.ReferenceAge(ageSeconds(openExits))
	slot.tp.Update(tpCycles, openExits, state.Now)
	_, tpRes := slot.tp.SizeForSlot(slot.cfg.OrderSizeUSD, regimeLabel, "A", 0, 1, refAge)
	m.ThroughputMultiplier.WithLabelValues(slotLabel, tpRes.BucketKey).Set(tpRes.FinalMult)

	slot.surv.Fit(survObs, nil)
	pred := slot.surv.Predict(survival.Observation{RegimeAtEntry: regimeLabel, Side: "A"})
	m.SurvivalPFill1h.WithLabelValues(slotLabel).Set(pred.PFill1h)

	for _, c := range state.CompletedCycles[slot.cyclesObserved:] {
		m.CycleDurationSeconds.WithLabelValues(slotLabel).Observe(c.DurationSec())
	}
	slot.cyclesObserved = len(state.CompletedCycles)
}

// ageSeconds extracts the age column from a set of open exits.
func ageSeconds(open []throughput.OpenExit) []float64 {
	ages := make([]float64, len(open))
	for i, o := range open {
		ages[i] = o.AgeSec
	}
	return ages
}

func syntheticMarketPrice(slotID int) float64 {
	return 0.10 + 0.01*float64(slotID%5)
}

func modelConfigFrom(c config.ModelConfig) pairmodel.ModelConfig {
	return pairmodel.ModelConfig{
		EntryPct:                c.EntryPct,
		ProfitPct:               c.ProfitPct,
		RefreshPct:              c.RefreshPct,
		DirectionalAsymmetry:    c.DirectionalAsymmetry,
		FeeMargin:               c.FeeMargin,
		MakerFeePct:             c.MakerFeePct,
		PriceDecimals:           c.PriceDecimals,
		VolumeDecimals:          c.VolumeDecimals,
		OrderSizeUSD:            c.OrderSizeUSD,
		MinVolume:               c.MinVolume,
		BackoffEnabled:          c.BackoffEnabled,
		BackoffFactor:           c.BackoffFactor,
		BackoffMaxMultiplier:    c.BackoffMaxMultiplier,
		MinCyclesForTiming:      c.MinCyclesForTiming,
		RecoveryFallbackSec:     c.RecoveryFallbackSec,
		ExitRepriceMult:         c.ExitRepriceMult,
		ExitOrphanMult:          c.ExitOrphanMult,
		RepriceCooldownSec:      c.RepriceCooldownSec,
		MaxRecoverySlots:        c.MaxRecoverySlots,
		MaxConsecutiveRefreshes: c.MaxConsecutiveRefreshes,
		RefreshCooldownSec:      c.RefreshCooldownSec,
		S2MaxSpreadPct:          c.S2MaxSpreadPct,
		S2FallbackSec:           c.S2FallbackSec,
		S2CooldownSec:           c.S2CooldownSec,
		PriceStalenessLimit:     c.PriceStalenessLimit,
		LongOnly:                c.LongOnly,
	}
}

func bocpdConfigFrom(c config.BocpdConfig) bocpd.Config {
	return bocpd.Config{
		ExpectedRunLength: c.ExpectedRunLength,
		MaxRunLength:      c.MaxRunLength,
		AlertThreshold:    c.AlertThreshold,
		UrgentThreshold:   c.UrgentThreshold,
		PriorMu:           c.PriorMu,
		PriorKappa:        c.PriorKappa,
		PriorAlpha:        c.PriorAlpha,
		PriorBeta:         c.PriorBeta,
	}
}

func kellyConfigFrom(c config.KellyConfig) kelly.Config {
	return kelly.Config{
		KellyFraction:         c.KellyFraction,
		MinSamplesTotal:       c.MinSamplesTotal,
		MinSamplesPerRegime:   c.MinSamplesPerRegime,
		LookbackCycles:        c.LookbackCycles,
		KellyFloorMult:        c.KellyFloorMult,
		KellyCeilingMult:      c.KellyCeilingMult,
		NegativeEdgeMult:      c.NegativeEdgeMult,
		UseRecencyWeighting:   c.UseRecencyWeighting,
		RecencyHalflifeCycles: c.RecencyHalflifeCycle,
		LogKellyUpdates:       c.LogKellyUpdates,
	}
}

func throughputConfigFrom(c config.ThroughputConfig) throughput.Config {
	return throughput.Config{
		Enabled:                c.Enabled,
		LookbackCycles:         c.LookbackCycles,
		MinSamples:             c.MinSamples,
		MinSamplesPerBucket:    c.MinSamplesPerBucket,
		FullConfidenceSamples:  c.FullConfidenceSamples,
		FloorMult:              c.FloorMult,
		CeilingMult:            c.CeilingMult,
		CensoredWeight:         c.CensoredWeight,
		AgePressureTrigger:     c.AgePressureTrigger,
		AgePressureSensitivity: c.AgePressureSensitivity,
		AgePressureFloor:       c.AgePressureFloor,
		UtilThreshold:          c.UtilThreshold,
		UtilSensitivity:        c.UtilSensitivity,
		UtilFloor:              c.UtilFloor,
		RecencyHalflife:        c.RecencyHalflife,
		LogUpdates:             c.LogUpdates,
	}
}

func survivalConfigFrom(c config.SurvivalConfig) survival.Config {
	return survival.Config{
		MinObservations: c.MinObservations,
		MinPerStratum:   c.MinPerStratum,
		SyntheticWeight: c.SyntheticWeight,
		Horizons:        c.Horizons,
		ModelTier:       c.ModelTier,
	}
}
