// Package supervisor wires every other package in this module together
// (spec.md §4.8): it owns configuration, instantiates the concrete
// Signer and Randomness Collector, drives the Scheduler loop, and
// notifies the external data-sync worker on release.
package supervisor

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
	"github.com/twine-protocol/beacon-in-a-box/internal/beaconerr"
	"github.com/twine-protocol/beacon-in-a-box/internal/bootstrap"
	"github.com/twine-protocol/beacon-in-a-box/internal/clock"
	"github.com/twine-protocol/beacon-in-a-box/internal/config"
	"github.com/twine-protocol/beacon-in-a-box/internal/metrics"
	"github.com/twine-protocol/beacon-in-a-box/internal/notify"
	"github.com/twine-protocol/beacon-in-a-box/internal/pulse"
	"github.com/twine-protocol/beacon-in-a-box/internal/randomness"
	"github.com/twine-protocol/beacon-in-a-box/internal/scheduler"
	"github.com/twine-protocol/beacon-in-a-box/internal/signer"
	"github.com/twine-protocol/beacon-in-a-box/internal/stitch"
	"github.com/twine-protocol/beacon-in-a-box/internal/store"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// Supervisor owns every long-lived component's lifecycle and the
// in-memory "current tip" cache (spec.md §3's ownership rule).
type Supervisor struct {
	cfg     *config.Config
	log     log.Logger
	metrics *metrics.Metrics

	store         *store.ChainStore
	signer        signer.Signer
	stitchWatcher *stitch.Watcher
	stitchFetcher *stitch.Fetcher
	notifier      *notify.Notifier
	pipeline      *pulse.Pipeline
	scheduler     *scheduler.Scheduler

	strand *types.Strand

	tipMu    sync.Mutex
	tipIndex uint64
	tipOK    bool
}

// New constructs every component from cfg and runs the Strand Bootstrapper
// (creating the strand or verifying the stored one). It does not start the
// scheduler loop; Run does that.
func New(cfg *config.Config, logger log.Logger, reg prometheus.Registerer) (*Supervisor, error) {
	m := metrics.New(reg)

	sg, err := buildSigner(cfg, logger)
	if err != nil {
		return nil, err
	}

	dbCfg := &store.Config{
		Adapter:  cfg.DBAdapter,
		Username: cfg.DBUsername,
		Password: cfg.DBPassword,
		Host:     cfg.DBHost,
		Database: cfg.DBDatabase,
	}
	if cfg.DBPort != 0 {
		dbCfg.Port = strconv.Itoa(cfg.DBPort)
	}
	if dbCfg.Database == "" && cfg.DBAdapter == "sqlite3" {
		dbCfg.Database = cfg.RngStoragePath + "/beacon.db"
	}
	st, err := store.Open(dbCfg, logger)
	if err != nil {
		return nil, err
	}

	primary, aux, err := buildRandomnessSources(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	stitchWatcher := stitch.NewWatcher(cfg.StitchConfigPath)
	stitchFetcher := stitch.NewFetcher(&http.Client{}, logger)

	s := &Supervisor{
		cfg:           cfg,
		log:           logger,
		metrics:       m,
		store:         st,
		signer:        sg,
		stitchWatcher: stitchWatcher,
		stitchFetcher: stitchFetcher,
		notifier:      notify.New(logger),
	}

	boot := bootstrap.New(st, sg, cfg.Period(), cfg.Lead(), primary, aux, logger)
	strand, err := boot.Ensure(context.Background(), cfg.StrandConfigPath, cfg.StrandJSONPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	s.strand = strand

	if idx, cid, ok, err := st.Tip(context.Background(), strand.StrandID); err == nil && ok {
		s.tipIndex, s.tipOK = idx, true
		m.CurrentTip.Set(float64(idx))
		_ = cid
	}

	assemblerCfg := pulse.Config{
		RandomnessRefillTimeout: cfg.Lead() / 2,
		StitchTimeout:           cfg.Lead() / 4,
		CommitRetryCap:          cfg.Lead() / 2,
		CommitMaxAttempts:       0,
	}
	asm := pulse.NewAssembler(assemblerCfg, st, sg, stitchFetcher, toPulseSource(primary), toPulseSources(aux), logger)
	s.pipeline = pulse.NewPipeline(asm, s.recordCommit, s.activeStitchEntries, logger)

	s.scheduler = scheduler.New(clock.NewSystem(), strand.GenesisTime, cfg.Period(), cfg.Lead(), s.checkTip, logger)

	return s, nil
}

func (s *Supervisor) recordCommit(index uint64, cid types.CID) {
	s.tipMu.Lock()
	s.tipIndex, s.tipOK = index, true
	s.tipMu.Unlock()
	s.metrics.CurrentTip.Set(float64(index))
	s.metrics.PulsesPublished.Inc()
}

func (s *Supervisor) checkTip() (uint64, bool) {
	s.tipMu.Lock()
	defer s.tipMu.Unlock()
	return s.tipIndex, s.tipOK
}

func (s *Supervisor) activeStitchEntries() []stitch.Entry {
	return s.stitchWatcher.Current().Active()
}

// Run drives the scheduler loop until ctx is canceled. A ChainViolation
// or Config error encountered mid-run is fatal and stops the loop
// immediately (spec.md §7); all other skip-classified errors are logged
// and the loop continues to the next slot.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatalErr error
	var pending pulse.Outcome

	s.scheduler.Run(runCtx,
		func(slot scheduler.Slot) {
			if err := s.stitchWatcher.Reload(); err != nil {
				s.log.Warn("stitch config reload failed, keeping previous snapshot", "err", err)
			}
			pending = s.pipeline.Prepare(runCtx, s.strand, slot)
			if pending.State == pulse.StateSkipped {
				kind, _ := beaconerr.GetKind(pending.Err)
				s.metrics.PulsesSkipped.WithLabelValues(string(kind)).Inc()
				if beaconerr.IsFatal(kind) {
					fatalErr = pending.Err
					cancel()
				}
			}
		},
		func(slot scheduler.Slot) {
			out := s.pipeline.Release(pending)
			if out.State != pulse.StateDone {
				return
			}
			s.notifier.Notify(s.cfg.NotifySocketPath, notify.Release{
				StrandID:  s.strand.StrandID,
				Index:     out.Tixel.Index,
				CID:       out.Tixel.CID,
				Timestamp: out.Tixel.Timestamp,
			})
		},
		func(slot scheduler.Slot) {
			s.log.Warn("slot skipped: previous index not yet committed", "index", slot.Index)
		},
	)
	s.pipeline.Shutdown()
	if err := s.store.Close(); err != nil {
		s.log.Warn("error closing store", "err", err)
	}
	return fatalErr
}

func buildSigner(cfg *config.Config, logger log.Logger) (signer.Signer, error) {
	if cfg.UsesHSM() {
		hsmCfg := signer.HsmConfig{
			Address:      cfg.HsmAddress,
			AuthKeyID:    cfg.HsmAuthKeyID,
			Password:     cfg.HsmPassword,
			SigningKeyID: cfg.HsmSigningKeyID,
		}
		return signer.NewHsm(context.Background(), hsmCfg, &http.Client{Timeout: 10 * time.Second}, logger)
	}
	return signer.LoadLocal(cfg.PrivateKeyPath, nil)
}

func toPulseSource(r bootstrap.RandomnessSource) *pulse.Source {
	return &pulse.Source{Buffer: r.Buffer, Collector: r.Collector}
}

func toPulseSources(aux []bootstrap.RandomnessSource) []*pulse.Source {
	out := make([]*pulse.Source, 0, len(aux))
	for _, a := range aux {
		out = append(out, toPulseSource(a))
	}
	return out
}

func buildRandomnessSources(cfg *config.Config, logger log.Logger) (bootstrap.RandomnessSource, []bootstrap.RandomnessSource, error) {
	primaryBuf, err := randomness.NewBuffer(cfg.RngStoragePath + "/primary")
	if err != nil {
		return bootstrap.RandomnessSource{}, nil, beaconerr.Wrap(err, beaconerr.KindConfig)
	}
	auxBuf, err := randomness.NewBuffer(cfg.RngStoragePath + "/aux")
	if err != nil {
		return bootstrap.RandomnessSource{}, nil, beaconerr.Wrap(err, beaconerr.KindConfig)
	}
	primary := bootstrap.RandomnessSource{Buffer: primaryBuf, Collector: randomness.NewCollector(cfg.RngScript, primaryBuf, logger)}
	aux := bootstrap.RandomnessSource{Buffer: auxBuf, Collector: randomness.NewCollector(cfg.AuxRngScript, auxBuf, logger)}
	return primary, []bootstrap.RandomnessSource{aux}, nil
}
