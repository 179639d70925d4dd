package risk

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/codes"

	"github.com/Muneeb-Masood/EC-ML/internal/config"
	"github.com/Muneeb-Masood/EC-ML/internal/decision"
	"github.com/Muneeb-Masood/EC-ML/internal/enrich"
	"github.com/Muneeb-Masood/EC-ML/internal/geo"
	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
	"github.com/Muneeb-Masood/EC-ML/internal/logging"
	"github.com/Muneeb-Masood/EC-ML/internal/login"
	"github.com/Muneeb-Masood/EC-ML/internal/metrics"
	"github.com/Muneeb-Masood/EC-ML/internal/ml"
	"github.com/Muneeb-Masood/EC-ML/internal/traces"
	"github.com/Muneeb-Masood/EC-ML/internal/withdrawal"
)

// Component names used in metrics, spans and logs.
const (
	ComponentML         = "ml"
	ComponentLogin      = "login"
	ComponentWithdrawal = "withdrawal"
	ComponentGeo        = "geo"
)

const auditTimeout = 5 * time.Second

// MLScorer produces the model bundle. *ml.Service implements it.
type MLScorer interface {
	Score(ctx context.Context, data map[string]jsonnum.Value) *ml.Score
}

// Locator resolves an IP address to coordinates. *enrich.Enricher implements it.
type Locator interface {
	Locate(ctx context.Context, ip string) (enrich.Location, error)
}

// Components are the scorers and the aggregator an Engine runs.
type Components struct {
	ML         MLScorer
	Login      *login.Scorer
	Withdrawal *withdrawal.Scorer
	Geo        *geo.Analyzer
	Aggregator *decision.Aggregator
}

// ComponentsFromConfig builds the scorers from the scoring parameters.
func ComponentsFromConfig(sc config.Scoring, model MLScorer, logger *slog.Logger) Components {
	return Components{
		ML:         model,
		Login:      login.NewScorer(sc.Login, logger),
		Withdrawal: withdrawal.NewScorer(sc.Withdrawal, logger),
		Geo:        geo.NewAnalyzer(sc.Geo, logger),
		Aggregator: decision.NewAggregator(sc.Thresholds, sc.MissingSignalPolicy, logger),
	}
}

// Engine runs the scorers for a request and merges their bundles.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	c         Components
	store     Store
	locator   Locator
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	pending   sync.WaitGroup
}

// NewEngine creates an engine backed by the given audit store. A nil store
// disables the audit trail.
func NewEngine(c Components, store Store, logger *slog.Logger) *Engine {
	if c.ML == nil {
		c.ML = ml.NewService(nil, ml.DefaultConfig(), logger)
	}
	return &Engine{
		c:      c,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithLocator enables IP based location enrichment.
func (e *Engine) WithLocator(l Locator) *Engine {
	e.locator = l
	return e
}

// WithPublisher forwards every verdict to p.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

// Store returns the audit store, or nil.
func (e *Engine) Store() Store {
	return e.store
}

// results holds one slot per component. Each goroutine writes only its own
// slot and the aggregator reads them after Wait, so no lock is needed.
type results struct {
	ml         *ml.Score
	login      *login.Scores
	withdrawal *withdrawal.Scores
	geo        *geo.Report
}

// Evaluate scores req and returns its verdict. It does not fail: component
// problems are reported inside their bundles and the decision fails open.
func (e *Engine) Evaluate(ctx context.Context, req *TransactionRequest, source Source) *Verdict {
	ctx = logging.WithTransactionID(ctx, req.TransactionID)
	ctx, span := traces.StartSpan(ctx, "risk.evaluate",
		traces.TransactionID(req.TransactionID),
		traces.TransactionType(req.TransactionType),
	)
	defer span.End()

	var lc login.Context
	if req.LoginData != nil {
		lc = *req.LoginData
	}
	lc.Session = e.enrich(ctx, lc.Session)

	var wc *withdrawal.Context
	if req.TransactionType == TypeWithdrawal {
		wc = req.WithdrawalData
	}

	var res results
	var wg sync.WaitGroup
	e.spawn(ctx, &wg, ComponentML, func(ctx context.Context) bool {
		res.ml = e.c.ML.Score(ctx, req.TransactionData)
		return res.ml.Probability == nil && res.ml.Error != ml.ErrDisabled.Error()
	}, func(msg string) { res.ml = &ml.Score{Error: msg} })
	e.spawn(ctx, &wg, ComponentLogin, func(ctx context.Context) bool {
		res.login = e.c.Login.Score(ctx, lc)
		return res.login.Failed()
	}, func(msg string) { res.login = &login.Scores{Error: msg} })
	e.spawn(ctx, &wg, ComponentWithdrawal, func(ctx context.Context) bool {
		res.withdrawal = e.c.Withdrawal.Score(ctx, wc)
		return res.withdrawal.Failed()
	}, func(msg string) { res.withdrawal = &withdrawal.Scores{Applicable: wc != nil, Error: msg} })
	e.spawn(ctx, &wg, ComponentGeo, func(ctx context.Context) bool {
		res.geo = e.c.Geo.Analyze(ctx, lc.Session.Location(), req.GeoHistory)
		return res.geo.Failed()
	}, func(msg string) { res.geo = &geo.Report{Error: msg} })
	wg.Wait()

	d := e.c.Aggregator.Decide(decision.Inputs{
		MLScore:    res.ml.Probability,
		Clusters:   res.geo,
		Login:      res.login,
		Withdrawal: res.withdrawal,
	})

	v := &Verdict{
		ID:              newVerdictID(),
		TransactionID:   req.TransactionID,
		UserID:          req.UserID,
		TransactionType: req.TransactionType,
		ML:              res.ml,
		Clusters:        res.geo,
		Login:           res.login,
		Withdrawal:      res.withdrawal,
		Decision:        d,
		Source:          source,
		EvaluatedAt:     e.now().UTC(),
	}

	e.observe(v)
	span.SetAttributes(traces.Blocked(d.Block))
	logging.L(ctx).Info("verdict issued",
		"block", d.Block,
		"reasons", len(d.Reasons),
		"source", string(source),
	)

	e.record(ctx, v)
	e.publish(ctx, v)
	return v
}

// spawn runs one scorer in its own goroutine. score reports whether the
// bundle it produced carries an error; onPanic stores a replacement bundle.
func (e *Engine) spawn(ctx context.Context, wg *sync.WaitGroup, component string,
	score func(context.Context) bool, onPanic func(msg string)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, span := traces.StartSpan(ctx, "risk.score."+component, traces.Component(component))
		defer span.End()
		timer := prometheus.NewTimer(metrics.ScorerDuration.WithLabelValues(component))
		defer timer.ObserveDuration()

		defer func() {
			if r := recover(); r != nil {
				logging.L(ctx).Error("scorer panicked",
					"component", component,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				onPanic(fmt.Sprintf("%s scoring failed: %v", component, r))
				metrics.ScorerErrorsTotal.WithLabelValues(component).Inc()
				span.SetStatus(codes.Error, "panic")
			}
		}()

		if failed := score(ctx); failed {
			metrics.ScorerErrorsTotal.WithLabelValues(component).Inc()
			span.SetStatus(codes.Error, component+" bundle carries an error")
		}
	}()
}

// enrich fills missing session coordinates from the session IP address.
func (e *Engine) enrich(ctx context.Context, s login.Session) login.Session {
	if e.locator == nil || s.HasLocation() || s.IPAddress == "" {
		return s
	}
	loc, err := e.locator.Locate(ctx, s.IPAddress)
	if err != nil {
		logging.L(ctx).Warn("session location enrichment failed", "error", err)
		return s
	}
	s.Latitude = jsonnum.Float(loc.Latitude)
	s.Longitude = jsonnum.Float(loc.Longitude)
	return s
}

func (e *Engine) observe(v *Verdict) {
	outcome := "allowed"
	switch {
	case v.Decision.Failed():
		outcome = "failed_open"
	case v.Decision.Block:
		outcome = "blocked"
	}
	metrics.VerdictsTotal.WithLabelValues(outcome, string(v.Source)).Inc()

	if !v.Decision.Failed() {
		for _, r := range v.Decision.Reasons {
			metrics.BlockReasonsTotal.WithLabelValues(r.Rule).Inc()
		}
	}
	if !v.Clusters.Failed() {
		metrics.ClustersPerRequest.Observe(float64(v.Clusters.ClustersIdentified))
	}
}

// record persists the verdict in the background (best-effort audit trail).
func (e *Engine) record(ctx context.Context, v *Verdict) {
	if e.store == nil {
		return
	}
	rec, err := v.AuditRecord()
	if err != nil {
		metrics.AuditWritesTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("verdict audit encoding failed", "error", err)
		return
	}

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()
		if err := e.store.Record(ctx, rec); err != nil {
			metrics.AuditWritesTotal.WithLabelValues("error").Inc()
			logging.L(ctx).Error("verdict audit write failed", "error", err)
			return
		}
		metrics.AuditWritesTotal.WithLabelValues("ok").Inc()
	}()
}

func (e *Engine) publish(ctx context.Context, v *Verdict) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, v); err != nil {
		logging.L(ctx).Warn("verdict publish failed", "error", err)
	}
}

// Drain waits for in-flight audit writes.
func (e *Engine) Drain() {
	e.pending.Wait()
}
