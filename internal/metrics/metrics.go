// Package metrics exports match counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bombarena.ai/internal/lifecycle"
	"bombarena.ai/internal/match"
)

type Metrics struct {
	reg *prometheus.Registry

	ticks      *prometheus.CounterVec
	tickTime   *prometheus.HistogramVec
	turns      *prometheus.CounterVec
	turnFuel   prometheus.Histogram
	turnTime   prometheus.Histogram
	lifecycle  *prometheus.CounterVec
	bans       *prometheus.CounterVec
	kills      prometheus.Counter
	explosions prometheus.Counter
	rounds     prometheus.Counter
	agents     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_ticks_total",
			Help: "Ticks stepped, by phase.",
		}, []string{"phase"}),
		tickTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arena_tick_seconds",
			Help:    "Wall time spent stepping one tick.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"phase"}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_turns_total",
			Help: "Agent turns, by last turn result.",
		}, []string{"result"}),
		turnFuel: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_turn_fuel",
			Help:    "Fuel consumed by one decision call.",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 10),
		}),
		turnTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_turn_seconds",
			Help:    "Wall time of one decision call.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		lifecycle: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_lifecycle_events_total",
			Help: "Lifecycle events, by kind.",
		}, []string{"kind"}),
		bans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_bans_total",
			Help: "Modules banned, by reason code.",
		}, []string{"code"}),
		kills: f.NewCounter(prometheus.CounterOpts{
			Name: "arena_kills_total",
			Help: "Agents caught in explosions.",
		}),
		explosions: f.NewCounter(prometheus.CounterOpts{
			Name: "arena_explosions_total",
			Help: "Bombs that went off.",
		}),
		rounds: f.NewCounter(prometheus.CounterOpts{
			Name: "arena_rounds_total",
			Help: "Rounds completed.",
		}),
		agents: f.NewGauge(prometheus.GaugeOpts{
			Name: "arena_live_agents",
			Help: "Agents that took a turn on the last player tick.",
		}),
	}
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(e match.TickEntry) {
	phase := string(e.Phase)
	m.ticks.WithLabelValues(phase).Inc()
	m.tickTime.WithLabelValues(phase).Observe(e.Elapsed.Seconds())

	if e.Phase == match.PhasePlayer {
		m.agents.Set(float64(len(e.Turns)))
	}
	for _, r := range e.Turns {
		m.turns.WithLabelValues(r.Result.String()).Inc()
		m.turnFuel.Observe(float64(r.Fuel))
		m.turnTime.Observe(r.Elapsed.Seconds())
	}
	for _, ev := range e.Events {
		m.lifecycle.WithLabelValues(string(ev.Kind)).Inc()
		if ev.Kind == lifecycle.EventBan {
			m.bans.WithLabelValues(ev.Code).Inc()
		}
	}
	m.kills.Add(float64(len(e.Kills)))
	m.explosions.Add(float64(len(e.Exploded)))
}

func (m *Metrics) ObserveRound(match.RoundResult) { m.rounds.Inc() }

// RegisterGaugeFunc adds a gauge sampled at scrape time.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}
