package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/event"
)

const namespace = "novatest"

// Metrics counts business events seen on the bus.
type Metrics struct {
	tokensDebited   prometheus.Counter
	tokensCredited  prometheus.Counter
	logins          *prometheus.CounterVec
	testsCompleted  *prometheus.CounterVec
	tokensGranted   prometheus.Counter
	reportFallbacks prometheus.Counter
	foodScans       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensDebited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_debited_total",
			Help:      "Tokens removed from visitor balances.",
		}),
		tokensCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_credited_total",
			Help:      "Tokens added to visitor balances.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Simulated logins by role.",
		}, []string{"role"}),
		testsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_completed_total",
			Help:      "First completions of a test.",
		}, []string{"test"}),
		tokensGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_granted_total",
			Help:      "Tokens granted by agents.",
		}),
		reportFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_fallbacks_total",
			Help:      "Reports replaced by the fallback report.",
		}),
		foodScans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "food_scans_total",
			Help:      "Successful paid food scans.",
		}),
	}

	reg.MustRegister(
		m.tokensDebited,
		m.tokensCredited,
		m.logins,
		m.testsCompleted,
		m.tokensGranted,
		m.reportFallbacks,
		m.foodScans,
	)

	return m
}

// Subscribe makes m observe the events of eb.
func (m *Metrics) Subscribe(eb *event.Bus) {
	eb.Subscribe(domain.EventNameBalanceChanged, func(_ context.Context, e event.Event) error {
		d := e.(domain.EventBalanceChanged).Delta
		switch {
		case d < 0:
			m.tokensDebited.Add(float64(-d))
		case d > 0:
			m.tokensCredited.Add(float64(d))
		}
		return nil
	})

	eb.Subscribe(domain.EventNameLoggedIn, func(_ context.Context, e event.Event) error {
		m.logins.WithLabelValues(string(e.(domain.EventLoggedIn).User.Role)).Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameTestCompleted, func(_ context.Context, e event.Event) error {
		m.testsCompleted.WithLabelValues(e.(domain.EventTestCompleted).TestID).Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameTokensGranted, func(_ context.Context, e event.Event) error {
		m.tokensGranted.Add(float64(e.(domain.EventTokensGranted).Amount))
		return nil
	})

	eb.Subscribe(domain.EventNameReportFallback, func(context.Context, event.Event) error {
		m.reportFallbacks.Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameFoodScanned, func(context.Context, event.Event) error {
		m.foodScans.Inc()
		return nil
	})
}
