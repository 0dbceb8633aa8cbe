package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AuthMetricsOptions configures the authentication log collectors.
type AuthMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// AuthMetrics counts logged authentication attempts and ended sessions.
type AuthMetrics struct {
	attempts      *prometheus.CounterVec
	sessionsEnded prometheus.Counter
}

// NewAuthMetrics constructs the collectors and registers them with the supplied registerer.
func NewAuthMetrics(opts AuthMetricsOptions) (*AuthMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "biometric"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_attempts_total",
		Help:      "Total number of logged authentication attempts partitioned by auth type and outcome.",
	}, []string{"auth_type", "outcome"})

	if err := reg.Register(attempts); err != nil {
		existing, regErr := reuseCollector[*prometheus.CounterVec](err)
		if regErr != nil {
			return nil, fmt.Errorf("register auth attempts collector: %w", regErr)
		}
		attempts = existing
	}

	sessionsEnded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_ended_total",
		Help:      "Total number of authentication log entries whose session was ended.",
	})

	if err := reg.Register(sessionsEnded); err != nil {
		existing, regErr := reuseCollector[prometheus.Counter](err)
		if regErr != nil {
			return nil, fmt.Errorf("register sessions ended collector: %w", regErr)
		}
		sessionsEnded = existing
	}

	return &AuthMetrics{attempts: attempts, sessionsEnded: sessionsEnded}, nil
}

func reuseCollector[T prometheus.Collector](err error) (T, error) {
	var zero T
	already, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		return zero, err
	}
	existing, ok := already.ExistingCollector.(T)
	if !ok {
		return zero, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
	}
	return existing, nil
}

// ObserveAttempt records one logged attempt.
func (m *AuthMetrics) ObserveAttempt(authType string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.attempts.WithLabelValues(authType, outcome).Inc()
}

// ObserveSessionsEnded records entries closed by an end-session call.
func (m *AuthMetrics) ObserveSessionsEnded(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sessionsEnded.Add(float64(count))
}
