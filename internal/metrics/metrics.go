package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionsStarted counts sessions opened.
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_started_total",
		Help: "Number of check-in sessions started.",
	})

	// SessionsEnded counts sessions ended, explicitly or by the sweep.
	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_sessions_ended_total",
		Help: "Number of check-in sessions ended.",
	}, []string{"cause"})

	// Rotations counts credential rotations that took effect.
	Rotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_credential_rotations_total",
		Help: "Number of QR credential rotations.",
	})

	// Claims counts claim outcomes; reason is empty for accepted claims.
	Claims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_claims_total",
		Help: "Presence claims by outcome and rejection reason.",
	}, []string{"outcome", "reason"})
)

func init() {
	prometheus.MustRegister(SessionsStarted, SessionsEnded, Rotations, Claims)
}
