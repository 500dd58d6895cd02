package autosave

import "github.com/prometheus/client_golang/prometheus"

const (
	triggerAuto   = "auto"
	triggerManual = "manual"

	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeRequeued  = "requeued"
	outcomeDiscarded = "discarded"
)

var (
	// savesTotal counts save attempts by trigger (auto/manual) and outcome.
	savesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsmith_autosave_saves_total",
			Help: "Form save attempts by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	// backupsTotal counts local backup writes; failures are swallowed.
	backupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsmith_autosave_backups_total",
			Help: "Local draft backup writes by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(savesTotal, backupsTotal)
}
