package accountant

import (
	"context"

	"github.com/klingon-exchange/accountant/pkg/logging"
)

// LogAlerter implements Alerter by raising a structured error-level log
// line. spec.md 6 lists alerts.send_alert as an outbound call to an
// external paging system; wiring a real one is out of scope, so this is
// the ambient fallback every alert ultimately routes through regardless
// of what else is downstream of it.
type LogAlerter struct {
	log *logging.Logger
}

// NewLogAlerter builds the default Alerter.
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{log: logging.GetDefault().Component("alert")}
}

// Alert implements Alerter.
func (a *LogAlerter) Alert(ctx context.Context, subject, detail string) {
	a.log.Error("ALERT: " + subject, "detail", detail)
}
