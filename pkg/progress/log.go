package progress

import (
	"github.com/sirupsen/logrus"

	"github.com/mercury2269/sqsmover/v2/pkg/transfer"
)

// Log reports progress as log lines, one per batch. It replaces the bar in
// verbose mode where the bar would be torn apart by debug output.
type Log struct {
	log       logrus.FieldLogger
	verb      string
	estimate  int
	processed int
}

// NewLog returns a Log reporter writing to l.
func NewLog(mode transfer.Mode, l logrus.FieldLogger) *Log {
	return &Log{log: l, verb: verb(mode), estimate: -1}
}

func (r *Log) Start(estimate int) {
	r.estimate = estimate
}

func (r *Log) Add(n int) {
	r.processed += n
	e := r.log.WithField("batch", n)
	if r.estimate > 0 {
		// the estimate can be stale, never report more than 100%
		pct := 100 * r.processed / r.estimate
		if pct > 100 {
			pct = 100
		}
		e = e.WithField("percent", pct)
	}
	e.Infof("%d messages %s", r.processed, r.verb)
}

func (r *Log) Milestone(processed, estimate int) {
	if estimate >= 0 {
		r.estimate = processed + estimate
	}
}

func (r *Log) Done(s transfer.Summary) {
	r.log.WithFields(logrus.Fields{
		"outcome":    s.Outcome.String(),
		"iterations": s.Iterations,
	}).Infof("done, %d messages %s", s.Processed, r.verb)
}

func (r *Log) Halt(err error) {
	r.log.WithError(err).Errorf("stopped after %d messages %s", r.processed, r.verb)
}
