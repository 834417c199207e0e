package flashdrv

// Verdict is the value a Reporter returns from Progress; a sequencer
// checks it each time it calls Progress and aborts there when it is not
// Continue (spec §5 "Cancellation"). The STW sequencer calls Progress only
// between hex-line bursts, not at every 1/1000 step.
type Verdict uint8

const (
	Continue Verdict = iota
	Abort
)

// Reporter is the single capability long operations receive in place of
// the source's virtual reporting base class (spec §9 DESIGN NOTES:
// "Reimplement as a single reporter capability passed by reference into
// sequencers and protocols; no inheritance required"). Sequencers and
// protocol clients hold a Reporter, never a concrete logger or UI object.
type Reporter interface {
	// Progress reports permille (0..1000) completion of the current
	// long-running step. Implementations must return promptly. The STW
	// sequencer calls it after a burst of hex lines once 750ms or more
	// have passed since its previous call, and after the last burst, so
	// calls before the final one are at least 750ms apart.
	Progress(permille int) Verdict
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// NopReporter never aborts and discards all messages. Useful for tests and
// for callers that don't want progress feedback.
type NopReporter struct{}

func (NopReporter) Progress(int) Verdict       { return Continue }
func (NopReporter) Info(string, ...any)        {}
func (NopReporter) Warn(string, ...any)        {}
func (NopReporter) Error(string, ...any)       {}
