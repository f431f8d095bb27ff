package verdict

import (
	"errors"

	"github.com/highbeam/changeguard/internal/errs"
)

// FromError turns a non-fatal analyzer error into a structured result so
// that callers never see a bare error string.
func FromError(tool string, err error) *Result {
	r := New(tool)
	r.Summary = err.Error()

	var (
		ve *errs.ValidationError
		nf *errs.NotFoundError
		nd *errs.NetworkDegraded
		se *errs.StorageError
	)
	switch {
	case errors.As(err, &ve):
		r.Status = StatusFail
		r.Pedagogy = Pedagogy{
			Why:        "The tool was called with arguments it cannot interpret, so no analysis ran.",
			HowToFix:   "Correct the argument named in the message and call the tool again.",
			Prevention: "Build tool arguments from the documented schema instead of free-form text.",
		}
		r.Add(Finding{RuleID: "input.invalid", Severity: SeverityError, Message: err.Error(), Details: map[string]any{"field": ve.Field}})
	case errors.As(err, &nf):
		r.Status = StatusWarn
		r.Pedagogy = Pedagogy{
			Why:        "The referenced " + nf.Kind + " has no recorded history yet.",
			HowToFix:   "Start the session (session_start) or pass an id that was used before.",
			Prevention: "Call session_start at the beginning of every AI-assisted session.",
		}
		r.Add(Finding{RuleID: "reference.not_found", Severity: SeverityWarning, Message: err.Error()})
	case errors.As(err, &nd):
		r.Status = StatusWarn
		r.Pedagogy = Pedagogy{
			Why:        "A package registry could not be reached, so existence could not be confirmed.",
			HowToFix:   "Retry when the network is available or install an offline package filter.",
			Prevention: "Keep the offline filter current for disconnected work.",
		}
		r.Add(Finding{RuleID: "network.degraded", Severity: SeverityInfo, Message: err.Error()})
	case errors.As(err, &se):
		r.Status = StatusFail
		r.Pedagogy = Pedagogy{
			Why:        "The history database rejected a write, so this verdict was not recorded.",
			HowToFix:   "Retry the call; concurrent writers usually release the lock within seconds.",
			Prevention: "Avoid long-running transactions against the changeguard database.",
		}
		r.Add(Finding{RuleID: "storage.unavailable", Severity: SeverityError, Message: err.Error(), Details: map[string]any{"retryable": se.Retryable()}})
	default:
		r.Status = StatusFail
		r.Pedagogy = Pedagogy{
			Why:        "The analyzer failed unexpectedly.",
			HowToFix:   "Inspect the message and the changeguard log, then retry.",
			Prevention: "Report reproducible failures with the offending input.",
		}
		r.Add(Finding{RuleID: "internal.error", Severity: SeverityError, Message: err.Error()})
	}
	return r
}
