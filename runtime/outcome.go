package runtime

import (
	"errors"

	"github.com/pithecene-io/conduit/types"
)

// DetermineOutcome builds the terminal outcome of a settled run.
//
// Status mapping:
//   - success: the stream ended cleanly
//   - aborted: the cancellation token fired
//   - noop: nothing was queued at flush time
//   - error: anything else; ErrorType carries the RunErrorKind
func DetermineOutcome(status types.OutcomeStatus, err error) *types.RunOutcome {
	switch status {
	case types.OutcomeSuccess:
		return &types.RunOutcome{
			Status:  types.OutcomeSuccess,
			Message: "run completed successfully",
		}
	case types.OutcomeAborted:
		return &types.RunOutcome{
			Status:  types.OutcomeAborted,
			Message: "run cancelled",
		}
	case types.OutcomeNoop:
		return &types.RunOutcome{
			Status:  types.OutcomeNoop,
			Message: "nothing queued",
		}
	}

	if err == nil {
		err = errors.New("run failed without an error")
	}
	runErr := classifyRunError(err)
	errType := runErr.Kind.String()
	return &types.RunOutcome{
		Status:    types.OutcomeError,
		Message:   runErr.Error(),
		ErrorType: &errType,
	}
}
