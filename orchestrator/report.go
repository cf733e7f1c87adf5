package orchestrator

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-media-upload/api"
	"github.com/bitrise-io/go-media-upload/status"
)

// Outcome is the terminal state of a run. Each value implies a different recovery action.
type Outcome int

const (
	NothingUploaded Outcome = iota
	UploadedNotCommitted
	CommittedNotFinalized
	Succeeded
)

func (o Outcome) String() string {
	switch o {
	case NothingUploaded:
		return "nothing-uploaded"
	case UploadedNotCommitted:
		return "uploaded-not-committed"
	case CommittedNotFinalized:
		return "committed-not-finalized"
	case Succeeded:
		return "succeeded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RecoveryHint tells the operator what to do next.
func (o Outcome) RecoveryHint() string {
	switch o {
	case NothingUploaded:
		return "Nothing was uploaded. Fix the reported problem and run the upload again."
	case UploadedNotCommitted:
		return "Some blocks were uploaded but not every file was committed. Run the upload again from scratch."
	case CommittedNotFinalized:
		return "Both files are stored but processing was not started. Retry the finalize step only."
	default:
		return ""
	}
}

// Stage names a step of the run.
type Stage string

const (
	StageCredentials Stage = "credentials"
	StagePlan        Stage = "plan"
	StageUpload      Stage = "upload"
	StageCommit      Stage = "commit"
	StageFinalize    Stage = "finalize"
)

// StageError is the first failure of a run with its location.
type StageError struct {
	Stage Stage
	// File is empty for session wide stages.
	File string
	Err  error
}

func (e *StageError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%s failed: %s", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s of %s failed: %s", e.Stage, e.File, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Report is the aggregate result of a run.
type Report struct {
	Outcome    Outcome
	StreamID   string
	BlobPrefix string
	VideoURL   string
	AudioURL   string
	Finalize   *api.Acknowledgement
	LastStatus *status.Event
	Duration   time.Duration
	Err        error
}

// RecoveryCommand returns the command retrying the missing step, if there is one.
func (r *Report) RecoveryCommand() string {
	if r.Outcome != CommittedNotFinalized {
		return ""
	}
	return fmt.Sprintf("media-upload finalize --stream-id %s --blob-prefix %s", r.StreamID, r.BlobPrefix)
}
