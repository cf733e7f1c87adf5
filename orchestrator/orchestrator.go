// Package orchestrator drives a media upload end to end: credentials, concurrent file
// pipelines, finalize, and the optional status subscription.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/bitrise-io/go-media-upload/api"
	"github.com/bitrise-io/go-media-upload/blob"
	"github.com/bitrise-io/go-media-upload/mediasource"
	"github.com/bitrise-io/go-media-upload/session"
	"github.com/bitrise-io/go-media-upload/status"
	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"
)

const abortTimeout = 30 * time.Second

// CredentialProvider issues per-file write URLs for a session.
type CredentialProvider interface {
	GetCredentials(ctx context.Context, identity session.Identity) (session.CredentialSet, error)
}

// Finalizer asks the backend to start processing.
type Finalizer interface {
	Finalize(ctx context.Context, req api.FinalizeRequest) (api.Acknowledgement, error)
}

// StatusSubscriber opens status subscriptions.
type StatusSubscriber interface {
	Subscribe(ctx context.Context, rawURL, streamID string) *status.Subscription
}

// FileOpener opens resolved media for reading.
type FileOpener interface {
	Open(m mediasource.Media) (*os.File, error)
}

// Tracker receives lifecycle events.
type Tracker interface {
	Started(videoSize, audioSize, chunkSize int64)
	FileCommitted(name string, blockCount int, size int64, uploadTime time.Duration)
	Finalized(totalTime time.Duration)
	Failed(outcome, stage string, err error)
}

// Dependencies are the collaborators of an Orchestrator. Status and Tracker are optional.
type Dependencies struct {
	Credentials CredentialProvider
	Finalizer   Finalizer
	Store       blob.Store
	Files       FileOpener
	Status      StatusSubscriber
	Tracker     Tracker
}

// Options ...
type Options struct {
	Overlay        string
	RetryBaseDelay time.Duration
	// StatusWait is how long to wait for a terminal status event after finalize. 0 skips waiting.
	StatusWait time.Duration
}

// Orchestrator runs upload sessions.
type Orchestrator struct {
	session session.Session
	deps    Dependencies
	opts    Options
	logger  log.Logger
}

// New creates an Orchestrator for one session.
func New(s session.Session, deps Dependencies, opts Options, logger log.Logger) *Orchestrator {
	if deps.Tracker == nil {
		deps.Tracker = nopTracker{}
	}
	return &Orchestrator{session: s, deps: deps, opts: opts, logger: logger}
}

type fileResult struct {
	url           string
	uploadedBlock bool
}

// Run uploads video and audio, commits both, and finalizes if and only if both committed.
// The returned report is never nil; its Err equals the returned error.
func (o *Orchestrator) Run(ctx context.Context, video, audio mediasource.Media) (*Report, error) {
	start := time.Now()
	report := &Report{Outcome: NothingUploaded, StreamID: o.session.StreamID}

	o.logger.Infof("Requesting write credentials for stream %s", o.session.StreamID)
	creds, err := o.deps.Credentials.GetCredentials(ctx, o.session.Identity())
	if err != nil {
		return o.fail(report, start, &StageError{Stage: StageCredentials, Err: err})
	}
	sess := o.session.WithBlobPrefix(creds.BlobPrefix)
	report.BlobPrefix = sess.BlobPrefix
	o.logger.Debugf("Credentials: %s", creds)

	var sub *status.Subscription
	if creds.StatusChannelURL != "" && o.deps.Status != nil {
		sub = o.deps.Status.Subscribe(ctx, creds.StatusChannelURL, sess.StreamID)
		defer sub.Close()
		go o.logEvents(sub)
	}

	o.deps.Tracker.Started(video.Size, audio.Size, sess.ChunkSize)

	uploader := blob.NewUploader(blob.ConfigFromSession(sess, o.opts.RetryBaseDelay), o.logger)
	results := make([]fileResult, 2)
	inputs := []struct {
		media mediasource.Media
		dest  string
	}{
		{video, creds.VideoWriteURL},
		{audio, creds.AudioWriteURL},
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range inputs {
		i := i
		g.Go(func() error {
			return o.uploadFile(gctx, uploader, sess, inputs[i].media, inputs[i].dest, &results[i])
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range results {
			if r.uploadedBlock {
				report.Outcome = UploadedNotCommitted
			}
		}
		o.recordStatus(report, sub)
		return o.fail(report, start, err)
	}
	report.VideoURL = results[0].url
	report.AudioURL = results[1].url
	report.Outcome = CommittedNotFinalized

	ack, err := o.finalize(ctx, sess.StreamID, sess.BlobPrefix)
	if err != nil {
		o.recordStatus(report, sub)
		return o.fail(report, start, err)
	}
	report.Finalize = &ack
	report.Outcome = Succeeded

	if sub != nil && o.opts.StatusWait > 0 {
		o.logger.Infof("Waiting up to %s for the processing job to finish", o.opts.StatusWait)
		waitCtx, cancel := context.WithTimeout(ctx, o.opts.StatusWait)
		sub.Wait(waitCtx)
		cancel()
	}
	o.recordStatus(report, sub)

	report.Duration = time.Since(start)
	o.deps.Tracker.Finalized(report.Duration)
	o.logger.Donef("Upload of stream %s finished in %s", report.StreamID, report.Duration.Round(time.Millisecond))
	return report, nil
}

// FinalizeOnly retries the finalize step for a stream whose files are already committed.
func (o *Orchestrator) FinalizeOnly(ctx context.Context, streamID, blobPrefix string) (*Report, error) {
	start := time.Now()
	report := &Report{Outcome: CommittedNotFinalized, StreamID: streamID, BlobPrefix: blobPrefix}

	if streamID == "" || blobPrefix == "" {
		return o.fail(report, start, &StageError{Stage: StageFinalize, Err: errors.New("stream ID and blob prefix are required")})
	}

	ack, err := o.finalize(ctx, streamID, blobPrefix)
	if err != nil {
		return o.fail(report, start, err)
	}
	report.Finalize = &ack
	report.Outcome = Succeeded
	report.Duration = time.Since(start)
	o.deps.Tracker.Finalized(report.Duration)
	return report, nil
}

func (o *Orchestrator) uploadFile(ctx context.Context, uploader *blob.Uploader, sess session.Session, media mediasource.Media, dest string, result *fileResult) error {
	start := time.Now()

	file, err := blob.NewFileUpload(media.Name, media.Path, dest, media.Size, sess.ChunkSize)
	if err != nil {
		return &StageError{Stage: StagePlan, File: media.Name, Err: err}
	}

	src, err := o.deps.Files.Open(media)
	if err != nil {
		return &StageError{Stage: StagePlan, File: media.Name, Err: err}
	}
	defer func() {
		if err := src.Close(); err != nil {
			o.logger.Warnf("Failed to close %s: %s", media.Path, err)
		}
	}()

	target, err := o.deps.Store.Open(ctx, dest, len(file.Blocks))
	if err != nil {
		return &StageError{Stage: StageUpload, File: media.Name, Err: err}
	}

	err = uploader.Upload(ctx, file, src, target)
	result.uploadedBlock = file.Count(blob.Committed) > 0
	if err != nil {
		o.abort(ctx, media.Name, target)
		return &StageError{Stage: StageUpload, File: media.Name, Err: err}
	}

	location, err := uploader.Commit(ctx, file, target)
	if err != nil {
		o.abort(ctx, media.Name, target)
		return &StageError{Stage: StageCommit, File: media.Name, Err: err}
	}
	result.url = location

	o.deps.Tracker.FileCommitted(media.Name, len(file.Blocks), media.Size, time.Since(start))
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, streamID, blobPrefix string) (api.Acknowledgement, error) {
	req := api.NewFinalizeRequest(streamID, blobPrefix, o.opts.Overlay)
	o.logger.Infof("Requesting processing of %s", req.OutputFileName)

	ack, err := o.deps.Finalizer.Finalize(ctx, req)
	if err != nil {
		return api.Acknowledgement{}, &StageError{Stage: StageFinalize, Err: err}
	}
	o.logger.Donef("Processing job accepted")
	o.logger.Debugf("Finalize acknowledgement: %s", string(ack.Body))
	return ack, nil
}

// abort releases uncommitted blocks where the store supports it. It runs even if ctx is cancelled.
func (o *Orchestrator) abort(ctx context.Context, name string, target blob.Target) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := target.Abort(abortCtx); err != nil {
		o.logger.Warnf("Failed to abort %s upload: %s", name, err)
	}
}

func (o *Orchestrator) fail(report *Report, start time.Time, err error) (*Report, error) {
	report.Err = err
	report.Duration = time.Since(start)

	stage := ""
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		stage = string(stageErr.Stage)
	}
	o.deps.Tracker.Failed(report.Outcome.String(), stage, err)

	o.logger.Errorf("Upload of stream %s failed (%s): %s", report.StreamID, report.Outcome, err)
	return report, err
}

func (o *Orchestrator) recordStatus(report *Report, sub *status.Subscription) {
	if sub == nil {
		return
	}
	if last, ok := sub.Last(); ok {
		report.LastStatus = &last
	}
}

func (o *Orchestrator) logEvents(sub *status.Subscription) {
	for e := range sub.Events() {
		switch {
		case e.Failed():
			o.logger.Warnf("Processing status: %s %s", e.Status, e.Message)
		case e.Progress != nil:
			o.logger.Printf("Processing status: %s (%.0f%%) %s", e.Status, *e.Progress, e.Message)
		default:
			o.logger.Printf("Processing status: %s %s", statusLabel(e), e.Message)
		}
	}
	if err := sub.Err(); err != nil {
		o.logger.Debugf("Status channel ended: %s", err)
	}
}

func statusLabel(e status.Event) string {
	if e.Status != "" {
		return e.Status
	}
	return e.Type
}

type nopTracker struct{}

func (nopTracker) Started(int64, int64, int64)                     {}
func (nopTracker) FileCommitted(string, int, int64, time.Duration) {}
func (nopTracker) Finalized(time.Duration)                         {}
func (nopTracker) Failed(string, string, error)                    {}
