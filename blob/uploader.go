package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-media-upload/uploaderr"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
)

var errHung = errors.New("attempt cancelled as hung")

// Uploader transfers the blocks of a FileUpload and commits its manifest.
type Uploader struct {
	config Config
	logger log.Logger
	stats  *Stats
}

// NewUploader creates an Uploader with the given configuration.
func NewUploader(config Config, logger log.Logger) *Uploader {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}

	return &Uploader{
		config: config,
		logger: logger,
		stats:  NewStats(),
	}
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// Upload transfers every block of file from src to target.
// The first failing block cancels its in-flight siblings; blocks not yet started stay Pending.
func (u *Uploader) Upload(ctx context.Context, file *FileUpload, src io.ReaderAt, target Target) error {
	u.logger.Infof("Uploading %s (%s) in %d blocks of %s", file.Name,
		units.BytesSize(float64(file.Size)), len(file.Blocks), units.BytesSize(float64(file.ChunkSize)))

	g, gctx := errgroup.WithContext(ctx)
	if u.config.Concurrency > 0 {
		g.SetLimit(u.config.Concurrency)
	}

	for i := range file.Blocks {
		block := &file.Blocks[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return u.transferBlock(gctx, file, block, src, target)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s upload cancelled: %w", file.Name, err)
	}
	if !file.AllCommitted() {
		return fmt.Errorf("%s: %w", file.Name, ErrIncompleteUpload)
	}

	u.logger.Donef("%s: %d/%d blocks uploaded (avg %s per block)", file.Name,
		len(file.Blocks), len(file.Blocks), u.stats.Average().Round(time.Millisecond))
	return nil
}

// Commit submits the index ordered manifest of a fully uploaded file and returns
// the token-free location of the object. A rejected manifest is never resubmitted.
func (u *Uploader) Commit(ctx context.Context, file *FileUpload, target Target) (string, error) {
	manifest, err := BuildManifest(file.Blocks)
	if err != nil {
		return "", fmt.Errorf("%s: %w", file.Name, err)
	}

	u.logger.Debugf("Committing %s with %d blocks", file.Name, len(manifest.Entries))
	err = u.retry(ctx, fmt.Sprintf("%s commit", file.Name), func(attemptCtx context.Context) error {
		return target.Commit(attemptCtx, manifest)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", file.Name, err)
	}

	location := target.Location()
	u.logger.Donef("%s committed: %s", file.Name, location)
	return location, nil
}

func (u *Uploader) transferBlock(ctx context.Context, file *FileUpload, block *BlockDescriptor, src io.ReaderAt, target Target) error {
	if err := block.advance(InFlight); err != nil {
		return err
	}

	data, err := readBlock(src, block.Range)
	if err != nil {
		_ = block.advance(Failed)
		return fmt.Errorf("%s: block %d: %w", file.Name, block.Index, err)
	}

	start := time.Now()
	op := fmt.Sprintf("%s block %d/%d", file.Name, block.Index+1, len(file.Blocks))
	err = u.retry(ctx, op, func(attemptCtx context.Context) error {
		return target.PutBlock(attemptCtx, *block, data)
	})
	if err != nil {
		_ = block.advance(Failed)
		return fmt.Errorf("%s: block %d: %w", file.Name, block.Index, err)
	}

	if err := block.advance(Committed); err != nil {
		return err
	}
	u.stats.Update(time.Since(start), int64(len(data)))
	u.logger.Printf("%s uploaded (%s) [finished=%d]", op, units.BytesSize(float64(len(data))), u.stats.FinishedCount())
	return nil
}

// retry runs fn up to MaxAttempts times with exponential backoff, retrying transport failures only.
func (u *Uploader) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.config.RetryBaseDelay
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(u.config.MaxAttempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := u.attempt(ctx, op, fn)
		if err == nil {
			return nil
		}
		if !uploaderr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		u.logger.Warnf("%s attempt %d/%d failed: %s; retrying in %s", op, attempt, u.config.MaxAttempts, err, next.Round(time.Millisecond))
	}

	return backoff.RetryNotify(operation, policy, notify)
}

func (u *Uploader) attempt(ctx context.Context, op string, fn func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, u.config.RequestTimeout)
	defer cancel()

	var hung atomic.Bool
	if u.config.HungThreshold > 0 {
		go u.detectHung(attemptCtx, cancel, &hung, time.Now(), op)
	}

	err := fn(attemptCtx)
	if err != nil && hung.Load() && ctx.Err() == nil {
		return uploaderr.Transport(op, errHung)
	}
	return err
}

func (u *Uploader) detectHung(ctx context.Context, cancel context.CancelFunc, hung *atomic.Bool, start time.Time, op string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() == 0 {
				continue
			}
			elapsed := time.Since(start)
			avg := u.stats.Average()
			if elapsed-avg > u.config.HungThreshold {
				u.logger.Warnf("Found hung upload (%s); cancelling attempt after %s (avg: %s)",
					op, elapsed.Round(time.Millisecond), avg.Round(time.Millisecond))
				hung.Store(true)
				cancel()
				return
			}
		}
	}
}

func readBlock(src io.ReaderAt, r Range) ([]byte, error) {
	data := make([]byte, r.Len())
	n, err := src.ReadAt(data, r.Start)
	if n == len(data) {
		return data, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("read %s: %w", r, err)
}
