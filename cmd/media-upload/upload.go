package main

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-media-upload/mediasource"
	"github.com/bitrise-io/go-media-upload/orchestrator"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload VIDEO_FILE and AUDIO_FILE and request processing (default)",
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	a.logger.Infof("Media upload (%s)", a.cfg.Mode())
	a.logger.Printf("Stream ID: %s", a.cfg.StreamID)
	a.logger.Printf("Chunk size: %s", units.BytesSize(float64(a.cfg.ChunkSize)))

	resolver := mediasource.NewResolver(nil, a.logger)
	defer func() {
		if err := resolver.Cleanup(); err != nil {
			a.logger.Warnf("Failed to remove downloaded media: %s", err)
		}
	}()

	video, err := resolver.Resolve(ctx, "video", a.cfg.VideoFile)
	if err != nil {
		return err
	}
	audio, err := resolver.Resolve(ctx, "audio", a.cfg.AudioFile)
	if err != nil {
		return err
	}

	o := a.orchestrator(ctx, resolver)
	report, err := o.Run(ctx, video, audio)
	printReport(a.logger, report)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

func printReport(logger log.Logger, report *orchestrator.Report) {
	if report == nil {
		return
	}

	logger.Println()
	logger.Infof("Result: %s (%s)", report.Outcome, report.Duration.Round(time.Millisecond))
	logger.Printf("Stream ID: %s", report.StreamID)
	if report.BlobPrefix != "" {
		logger.Printf("Blob prefix: %s", report.BlobPrefix)
	}
	if report.VideoURL != "" {
		logger.Printf("Video: %s", report.VideoURL)
	}
	if report.AudioURL != "" {
		logger.Printf("Audio: %s", report.AudioURL)
	}
	if report.Finalize != nil {
		logger.Printf("Finalize response: %s", string(report.Finalize.Body))
	}
	if report.LastStatus != nil {
		logger.Printf("Last job status: %s %s", report.LastStatus.Status, report.LastStatus.Message)
	}

	if report.Outcome == orchestrator.Succeeded {
		logger.Donef("Upload completed, processing was requested")
		return
	}
	logger.Warnf("%s", report.Outcome.RecoveryHint())
	if command := report.RecoveryCommand(); command != "" {
		logger.Warnf("  %s", command)
	}
}
