package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-media-upload/analytics"
	"github.com/bitrise-io/go-media-upload/api"
	"github.com/bitrise-io/go-media-upload/blob"
	"github.com/bitrise-io/go-media-upload/config"
	"github.com/bitrise-io/go-media-upload/mediasource"
	"github.com/bitrise-io/go-media-upload/orchestrator"
	"github.com/bitrise-io/go-media-upload/status"
	goanalytics "github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "media-upload",
	Short: "Upload recorded video and audio and start processing",
	Long: `media-upload sends a video and an audio recording to blob storage in blocks,
commits both objects, and asks the backend to start processing them.
Settings are read from the environment and from a .env file in the working directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runUpload,
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Use the debug backend and enable debug logging (or set IS_DEBUG)")
}

// Execute runs the command line and exits 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// trackerFactory creates the event sender when ENABLE_ANALYTICS is set.
var trackerFactory analytics.TrackerFactory = goanalytics.NewDefaultTracker

// app holds what every subcommand needs.
type app struct {
	cfg     config.Config
	logger  log.Logger
	tracker *analytics.UploadTracker
}

func newApp(cmd *cobra.Command) (*app, error) {
	envRepo := env.NewRepository()
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		if err := envRepo.Set("IS_DEBUG", "true"); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(envRepo)
	if err != nil {
		return nil, err
	}

	logger := log.NewLogger()
	logger.EnableDebugLog(cfg.IsDebug)

	tracker := analytics.NewUploadTracker(cfg.EnableAnalytics, logger, trackerFactory,
		cfg.StreamID, cfg.SessionID, cfg.Mode())

	return &app{cfg: cfg, logger: logger, tracker: tracker}, nil
}

// close flushes queued analytics events.
func (a *app) close() {
	a.tracker.Wait()
}

func (a *app) orchestrator(ctx context.Context, resolver *mediasource.Resolver) *orchestrator.Orchestrator {
	client := api.NewClient(api.Options{
		BaseURL:        a.cfg.APIBaseURL(),
		RequestTimeout: a.cfg.RequestTimeout(),
		MaxRetries:     a.cfg.MaxRetries,
		Insecure:       a.cfg.IsDebug,
	}, a.logger)

	statusOpts := status.DefaultOptions()
	statusOpts.Insecure = a.cfg.IsDebug

	return orchestrator.New(a.cfg.Session(), orchestrator.Dependencies{
		Credentials: client,
		Finalizer:   client,
		Store:       a.stores(ctx),
		Files:       resolver,
		Status:      status.NewChannel(statusOpts, a.logger),
		Tracker:     a.tracker,
	}, orchestrator.Options{
		Overlay:        a.cfg.Overlay(),
		RetryBaseDelay: a.cfg.RetryBaseDelay(),
		StatusWait:     a.cfg.StatusWaitTimeout(),
	}, a.logger)
}

// stores routes write URLs to block blob storage and s3:// destinations to S3 multipart uploads.
func (a *app) stores(ctx context.Context) blob.Store {
	mux := blob.NewMux()
	mux.Handle(blob.NewSASStore(blob.DefaultHTTPClient(), a.logger), "http", "https")

	s3Client, err := blob.NewS3Client(ctx, blob.S3Options{
		Region:          a.cfg.S3Region,
		Endpoint:        a.cfg.S3Endpoint,
		AccessKeyID:     a.cfg.S3AccessKeyID,
		SecretAccessKey: string(a.cfg.S3SecretAccessKey),
	})
	if err != nil {
		a.logger.Debugf("S3 destinations are unavailable: %s", err)
		return mux
	}
	mux.Handle(blob.NewS3Store(s3Client, a.logger), "s3")
	return mux
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
