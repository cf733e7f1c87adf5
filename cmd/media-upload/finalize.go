package main

import (
	"fmt"

	"github.com/bitrise-io/go-media-upload/mediasource"
	"github.com/spf13/cobra"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Request processing of an already committed stream",
	Long: `finalize retries only the last step of an upload, for runs that stored both
files but could not start processing.`,
	RunE: runFinalize,
}

func init() {
	finalizeCmd.Flags().String("stream-id", "", "Stream ID of the committed upload")
	finalizeCmd.Flags().String("blob-prefix", "", "Blob prefix issued for the stream")
	_ = finalizeCmd.MarkFlagRequired("stream-id")
	_ = finalizeCmd.MarkFlagRequired("blob-prefix")

	rootCmd.AddCommand(finalizeCmd)
}

func runFinalize(cmd *cobra.Command, _ []string) error {
	streamID, _ := cmd.Flags().GetString("stream-id")
	blobPrefix, _ := cmd.Flags().GetString("blob-prefix")

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	o := a.orchestrator(ctx, mediasource.NewResolver(nil, a.logger))
	report, err := o.FinalizeOnly(ctx, streamID, blobPrefix)
	printReport(a.logger, report)
	if err != nil {
		return fmt.Errorf("finalize failed: %w", err)
	}
	return nil
}
