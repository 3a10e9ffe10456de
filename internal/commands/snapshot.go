package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"xcoffee/internal/logger"
	"xcoffee/internal/models"
	"xcoffee/processing/capture"
	"xcoffee/processing/filter"
)

var (
	snapshotOutput  string
	snapshotTimeout time.Duration
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save a single frame of the stream as JPEG",
	Long: `Connect to the stream, wait for the first complete frame and write it to
disk. With --trojan the frame is written through the Trojan view filter.`,
	Example: `  # Grab the current pot
  xcoffee snapshot -o pot.jpg

  # Grab it the 1991 way
  xcoffee snapshot --trojan -o trojan.jpg`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "xcoffee.jpg", "file to write the frame to")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 30*time.Second, "give up when no frame arrives in time")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	streamer, err := capture.NewStreamer(cfg)
	if err != nil {
		return err
	}

	frame, err := grabFrame(ctx, streamer)
	if err != nil {
		return err
	}

	data := frame.Data
	if cfg.GetTrojanView() {
		data, err = filter.TrojanJPEG(frame.Data, cfg.TrojanSize, cfg.JPEGQuality)
		if err != nil {
			return err
		}
	}

	if err := os.WriteFile(snapshotOutput, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", snapshotOutput, len(data))
	return nil
}

// grabFrame returns the first frame the streamer yields. On timeout the last
// status seen is folded into the error.
func grabFrame(ctx context.Context, streamer capture.VideoStreamer) (models.Frame, error) {
	log := logger.WithComponent("cli")

	if err := streamer.Start(ctx); err != nil {
		return models.Frame{}, err
	}
	defer streamer.Stop()

	var last models.Status
	for {
		select {
		case <-ctx.Done():
			if last.Text != "" {
				return models.Frame{}, fmt.Errorf("no frame received (%s): %w", last.Text, ctx.Err())
			}
			return models.Frame{}, fmt.Errorf("no frame received: %w", ctx.Err())

		case st, ok := <-streamer.StatusChan():
			if !ok {
				return models.Frame{}, fmt.Errorf("stream closed before a frame arrived")
			}
			log.Info().Stringer("kind", st.Kind).Msg(st.Text)
			last = st

		case frame, ok := <-streamer.FrameChan():
			if !ok {
				return models.Frame{}, fmt.Errorf("stream closed before a frame arrived")
			}
			return frame, nil
		}
	}
}
