package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/gallery"
	"github.com/your-org/facegate/internal/vision"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Build the face gallery from the images directory",
	Long: `Scan <images_dir>/<label>/<image>, embed the first face found in every
image and persist the resulting gallery to the configured backend.
The serve command picks the artifact up on its next start or retrain.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("images", "", "Images directory (overrides gallery.images_dir)")
	trainCmd.Flags().Bool("quiet", false, "Do not show a progress bar")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("images"); dir != "" {
		cfg.Gallery.ImagesDir = dir
	}
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := vision.InitRuntime(cfg.Vision.ONNXLibrary)
	if err != nil {
		return err
	}
	defer shutdown()

	analyzer, err := vision.NewONNXAnalyzer(cfg.Vision)
	if err != nil {
		return fmt.Errorf("load face models: %w", err)
	}
	defer analyzer.Close()

	b, err := openBackends(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer b.close()

	builder := gallery.NewBuilder(vision.TrainingEmbedder(analyzer))
	if !quiet {
		var bar *progressbar.ProgressBar
		builder.OnProgress(func(done, total int, path string) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Embedding images"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("images"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(done)
			if done == total {
				_ = bar.Finish()
				fmt.Println()
			}
		})
	}

	trainer := gallery.NewTrainer(builder, b.galleryPersister(cfg.Gallery), gallery.NewStore(nil), cfg.Gallery.ImagesDir)
	g, err := trainer.Retrain(ctx)
	if err != nil {
		return fmt.Errorf("train gallery: %w", err)
	}

	fmt.Printf("Gallery trained: %d entries, %d labels (%s backend)\n", g.Len(), len(g.Labels()), cfg.Gallery.Backend)
	return nil
}
