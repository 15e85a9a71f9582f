package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/queue"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream attendance events and exit alerts from NATS",
	Long: `Subscribe to the ATTENDANCE JetStream stream and print every new
attendance event and exit alert as one JSON object per line.`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().String("consumer", "facegate-cli", "Durable consumer name")
	eventsCmd.Flags().Bool("alerts-only", false, "Print exit alerts only")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.NATS.URL == "" {
		return fmt.Errorf("nats.url is not configured")
	}
	name, _ := cmd.Flags().GetString("consumer")
	alertsOnly, _ := cmd.Flags().GetBool("alerts-only")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer consumer.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	err = consumer.Consume(ctx, name, func(ctx context.Context, ev *models.AttendanceEvent, a *models.ExitAlert) error {
		if ev != nil {
			if alertsOnly {
				return nil
			}
			return enc.Encode(ev)
		}
		return enc.Encode(a)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
