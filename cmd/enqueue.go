package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

func newEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <product-id>...",
		Short: "Queue products for the worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, raw := range args {
				id, err := parseProductID(raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			queue := appInstance.Queue()
			now := time.Now().UTC()
			for _, id := range ids {
				if err := queue.Enqueue(cmd.Context(), tracker.AcquisitionTask{ProductID: id, EnqueuedAt: now}); err != nil {
					return fmt.Errorf("enqueue product %d: %w", id, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d task(s)\n", len(ids))
			return nil
		},
	}
}
