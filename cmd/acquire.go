package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

func newAcquireCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "acquire [product-id]",
		Short: "Acquire a competitor price now",
		Long:  "Runs one acquisition synchronously and prints the stored observation as JSON. With --all every catalog product is processed in order and per-product results are printed.",
		Args: func(_ *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("--all does not take a product id")
			}
			if !all && len(args) != 1 {
				return errors.New("expected exactly one product id, or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if all {
				results, err := appInstance.Orchestrator().AcquireAll(cmd.Context())
				if err != nil && results == nil {
					return fmt.Errorf("acquire all: %w", err)
				}
				summary := summarize(results)
				summary.Incomplete = err != nil
				if encErr := enc.Encode(summary); encErr != nil {
					return encErr
				}
				if err != nil {
					return fmt.Errorf("acquire all stopped after %d product(s): %w", len(results), err)
				}
				return nil
			}

			productID, err := parseProductID(args[0])
			if err != nil {
				return err
			}
			obs, err := appInstance.Orchestrator().AcquirePrice(cmd.Context(), productID)
			if err != nil {
				return fmt.Errorf("acquire product %d (%s): %w", productID, tracker.ErrorKind(err), err)
			}
			return enc.Encode(obs)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "acquire prices for every catalog product")
	return cmd
}

type acquireResult struct {
	ProductID   int64                     `json:"product_id"`
	Observation *tracker.PriceObservation `json:"observation,omitempty"`
	ErrorKind   string                    `json:"error_kind,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

type acquireSummary struct {
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Incomplete bool            `json:"incomplete,omitempty"`
	Results    []acquireResult `json:"results"`
	At         time.Time       `json:"at"`
}

func summarize(results []tracker.AcquisitionResult) acquireSummary {
	summary := acquireSummary{Results: make([]acquireResult, 0, len(results)), At: time.Now().UTC()}
	for _, r := range results {
		out := acquireResult{ProductID: r.ProductID}
		if r.Err != nil {
			summary.Failed++
			out.ErrorKind = tracker.ErrorKind(r.Err)
			out.Error = r.Err.Error()
		} else {
			summary.Succeeded++
			out.Observation = r.Observation
		}
		summary.Results = append(summary.Results, out)
	}
	return summary
}

func parseProductID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", raw)
	}
	return id, nil
}
