package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"auditrisk/internal/logger"
	"auditrisk/internal/riskstate"
)

func newHotlistCmd(configArg *string) *cobra.Command {
	var (
		since     time.Duration
		limit     int64
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "hotlist",
		Short: "List actors whose accumulated risk crossed the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configArg)
			if err != nil {
				return err
			}
			defer logger.Close()
			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.AuditRisk.RiskState.Threshold
			}

			store, err := newRiskStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			states, err := store.FetchDirtySince(cmd.Context(), time.Now().Add(-since), limit)
			if err != nil {
				return err
			}
			hot := riskstate.Hotlist(states, threshold)
			logger.Infof("Hotlist: %d of %d actors at or above %.0f", len(hot), len(states), threshold)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(hot)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only actors updated within this window")
	cmd.Flags().Int64Var(&limit, "limit", 1000, "maximum actors to read")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "score threshold (overrides risk_state.threshold)")
	return cmd
}
