package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"auditrisk/internal/logger"
	"auditrisk/internal/model"
	"auditrisk/internal/model/onnx"
)

func newExportONNXCmd(configArg *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-onnx",
		Short: "Convert a trained artifact into an ONNX graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configArg)
			if err != nil {
				return err
			}
			defer logger.Close()

			v, err := schemaVersion(cfg)
			if err != nil {
				return err
			}
			if out == "" {
				out = cfg.AuditRisk.Model.ONNX
			}
			p, err := model.LoadArtifact(cfg.AuditRisk.Model.Artifact, v)
			if err != nil {
				logger.Errorf("Failed to load model: %v", err)
				return err
			}
			if err := onnx.Save(out, p); err != nil {
				logger.Errorf("ONNX export failed: %v", err)
				return err
			}
			logger.Infof("ONNX model written to %s", out)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (overrides model.onnx)")
	return cmd
}
