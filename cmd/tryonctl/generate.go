package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quel-tryon-server/modules/bootstrap"
	"quel-tryon-server/modules/common/config"
	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/common/utils"
	"quel-tryon-server/modules/tryon/pipeline"
)

var generateOpts struct {
	source       string
	garment      string
	out          string
	preset       string
	hint         string
	styleNotes   string
	simplified   bool
	strict       bool
	identitySafe bool
	report       bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one try-on locally and write the result image",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&generateOpts.source, "source", "", "person photo (required)")
	f.StringVar(&generateOpts.garment, "garment", "", "garment photo (required)")
	f.StringVarP(&generateOpts.out, "out", "o", "tryon.webp", "output path; .webp is re-encoded, anything else is written as generated")
	f.StringVar(&generateOpts.preset, "preset", "", "scene preset id")
	f.StringVar(&generateOpts.hint, "hint", "", "free-text scene hint")
	f.StringVar(&generateOpts.styleNotes, "style", "", "style notes for the garment")
	f.BoolVar(&generateOpts.simplified, "simplified", false, "force the simplified prompt")
	f.BoolVar(&generateOpts.strict, "strict", false, "use strict verification thresholds")
	f.BoolVar(&generateOpts.identitySafe, "identity-safe", false, "restore the original face after synthesis")
	f.BoolVar(&generateOpts.report, "report", false, "print the stage trace as JSON")
	generateCmd.MarkFlagRequired("source")
	generateCmd.MarkFlagRequired("garment")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	source, err := os.ReadFile(generateOpts.source)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	garment, err := os.ReadFile(generateOpts.garment)
	if err != nil {
		return fmt.Errorf("read garment: %w", err)
	}

	engine, err := bootstrap.Build(cmd.Context(), cfg, telemetry.NewZapSink(log), log)
	if err != nil {
		return err
	}
	defer engine.Close()

	res, genErr := engine.Pipeline.GenerateTryOn(cmd.Context(), source, garment, pipeline.Options{
		RequestID:       uuid.NewString(),
		PresetID:        generateOpts.preset,
		SceneHint:       generateOpts.hint,
		StyleNotes:      generateOpts.styleNotes,
		ForceSimplified: generateOpts.simplified,
		Strict:          generateOpts.strict,
		IdentitySafe:    generateOpts.identitySafe,
	})
	if generateOpts.report && res != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	if genErr != nil {
		return genErr
	}

	data := res.Image
	if strings.EqualFold(filepath.Ext(generateOpts.out), ".webp") {
		if data, err = utils.ConvertToWebP(res.Image, utils.DefaultWebPQuality); err != nil {
			return err
		}
	}
	if err := os.WriteFile(generateOpts.out, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	log.Info("✅ Try-on written",
		zap.String("path", generateOpts.out),
		zap.String("preset", res.PresetUsed),
		zap.Float64("similarity", res.Verification.SimilarityScore),
		zap.Int("attempts", res.Verification.Attempts))
	return nil
}
