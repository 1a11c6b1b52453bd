package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/classifier"
	internalconfig "github.com/JakeFAU/profile-extractor/internal/config"
	"github.com/JakeFAU/profile-extractor/internal/extract"
	"github.com/JakeFAU/profile-extractor/internal/profile"
	"github.com/JakeFAU/profile-extractor/internal/stabilize"
)

// snapshotReport is what 'parse' prints for one HTML file.
type snapshotReport struct {
	URL     string                    `json:"url"`
	Title   string                    `json:"title"`
	Verdict profile.Verdict           `json:"verdict"`
	Marker  string                    `json:"marker,omitempty"`
	Anchor  bool                      `json:"anchorPresent"`
	Result  *profile.ExtractionResult `json:"result,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// newParseCmd creates the 'parse' subcommand.
func newParseCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Classifies and extracts a saved HTML snapshot offline",
		Long: `Runs the block classifier and the extraction engine over a saved HTML
page without launching a browser. Useful for tuning selector chains.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open snapshot: %w", err)
			}
			defer f.Close() //nolint:errcheck // read-only

			report, err := analyzeSnapshot(cmd.Context(), f, url, e.cfg, e.logger)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "URL to record in the result")
	return cmd
}

// analyzeSnapshot mirrors one live attempt after stabilization: signals,
// verdict, then extraction when the verdict is OK.
func analyzeSnapshot(
	ctx context.Context,
	r io.Reader,
	url string,
	cfg internalconfig.Config,
	logger *zap.Logger,
) (snapshotReport, error) {
	dom, err := extract.NewHTMLDOM(r)
	if err != nil {
		return snapshotReport{}, err
	}
	engine, err := extract.New(extract.MergeFieldSpecs(extract.DefaultFieldSpecs(), cfg.Extract.Fields), logger)
	if err != nil {
		return snapshotReport{}, fmt.Errorf("init extraction engine: %w", err)
	}
	cls := classifier.New(cfg.Classifier.Markers)

	anchors := cfg.Stabilize.Anchors
	if len(anchors) == 0 {
		anchors = stabilize.DefaultAnchors
	}
	signals := classifier.SnapshotSignals(dom.Document(), anchors)
	if !signals.AnchorPresent {
		signals.FallbackContent, err = engine.HasContent(ctx, dom)
		if err != nil {
			return snapshotReport{}, fmt.Errorf("probe content: %w", err)
		}
	}

	report := snapshotReport{
		URL:     url,
		Title:   signals.Title,
		Verdict: cls.Classify(signals),
		Marker:  cls.Marker(signals.Title),
		Anchor:  signals.AnchorPresent,
	}
	if report.Verdict != profile.VerdictOK {
		return report, nil
	}
	res, err := engine.Extract(ctx, url, dom, !signals.AnchorPresent)
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}
	report.Result = &res
	return report, nil
}
