package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dossier/internal/config"
	"dossier/internal/core"
	"dossier/internal/cost"
	"dossier/internal/logger"
	"dossier/internal/report"

	"github.com/spf13/cobra"
)

// defaultEstimateSections is assumed when a request carries no section guidance.
const defaultEstimateSections = 8

type generateOptions struct {
	requestFile string
	resumeID    string
	dryRun      bool
	estimate    bool
	noUpload    bool

	entity      string
	compare     []string
	language    string
	orientation string
	sections    []string
	model       string
}

// NewGenerateCmd creates the generate command
func NewGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a report",
		Long: `Generate a multi-section report.

The request comes from a YAML file (--request) and/or flags; flags win.
Anything left unset falls back to the report section of the config file.

Examples:
  # Compare two banks in English
  dossier generate --entity "Acme Bank" --compare "Beta Bank" --language English

  # Use a request file and print the expected cost without calling the model
  dossier generate --request acme.yaml --estimate

  # Re-run the assembly of an earlier run from its saved history
  dossier generate --request acme.yaml --resume 20250301_1a2b3c4d

  # Exercise the whole pipeline offline
  dossier generate --entity "Acme Bank" --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.requestFile, "request", "r", "", "YAML report request file")
	cmd.Flags().StringVar(&opts.resumeID, "resume", "", "Resume from the saved history of this request id")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Use canned model output instead of calling the model")
	cmd.Flags().BoolVar(&opts.estimate, "estimate", false, "Print a cost estimate and exit")
	cmd.Flags().BoolVar(&opts.noUpload, "no-upload", false, "Keep artifacts local even when upload is enabled")
	cmd.Flags().StringVarP(&opts.entity, "entity", "e", "", "Primary entity of the report")
	cmd.Flags().StringSliceVarP(&opts.compare, "compare", "c", nil, "Comparison entities (repeatable or comma separated)")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Report language")
	cmd.Flags().StringVar(&opts.orientation, "orientation", "", "Page orientation: landscape or portrait")
	cmd.Flags().StringSliceVar(&opts.sections, "section", nil, "Section guidance (repeatable)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model id for section generation")

	return cmd
}

// buildRequest merges the request file with flag overrides.
func buildRequest(opts generateOptions) (core.ReportConfig, error) {
	var req core.ReportConfig
	if opts.requestFile != "" {
		loaded, err := core.LoadReportConfig(opts.requestFile)
		if err != nil {
			return req, err
		}
		req = loaded
	}

	if opts.entity != "" {
		req.PrimaryEntity = opts.entity
	}
	if len(opts.compare) > 0 {
		req.ComparisonEntities = opts.compare
	}
	if opts.language != "" {
		req.Language = opts.language
	}
	if opts.orientation != "" {
		req.Orientation = core.Orientation(strings.ToLower(opts.orientation))
	}
	if len(opts.sections) > 0 {
		req.SectionGuidance = opts.sections
	}
	if opts.model != "" {
		req.ModelID = opts.model
	}
	return req, nil
}

func runGenerate(ctx context.Context, opts generateOptions) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	req, err := buildRequest(opts)
	if err != nil {
		return err
	}

	if opts.estimate {
		merged := req.WithDefaults(cfg.ReportDefaults())
		if err := merged.Validate(); err != nil {
			return err
		}
		sections := len(merged.SectionGuidance)
		if sections == 0 {
			sections = defaultEstimateSections
		}
		fmt.Println(cost.EstimateReportCost(sections, merged.ModelID, merged.FastModel(), strings.Join(merged.SectionGuidance, "\n")).FormatEstimate())
		return nil
	}

	offline := opts.dryRun || cfg.AI.Provider == "scripted"
	env, err := newReportEnv(ctx, cfg, offline)
	if err != nil {
		return err
	}
	defer env.Close(context.Background())

	log.Info("Generating report", "primary_entity", req.PrimaryEntity, "dry_run", offline, "resume", opts.resumeID)

	outcome, err := env.service.Run(ctx, req, report.Options{
		ResumeID: opts.resumeID,
		DryRun:   offline,
		NoUpload: opts.noUpload,
	})
	if err != nil {
		if outcome != nil {
			fmt.Printf("\nRequest %s failed after %s\n", outcome.RequestID, outcome.Duration.Round(time.Second))
		}
		return fmt.Errorf("report generation failed: %w", err)
	}

	printOutcome(outcome)
	return nil
}

func printOutcome(o *report.Outcome) {
	fmt.Printf("\n✅ %s\n", o.Title)
	fmt.Printf("   Request ID: %s\n", o.RequestID)
	fmt.Printf("   Sections:   %d", o.Sections)
	if o.Failed > 0 {
		fmt.Printf(" (%d failed)", o.Failed)
	}
	fmt.Println()
	if o.Artifacts != nil {
		fmt.Printf("   Markdown:   %s\n", o.Artifacts.Markdown)
		fmt.Printf("   HTML:       %s\n", o.Artifacts.HTML)
		if o.Artifacts.PDF != "" {
			fmt.Printf("   PDF:        %s\n", o.Artifacts.PDF)
		}
	}
	if o.URL != "" {
		fmt.Printf("   URL:        %s\n", o.URL)
	}
	fmt.Printf("   Usage:      %d calls, %d tokens, $%.4f in %s\n",
		o.Totals.Calls, o.Totals.TotalTokens, o.Totals.TotalCost, o.Duration.Round(time.Second))
}
