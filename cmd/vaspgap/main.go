package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dshills/vaspgap/internal/analysis"
	"github.com/dshills/vaspgap/internal/config"
	"github.com/dshills/vaspgap/internal/extract"
	"github.com/dshills/vaspgap/internal/gap"
	"github.com/dshills/vaspgap/internal/llm"
	"github.com/dshills/vaspgap/internal/logging"
	"github.com/dshills/vaspgap/internal/match"
	"github.com/dshills/vaspgap/internal/render"
	"github.com/dshills/vaspgap/internal/review"
	"github.com/dshills/vaspgap/internal/rules"
	"github.com/dshills/vaspgap/internal/schema"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// analyzeFlags holds the parsed flags for the analyze command.
type analyzeFlags struct {
	configPath        string
	format            string
	out               string
	reportOut         string
	rulesPath         string
	model             string
	extractor         string
	extractorEndpoint string
	llmBaseURL        string
	caseInsensitive   bool
	fuzzy             float64
	excerptChars      int
	maxTokens         int
	temperature       float64
	concurrency       int
	failFast          bool
	noRedact          bool
	failOn            string
	verbose           bool
	debug             bool

	// set records which flags were given explicitly; only those override
	// the config file.
	set map[string]bool
}

func (f analyzeFlags) changed(name string) bool { return f.set[name] }

func main() {
	root := &cobra.Command{
		Use:   "vaspgap",
		Short: "Find compliance gaps in VASP license applications",
		Long: "vaspgap extracts text from a VASP license application PDF, checks it against a table of " +
			"regulatory keyword rules, and asks a language model to assess every rule the document does not mention.",
		SilenceUsage: true,
	}

	var flags analyzeFlags
	analyzeCmd := &cobra.Command{
		Use:   "analyze <pdf-path-or-url>",
		Short: "Analyze a document and produce a gap report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.set = map[string]bool{}
			cmd.Flags().Visit(func(fl *pflag.Flag) { flags.set[fl.Name] = true })

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAnalyze(ctx, args[0], flags, cmd.OutOrStdout())
		},
	}

	f := analyzeCmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "YAML config file (default $VASPGAP_CONFIG)")
	f.StringVar(&flags.format, "format", "md", "Output format: md, json or text")
	f.StringVar(&flags.out, "out", "", "Write output to file instead of stdout")
	f.StringVar(&flags.reportOut, "report-out", "", "Also write the Markdown report to this file")
	f.StringVar(&flags.rulesPath, "rules", "", "YAML rule table (default: built-in Dubai VASP rules)")
	f.StringVar(&flags.model, "model", "", "LLM as provider:model (default $VASPGAP_MODEL or "+llm.DefaultModel+")")
	f.StringVar(&flags.extractor, "extractor", "", "Text extractor: pdfco or local")
	f.StringVar(&flags.extractorEndpoint, "extractor-endpoint", "", "Override the PDF.co conversion endpoint")
	f.StringVar(&flags.llmBaseURL, "llm-base-url", "", "Override the LLM API base URL")
	f.BoolVar(&flags.caseInsensitive, "case-insensitive", false, "Match keywords ignoring case")
	f.Float64Var(&flags.fuzzy, "fuzzy", 0, "Approximate keyword matching threshold (0 disables, at most "+fmt.Sprint(match.MaxFuzzyThreshold)+"; higher values match unrelated text)")
	f.IntVar(&flags.excerptChars, "excerpt-chars", llm.DefaultExcerptChars, "Characters of document text sent per LLM request (0 = all)")
	f.IntVar(&flags.maxTokens, "max-tokens", 500, "Maximum response tokens per gap")
	f.Float64Var(&flags.temperature, "temperature", 0, "LLM temperature (0 = provider default)")
	f.IntVar(&flags.concurrency, "concurrency", 1, "Gap analysis requests in flight")
	f.BoolVar(&flags.failFast, "fail-fast", false, "Abort the run when any gap analysis request fails")
	f.BoolVar(&flags.noRedact, "no-redact", false, "Send the excerpt without masking secrets")
	f.StringVar(&flags.failOn, "fail-on", "", "Exit 2 if any gap has at least this criticality (critical, high, medium, low)")
	f.BoolVar(&flags.verbose, "verbose", false, "Print processing steps to stderr")
	f.BoolVar(&flags.debug, "debug", false, "Dump full prompts (including document text) to stderr; use only in trusted environments")

	var listRulesPath, listFormat string
	rulesCmd := &cobra.Command{
		Use:   "rules [rule-id]",
		Short: "List the compliance rule table, or show one rule",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return runRules(listRulesPath, id, listFormat, cmd.OutOrStdout())
		},
	}
	rulesCmd.Flags().StringVar(&listRulesPath, "rules", "", "YAML rule table (default: built-in Dubai VASP rules)")
	rulesCmd.Flags().StringVar(&listFormat, "format", "text", "Output format: text or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(analyzeCmd, rulesCmd, versionCmd)

	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		// cobra already printed the error
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies explicitly set flags on top.
func loadConfig(flags analyzeFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.changed("rules") {
		cfg.Rules = flags.rulesPath
	}
	if flags.changed("model") {
		cfg.Model = flags.model
	}
	if flags.changed("extractor") {
		cfg.Extractor.Name = flags.extractor
	}
	if flags.changed("extractor-endpoint") {
		cfg.Extractor.Endpoint = flags.extractorEndpoint
	}
	if flags.changed("llm-base-url") {
		cfg.LLM.BaseURL = flags.llmBaseURL
	}
	if flags.changed("case-insensitive") {
		cfg.Match.CaseInsensitive = flags.caseInsensitive
	}
	if flags.changed("fuzzy") {
		cfg.Match.Fuzzy = flags.fuzzy
	}
	if flags.changed("excerpt-chars") {
		cfg.LLM.ExcerptChars = flags.excerptChars
	}
	if flags.changed("max-tokens") {
		cfg.LLM.MaxTokens = flags.maxTokens
	}
	if flags.changed("temperature") {
		cfg.LLM.Temperature = flags.temperature
	}
	if flags.changed("concurrency") {
		cfg.LLM.Concurrency = flags.concurrency
	}
	if flags.changed("fail-fast") {
		cfg.LLM.FailFast = flags.failFast
	}
	if flags.changed("no-redact") {
		cfg.LLM.Redact = !flags.noRedact
	}
	return cfg, cfg.Validate()
}

func runAnalyze(ctx context.Context, source string, flags analyzeFlags, stdout io.Writer) error {
	log := logging.New(flags.verbose, flags.debug)
	defer log.Sync() //nolint:errcheck

	// --- Step 1: Validate flags and resolve config ---
	if err := validateFlags(flags); err != nil {
		return codeError(3, "invalid flags: %s", err)
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return codeError(3, "config: %s", err)
	}

	// --- Step 2: Credentials; both keys must be present before any call ---
	creds := config.CredentialsFromEnv(cfg.Model)
	if cfg.Extractor.Name == "pdfco" && creds.PDFCo == "" {
		return codeError(3, "PDFCO_API_KEY environment variable not set")
	}
	if creds.LLM == "" {
		provider, _, _ := llm.ParseModel(cfg.Model)
		return codeError(3, "%s environment variable not set", llm.KeyEnv(provider))
	}

	// --- Step 3: Load rule table ---
	tbl, err := rules.LoadOrDefault(cfg.Rules)
	if err != nil {
		return codeError(3, "loading rules: %s", err)
	}
	log.Info("rules loaded", zap.String("source", tbl.Source), zap.Int("count", tbl.Len()))
	log.Debug("rule ids", zap.Strings("ids", tbl.IDs()))

	// --- Step 4: Build extractor and provider ---
	exOpts := []extract.Option{extract.WithLogger(log)}
	if cfg.Extractor.Endpoint != "" {
		exOpts = append(exOpts, extract.WithEndpoint(cfg.Extractor.Endpoint))
	}
	ex, err := extract.New(cfg.Extractor.Name, creds.PDFCo, exOpts...)
	if err != nil {
		return codeError(3, "creating extractor: %s", err)
	}

	var llmOpts []llm.Option
	if cfg.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	provider, err := llm.NewProvider(cfg.Model, creds.LLM, llmOpts...)
	if err != nil {
		return codeError(4, "creating LLM provider: %s", err)
	}

	// --- Step 5: Run pipeline ---
	pipeline := &analysis.Pipeline{
		Extractor: ex,
		Rules:     tbl,
		Match: match.Options{
			CaseInsensitive: cfg.Match.CaseInsensitive,
			FuzzyThreshold:  cfg.Match.Fuzzy,
		},
		Analyzer: &gap.Analyzer{
			Provider:     provider,
			ExcerptChars: cfg.LLM.ExcerptChars,
			MaxTokens:    cfg.LLM.MaxTokens,
			Temperature:  cfg.LLM.Temperature,
			Concurrency:  cfg.LLM.Concurrency,
			FailFast:     cfg.LLM.FailFast,
			Redact:       cfg.LLM.Redact,
			Logger:       log,
		},
		Logger: log,
	}

	started := time.Now()
	outcome, runErr := pipeline.Run(ctx, source)
	if runErr != nil {
		errResult := analysis.AsErrorResult(runErr)
		if flags.format == "json" {
			data, err := render.ErrorJSON(errResult.Error)
			if err == nil {
				if werr := writeOutput(flags.out, data, stdout); werr != nil {
					log.Warn("writing error result failed", zap.Error(werr))
				}
			}
		}
		return codeError(5, "analysis failed: %s", errResult.Error)
	}

	// --- Step 6: Assemble report envelope ---
	result := outcome.Result
	report := &schema.Report{
		Tool:    "vaspgap",
		Version: version,
		RunID:   uuid.New().String(),
		Input: schema.Input{
			Document:     source,
			DocumentHash: outcome.Document.Hash,
			RulesSource:  tbl.Source,
			Extractor:    cfg.Extractor.Name,
			ExcerptChars: cfg.LLM.ExcerptChars,
			Model:        cfg.Model,
		},
		Result: result,
		Counts: review.Counts(result.Gaps),
		Score:  review.Score(result.Gaps),
		Meta: schema.Meta{
			Model:      cfg.Model,
			StartedAt:  started.UTC(),
			DurationMS: time.Since(started).Milliseconds(),
		},
	}
	log.Info("analysis complete",
		zap.String("summary", result.Summary),
		zap.Int("gaps", report.Counts.Total()),
		zap.Int("score", report.Score))

	// --- Step 7: Render and write ---
	renderer, err := render.NewRenderer(flags.format)
	if err != nil {
		return codeError(3, "invalid format: %s", err)
	}
	outputBytes, err := renderer.Render(report)
	if err != nil {
		return codeError(3, "rendering output: %s", err)
	}
	if err := writeOutput(flags.out, outputBytes, stdout); err != nil {
		return codeError(3, "writing output: %s", err)
	}

	if flags.reportOut != "" {
		md, err := render.Markdown(result, source)
		if err != nil {
			return codeError(3, "rendering report: %s", err)
		}
		if err := os.WriteFile(flags.reportOut, md, 0o644); err != nil {
			return codeError(3, "writing report file: %s", err)
		}
	}

	if n := len(review.Degraded(result.Gaps)); n > 0 {
		log.Warn("some gaps could not be analyzed", zap.Int("count", n))
	}

	// --- Step 8: Evaluate --fail-on ---
	if flags.failOn != "" {
		threshold, _ := rules.ParseCriticality(flags.failOn)
		if review.MeetsThreshold(result.Gaps, threshold) {
			return codeError(2, "gaps at or above %s criticality found", threshold)
		}
	}
	return nil
}

// writeOutput writes data to path, or to stdout when path is empty.
func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path != "" {
		return os.WriteFile(path, data, 0o644)
	}
	if _, err := stdout.Write(data); err != nil {
		return err
	}
	// Ensure output ends with a newline for terminal friendliness.
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err := fmt.Fprintln(stdout)
		return err
	}
	return nil
}

// validateFlags returns an error if any output flag value is invalid. Values
// that can also come from the config file are checked by config.Validate.
func validateFlags(flags analyzeFlags) error {
	switch flags.format {
	case "md", "json", "text":
	default:
		return fmt.Errorf("--format must be md, json or text, got %q", flags.format)
	}
	if flags.failOn != "" {
		if _, err := rules.ParseCriticality(flags.failOn); err != nil {
			return fmt.Errorf("--fail-on: %w", err)
		}
	}
	return nil
}

// runRules lists the table, or only the rule with id when id is non-empty.
func runRules(path, id, format string, stdout io.Writer) error {
	tbl, err := rules.LoadOrDefault(path)
	if err != nil {
		return codeError(3, "loading rules: %s", err)
	}
	if format != "text" && format != "json" {
		return codeError(3, "--format must be text or json, got %q", format)
	}

	if id != "" {
		r, ok := tbl.Get(id)
		if !ok {
			return codeError(3, "unknown rule %q in %s", id, tbl.Source)
		}
		if format == "json" {
			data, err := json.MarshalIndent(r, "", "  ")
			if err != nil {
				return codeError(3, "rendering rule: %s", err)
			}
			return writeOutput("", data, stdout)
		}
		var sb strings.Builder
		writeRuleText(&sb, r)
		fmt.Fprintf(&sb, "  question:  %s\n", r.GPTPrompt)
		return writeOutput("", []byte(strings.TrimPrefix(sb.String(), "\n")), stdout)
	}

	if format == "json" {
		data, err := rulesJSON(tbl)
		if err != nil {
			return codeError(3, "rendering rules: %s", err)
		}
		return writeOutput("", data, stdout)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d rules)\n", tbl.Source, tbl.Len())
	for _, r := range tbl.Rules() {
		writeRuleText(&sb, r)
	}
	return writeOutput("", []byte(sb.String()), stdout)
}

func writeRuleText(sb *strings.Builder, r rules.Rule) {
	fmt.Fprintf(sb, "\n%s [%s] %s\n", r.ID, strings.ToUpper(string(r.Criticality)), r.Requirement)
	fmt.Fprintf(sb, "  keywords:  %s\n", strings.Join(r.Keywords, "; "))
	fmt.Fprintf(sb, "  reference: %s\n", r.Reference)
}

// rulesJSON renders the table as {"source": ..., "rules": [...]}.
func rulesJSON(tbl *rules.Table) ([]byte, error) {
	return json.MarshalIndent(struct {
		Source string       `json:"source"`
		Rules  []rules.Rule `json:"rules"`
	}{tbl.Source, tbl.Rules()}, "", "  ")
}
