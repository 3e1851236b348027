// Package cli implements the pdf-redactor command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/config"
	"github.com/raaihank/pdf-redactor/internal/engine"
	"github.com/raaihank/pdf-redactor/internal/engine/pdfengine"
	"github.com/raaihank/pdf-redactor/internal/logger"
	"github.com/raaihank/pdf-redactor/internal/patterns"
	"github.com/raaihank/pdf-redactor/internal/redactor"
	"github.com/raaihank/pdf-redactor/internal/report"
	"github.com/raaihank/pdf-redactor/internal/version"
)

// ErrMissingArguments is returned when the source or output path is not set
var ErrMissingArguments = errors.New("missing required arguments")

// Options customise the command for embedding and tests
type Options struct {
	// NewEngine builds the document engine once the logger is known.
	// Defaults to the pdfengine implementation.
	NewEngine func(*zap.Logger) (engine.Engine, engine.Compressor)
	// Logger replaces the console logger built from --verbose.
	Logger *zap.Logger
}

// flags that map onto redaction config keys
var boundFlags = map[string]string{
	"src_file":            config.KeySrcFile,
	"output_file":         config.KeyOutputFile,
	"searches":            config.KeySearches,
	"predefined-patterns": config.KeyPredefinedPatterns,
	"replacement":         config.KeyReplacement,
	"ignore-case":         config.KeyIgnoreCase,
	"verbose":             config.KeyVerbose,
	"overwrite":           config.KeyOverwrite,
	"validate-patterns":   config.KeyValidatePatterns,
	"print-stats":         config.KeyPrintStats,
	"dry-run":             config.KeyDryRun,
	"stats-file":          config.KeyStatsFile,
}

// multiValueFlags accept a space separated list of values after the flag
var multiValueFlags = map[string]bool{
	"-s": true, "--searches": true,
	"-P": true, "--predefined-patterns": true,
}

type command struct {
	opts Options

	configFile     string
	generateSample string
	saveConfig     string
}

// NewRootCommand builds the pdf-redactor command
func NewRootCommand(opts Options) *cobra.Command {
	if opts.NewEngine == nil {
		opts.NewEngine = func(log *zap.Logger) (engine.Engine, engine.Compressor) {
			e := pdfengine.New(log)
			return e, e
		}
	}
	c := &command{opts: opts}

	cmd := &cobra.Command{
		Use:   "pdf-redactor",
		Short: "Redact text in PDFs by literal or regular expression",
		Long: `pdf-redactor finds text in a PDF with regular expressions or predefined
patterns (email, phone, ssn, credit_card), covers every match with a
replacement label and writes a compressed copy of the result.

Options can be read from a YAML or JSON config file. Flags given on the
command line take precedence over the file.`,
		Example: `  pdf-redactor -i in.pdf -o out.pdf -s "Jane Doe" "\b\d{5}\b" -P email phone
  pdf-redactor --config-file redact.yaml -r "[REMOVED]"
  pdf-redactor --generate-sample-config redact.yaml`,
		Version:       version.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.run,
	}

	f := cmd.Flags()
	f.StringP("src_file", "i", "", "path to the source PDF file (required)")
	f.StringP("output_file", "o", "", "path to save the output PDF (required)")
	f.StringArrayP("searches", "s", nil, "text or regular expression to redact (multiple values allowed)")
	f.BoolP("ignore-case", "c", false, "case-insensitive matching")
	f.StringP("replacement", "r", redactor.DefaultReplacement, "replacement text drawn over redacted content")
	f.BoolP("verbose", "v", false, "debug logging")
	f.BoolP("overwrite", "f", false, "overwrite the output PDF if it already exists")
	f.StringArrayP("predefined-patterns", "P", nil, "predefined patterns: "+strings.Join(patterns.KindNames(), ", "))
	f.Bool("validate-patterns", true, "validate regular expressions before processing")
	f.BoolP("print-stats", "d", false, "log statistics about matched patterns")
	f.Bool("dry-run", false, "validate settings and patterns without writing output")
	f.String("stats-file", "", "export statistics to a .json, .csv or .parquet file")
	f.StringVar(&c.configFile, "config-file", "", "path to a YAML or JSON configuration file")
	f.StringVar(&c.generateSample, "generate-sample-config", "", "write a sample configuration file and exit")
	f.StringVar(&c.saveConfig, "save-config", "", "save the working configuration after a successful run")

	return cmd
}

// Execute runs the command with args and returns the process exit code
func Execute(args []string) int {
	cmd := NewRootCommand(Options{})
	cmd.SetArgs(expandArgs(args))
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func (c *command) run(cmd *cobra.Command, _ []string) error {
	if c.generateSample != "" {
		if err := config.GenerateSampleConfig(c.generateSample); err != nil {
			return c.fail(c.newLogger(false), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sample configuration written to %s\n", c.generateSample)
		return nil
	}

	v := viper.New()
	config.SetRedactionDefaults(v)
	for name, key := range boundFlags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}

	if c.configFile != "" {
		if err := config.ReadRedactionFile(v, c.configFile); err != nil {
			verbose, _ := cmd.Flags().GetBool("verbose")
			return c.fail(c.newLogger(verbose), err)
		}
	}
	cfg := config.RedactionFromViper(v)

	log := c.newLogger(cfg.Verbose)
	defer log.Sync()

	if c.configFile != "" {
		log.Info("Loaded configuration", zap.String("path", c.configFile))
	}
	log.Debug("Resolved configuration", zap.Any("config", cfg))

	if err := c.redact(log, cfg); err != nil {
		return c.fail(log, err)
	}

	if c.saveConfig != "" {
		if err := config.SaveRedactionConfig(c.saveConfig, cfg); err != nil {
			return c.fail(log, err)
		}
		log.Info("Saved working configuration", zap.String("path", c.saveConfig))
	}
	return nil
}

func (c *command) redact(log *zap.Logger, cfg config.RedactionConfig) error {
	if cfg.SrcFile == "" || cfg.OutputFile == "" {
		return fmt.Errorf("%w: source file (-i) and output file (-o) are required", ErrMissingArguments)
	}
	if len(cfg.Searches) == 0 && len(cfg.PredefinedPatterns) == 0 {
		return fmt.Errorf("%w: use searches (-s) or predefined patterns (-P)", redactor.ErrNoPatternsSpecified)
	}

	kinds, err := patterns.ParseKinds(cfg.PredefinedPatterns)
	if err != nil {
		return err
	}

	eng, comp := c.opts.NewEngine(log)
	rd, err := redactor.New(cfg.SrcFile, cfg.OutputFile, cfg.Overwrite, eng, comp, log)
	if err != nil {
		return err
	}

	opts := redactor.RunOptions{
		Needles:          cfg.Searches,
		Replacement:      cfg.Replacement,
		IgnoreCase:       cfg.IgnoreCase,
		Kinds:            kinds,
		ValidatePatterns: cfg.ValidatePatterns,
	}

	if cfg.DryRun {
		info, err := rd.Plan(opts)
		if err != nil {
			return err
		}
		for _, p := range info {
			log.Info("Pattern",
				zap.String("name", p.Name),
				zap.String("type", p.Type),
				zap.String("pattern", p.Pattern),
				zap.String("description", p.Description))
		}
		log.Info("Dry run complete, no output written", zap.Int("patterns", len(info)))
		return nil
	}

	start := time.Now()
	stats, err := rd.Run(opts)
	if err != nil {
		return err
	}
	log.Info("Redaction complete",
		zap.String("output", cfg.OutputFile),
		zap.Int("total_matches", stats.TotalMatches),
		zap.Duration("duration", time.Since(start)))

	if cfg.PrintStats {
		logStatistics(log, stats)
	}

	if cfg.StatsFile != "" {
		summary := report.Summary{
			Source:      cfg.SrcFile,
			Output:      cfg.OutputFile,
			GeneratedAt: time.Now(),
			Statistics:  stats,
			Patterns:    rd.Patterns(),
		}
		if err := report.Export(cfg.StatsFile, summary); err != nil {
			return err
		}
		log.Info("Exported statistics",
			zap.String("path", cfg.StatsFile),
			zap.String("format", string(report.DetectFormat(cfg.StatsFile))))
	}
	return nil
}

func (c *command) fail(log *zap.Logger, err error) error {
	if redactor.IsSoft(err) {
		log.Warn("Nothing to redact", zap.Error(err))
		return err
	}
	log.Error("Redaction failed", zap.String("reason", redactor.Reason(err)), zap.Error(err))
	return err
}

func (c *command) newLogger(verbose bool) *zap.Logger {
	if c.opts.Logger != nil {
		return c.opts.Logger
	}
	level := "info"
	if verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return zap.NewNop()
	}
	return log.Logger
}

func logStatistics(log *zap.Logger, stats redactor.Statistics) {
	log.Info("Statistics",
		zap.Int("total_matches", stats.TotalMatches),
		zap.Int("pages_processed", stats.PagesProcessed),
		zap.Int("pages_modified", stats.PagesModified),
		zap.Int("patterns_used", stats.PatternsUsed))
	for pattern, n := range stats.MatchesByPattern {
		log.Info("Matches by pattern", zap.String("pattern", pattern), zap.Int("matches", n))
	}
}

// expandArgs rewrites "-s a b c" as "-s a -s b -s c" so that list flags
// accept several values after a single flag.
func expandArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		out = append(out, arg)
		if arg == "--" {
			out = append(out, args[i+1:]...)
			break
		}

		name, _, inline := strings.Cut(arg, "=")
		if !multiValueFlags[name] {
			continue
		}
		if !inline && i+1 < len(args) {
			// first value belongs to the flag itself
			i++
			out = append(out, args[i])
		}
		for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			out = append(out, name, args[i])
		}
	}
	return out
}
