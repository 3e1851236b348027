package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

var (
	ErrConfigFormat       = errors.New("unsupported or malformed config file")
	ErrConfigFileNotFound = errors.New("config file not found")
)

// Keys of the redaction config file. They double as viper keys.
const (
	KeySrcFile            = "src_file"
	KeyOutputFile         = "output_file"
	KeySearches           = "searches"
	KeyPredefinedPatterns = "predefined_patterns"
	KeyReplacement        = "replacement"
	KeyIgnoreCase         = "ignore_case"
	KeyVerbose            = "verbose"
	KeyOverwrite          = "overwrite"
	KeyValidatePatterns   = "validate_patterns"
	KeyPrintStats         = "print_stats"
	KeyDryRun             = "dry_run"
	KeyStatsFile          = "stats_file"
)

// RedactionConfig holds the options of one CLI redaction run
type RedactionConfig struct {
	SrcFile            string   `yaml:"src_file" json:"src_file"`
	OutputFile         string   `yaml:"output_file" json:"output_file"`
	Searches           []string `yaml:"searches" json:"searches"`
	PredefinedPatterns []string `yaml:"predefined_patterns" json:"predefined_patterns"`
	Replacement        string   `yaml:"replacement" json:"replacement"`
	IgnoreCase         bool     `yaml:"ignore_case" json:"ignore_case"`
	Verbose            bool     `yaml:"verbose" json:"verbose"`
	Overwrite          bool     `yaml:"overwrite" json:"overwrite"`
	ValidatePatterns   bool     `yaml:"validate_patterns" json:"validate_patterns"`
	PrintStats         bool     `yaml:"print_stats" json:"print_stats"`
	DryRun             bool     `yaml:"dry_run" json:"dry_run"`
	StatsFile          string   `yaml:"stats_file,omitempty" json:"stats_file,omitempty"`
}

// DefaultRedactionConfig returns the documented defaults
func DefaultRedactionConfig() RedactionConfig {
	return RedactionConfig{
		Searches:           []string{},
		PredefinedPatterns: []string{},
		Replacement:        "***REDACTED***",
		ValidatePatterns:   true,
	}
}

// SampleRedactionConfig returns the configuration written by --generate-sample-config
func SampleRedactionConfig() RedactionConfig {
	return RedactionConfig{
		SrcFile:    "input.pdf",
		OutputFile: "output.pdf",
		Searches: []string{
			"email@example.com",
			`\b\d{3}-\d{2}-\d{4}\b`,
		},
		PredefinedPatterns: []string{"email", "phone"},
		Replacement:        "[REDACTED]",
		IgnoreCase:         true,
		Verbose:            false,
		Overwrite:          false,
		ValidatePatterns:   true,
		PrintStats:         false,
		DryRun:             true,
	}
}

// SetRedactionDefaults registers the documented defaults on v
func SetRedactionDefaults(v *viper.Viper) {
	d := DefaultRedactionConfig()
	v.SetDefault(KeySearches, d.Searches)
	v.SetDefault(KeyPredefinedPatterns, d.PredefinedPatterns)
	v.SetDefault(KeyReplacement, d.Replacement)
	v.SetDefault(KeyValidatePatterns, d.ValidatePatterns)
}

// ReadRedactionFile merges the YAML or JSON file at path into v.
func ReadRedactionFile(v *viper.Viper, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
	}

	format, err := formatOf(path)
	if err != nil {
		return err
	}

	v.SetConfigFile(path)
	v.SetConfigType(format)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigFormat, path, err)
	}
	return nil
}

// RedactionFromViper resolves every redaction key on v
func RedactionFromViper(v *viper.Viper) RedactionConfig {
	return RedactionConfig{
		SrcFile:            v.GetString(KeySrcFile),
		OutputFile:         v.GetString(KeyOutputFile),
		Searches:           nonNil(v.GetStringSlice(KeySearches)),
		PredefinedPatterns: nonNil(v.GetStringSlice(KeyPredefinedPatterns)),
		Replacement:        v.GetString(KeyReplacement),
		IgnoreCase:         v.GetBool(KeyIgnoreCase),
		Verbose:            v.GetBool(KeyVerbose),
		Overwrite:          v.GetBool(KeyOverwrite),
		ValidatePatterns:   v.GetBool(KeyValidatePatterns),
		PrintStats:         v.GetBool(KeyPrintStats),
		DryRun:             v.GetBool(KeyDryRun),
		StatsFile:          v.GetString(KeyStatsFile),
	}
}

// LoadRedactionConfig reads a redaction config file on top of the defaults
func LoadRedactionConfig(path string) (RedactionConfig, error) {
	v := viper.New()
	SetRedactionDefaults(v)
	if err := ReadRedactionFile(v, path); err != nil {
		return RedactionConfig{}, err
	}
	return RedactionFromViper(v), nil
}

// SaveRedactionConfig writes cfg as YAML or JSON depending on the extension of path
func SaveRedactionConfig(path string, cfg RedactionConfig) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case "yaml":
		data, err = yaml.Marshal(cfg)
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateSampleConfig writes the sample configuration to path
func GenerateSampleConfig(path string) error {
	return SaveRedactionConfig(path, SampleRedactionConfig())
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("%w: %s (use .yaml, .yml or .json)", ErrConfigFormat, path)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
