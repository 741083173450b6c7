package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
// flags may be nil; changed flags override file and environment values.
func Load(explicitPath string, flags *pflag.FlagSet) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
		}
		cfg, warnings, err := Parse("", Default(), flags)
		if err != nil {
			return Loaded{}, err
		}
		notFound := Warning{Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath)}
		return Loaded{
			Path:     resolvedPath,
			Config:   cfg,
			Warnings: append([]Warning{notFound}, warnings...),
			Exists:   false,
		}, nil
	}

	cfg, warnings, err := Parse(string(content), Default(), flags)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, nil
}
