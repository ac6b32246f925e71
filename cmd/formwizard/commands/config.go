package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/livetemplate/formwizard/internal/config"
)

// ValidateCommand checks a configuration without starting the server.
func ValidateCommand(args []string) error {
	opts := parseServeArgs(args)
	cfg, err := loadConfig(opts.dir, opts.configPath)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Configuration is valid\n\n")
	fmt.Printf("  Listen:      %s\n", cfg.Server.Addr())
	fmt.Printf("  Storage:     %s (prefix %q)\n", cfg.Storage.Driver, cfg.Storage.GetKeyPrefix())
	fmt.Printf("  Autosave:    %s debounce\n", cfg.Autosave.GetDebounce())
	fmt.Printf("  Language:    %s\n", cfg.I18n.DefaultLanguage)
	if cfg.Submission.WebhookURL != "" {
		fmt.Printf("  Submissions: webhook %s (retries: %d)\n", cfg.Submission.WebhookURL, cfg.Submission.Retries)
	} else {
		fmt.Printf("  Submissions: simulated, %.0f%% failures\n", cfg.Submission.FailureRate*100)
	}
	return nil
}

// InitCommand writes a default formwizard.yaml.
// Usage: formwizard init [directory] [--force]
func InitCommand(args []string) error {
	dir := "."
	force := false
	for _, arg := range args {
		switch {
		case arg == "--force" || arg == "-f":
			force = true
		case !strings.HasPrefix(arg, "-"):
			dir = arg
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(dir, "formwizard.yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Printf("📝 Wrote %s\n", path)
	return nil
}
