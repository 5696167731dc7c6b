package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"sparkie/internal/infra/config"
)

// CheckStatus is the outcome class of one configuration check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named check over a loaded config.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

func runCheckConfig(out io.Writer) error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Model providers", Fn: checkProviders},
		{Name: "Tiers", Fn: checkTiers},
		{Name: "Web search", Fn: checkSearch},
		{Name: "Media generation", Fn: checkMedia},
		{Name: "Storage", Fn: checkStorage},
		{Name: "Connectors", Fn: checkConnectors},
	}

	fmt.Fprintln(out, "sparkie check-config")
	fmt.Fprintln(out, strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		fmt.Fprintf(out, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

// checkConfigFile reports on loading. A missing file is fine: defaults and
// the environment still apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(*config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     "Correct the listed fields in " + cfgPath + " or the SPARKIE_* environment",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("%s not found, using defaults and environment", cfgPath)}
		}
		return CheckResult{Status: StatusPass, Message: "loaded from " + cfgPath}
	}
}

func checkProviders(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	var ready, missing []string
	for _, p := range cfg.LLM.Providers {
		if p.APIKey != "" || p.NoAuth {
			ready = append(ready, p.Name)
		} else {
			missing = append(missing, p.Name)
		}
	}
	switch {
	case len(ready) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: "no provider has a credential",
			Fix:     "Set SPARKIE_<PROVIDER>_API_KEY, e.g. SPARKIE_OPENCODE_API_KEY",
		}
	case len(missing) > 0:
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("ready: %s; missing credential: %s",
			strings.Join(ready, ", "), strings.Join(missing, ", "))}
	default:
		return CheckResult{Status: StatusPass, Message: "ready: " + strings.Join(ready, ", ")}
	}
}

// checkTiers reports tiers whose whole candidate chain lacks a credentialed provider.
func checkTiers(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	available := make(map[string]bool)
	for _, p := range cfg.LLM.Providers {
		for _, m := range p.Models {
			available[m] = p.APIKey != "" || p.NoAuth
		}
	}
	var dead []string
	for name, tc := range cfg.LLM.Tiers {
		live := false
		for _, m := range append([]string{tc.Primary}, tc.Fallbacks...) {
			live = live || available[m]
		}
		if !live {
			dead = append(dead, name)
		}
	}
	if len(dead) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no usable model for tier(s): " + strings.Join(sortedCopy(dead), ", "),
			Fix:     "Add a credential for a provider serving one of the tier's models",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d tiers have a usable model", len(cfg.LLM.Tiers))}
}

func checkSearch(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	tc := cfg.Tools
	switch {
	case tc.SearchBackend == "tavily" && tc.TavilyAPIKey == "":
		return CheckResult{Status: StatusWarn, Message: "web_search disabled: no Tavily key", Fix: "Set SPARKIE_TAVILY_API_KEY"}
	case tc.SearchBackend == "searxng" && tc.SearXNGURL == "":
		return CheckResult{Status: StatusWarn, Message: "web_search disabled: no SearXNG URL"}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s backend, %s cache", tc.SearchBackend, tc.SearchCache)}
}

func checkMedia(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	if cfg.Tools.MediaURL == "" {
		return CheckResult{Status: StatusWarn, Message: "generate_image/video/audio disabled", Fix: "Set tools.media_url"}
	}
	return CheckResult{Status: StatusPass, Message: cfg.Tools.MediaURL}
}

// checkStorage verifies the directories of the embedded databases are writable.
func checkStorage(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	var paths []string
	if cfg.Memory.Provider == "sqlite" {
		paths = append(paths, cfg.Memory.Path)
	}
	if cfg.Tasks.Store != "postgres" {
		paths = append(paths, cfg.Tasks.Path)
	}
	for _, p := range paths {
		if err := writable(filepath.Dir(p)); err != nil {
			return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Create the directory or change its permissions"}
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("memory=%s tasks=%s", cfg.Memory.Provider, cfg.Tasks.Store)}
}

func checkConnectors(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	if !cfg.Connectors.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	if len(cfg.Connectors.Servers) == 0 {
		return CheckResult{Status: StatusWarn, Message: "enabled but no servers configured"}
	}
	names := make([]string, 0, len(cfg.Connectors.Servers))
	for _, s := range cfg.Connectors.Servers {
		names = append(names, s.Name)
	}
	return CheckResult{Status: StatusPass, Message: strings.Join(names, ", ")}
}

// writable reports whether dir exists, or can be created, and accepts files.
func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".sparkie-check-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	slices.Sort(out)
	return out
}
