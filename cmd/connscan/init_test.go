package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ludo-technologies/connscan/internal/config"
)

func runInitCmd(t *testing.T, args ...string) error {
	t.Helper()
	cmd := initCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs(args)
	return cmd.Execute()
}

func readConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	cfg := config.DefaultConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		t.Fatalf("Config file is not valid YAML: %v", err)
	}
	return cfg
}

func TestInitCommand_BasicConfigCreation(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".connscan.yaml")

	if err := runInitCmd(t, "--config", configPath); err != nil {
		t.Fatalf("init command failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	for _, section := range []string{"cache:", "incremental:", "streaming:", "aggregation:", "watch:", "analysis:", "output:"} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Config file missing expected section: %s", section)
		}
	}
	if err := readConfig(t, configPath).Validate(); err != nil {
		t.Errorf("Generated config does not validate: %v", err)
	}
}

func TestInitCommand_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".connscan.yaml")
	if err := os.WriteFile(configPath, []byte("existing: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := runInitCmd(t, "--config", configPath)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Expected 'already exists' error, got: %v", err)
	}

	if err := runInitCmd(t, "--config", configPath, "--force"); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}
	content, _ := os.ReadFile(configPath)
	if !strings.Contains(string(content), "streaming:") {
		t.Error("Config file was not overwritten with new content")
	}
}

func TestInitCommand_Presets(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		wantInclude    string
		wantParameters int
	}{
		{"default python", nil, "*.py", config.DefaultMaxParameters},
		{"typescript strict", []string{"--project", "typescript", "--strictness", "strict"}, "*.ts", 3},
		{"javascript relaxed", []string{"--project", "javascript", "--strictness", "relaxed"}, "*.js", 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "connscan.yaml")
			if err := runInitCmd(t, append([]string{"--config", configPath}, tt.args...)...); err != nil {
				t.Fatalf("init failed: %v", err)
			}
			cfg := readConfig(t, configPath)
			if !contains(cfg.Watch.IncludePatterns, tt.wantInclude) {
				t.Errorf("Expected include %s, got %v", tt.wantInclude, cfg.Watch.IncludePatterns)
			}
			if cfg.Analysis.MaxParameters != tt.wantParameters {
				t.Errorf("Expected max_parameters %d, got %d", tt.wantParameters, cfg.Analysis.MaxParameters)
			}
		})
	}
}

func TestInitCommand_MinimalConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".connscan.yaml")

	if err := runInitCmd(t, "--config", configPath, "--minimal"); err != nil {
		t.Fatalf("init --minimal failed: %v", err)
	}
	content, _ := os.ReadFile(configPath)
	if strings.Contains(string(content), "aggregation:") {
		t.Error("Minimal config should leave aggregation at defaults")
	}
	if err := readConfig(t, configPath).Validate(); err != nil {
		t.Errorf("Minimal config does not validate: %v", err)
	}
}

func TestInitCommand_InvalidInput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing directory", []string{"--config", filepath.Join(dir, "missing", "c.yaml")}, "directory does not exist"},
		{"unknown project", []string{"--config", filepath.Join(dir, "c.yaml"), "--project", "cobol"}, "unknown project type"},
		{"unknown strictness", []string{"--config", filepath.Join(dir, "c.yaml"), "--strictness", "lenient"}, "unknown strictness"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runInitCmd(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q error, got %v", tt.want, err)
			}
		})
	}
}

func TestInitCmd_FlagsExist(t *testing.T) {
	cmd := initCmd()

	for _, name := range []string{"config", "force", "minimal", "interactive", "project", "strictness"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("Missing expected flag: --%s", name)
		}
	}
	for short, long := range map[string]string{"c": "config", "f": "force", "i": "interactive"} {
		if cmd.Flags().ShorthandLookup(short) == nil {
			t.Errorf("Missing short flag -%s for --%s", short, long)
		}
	}
	if def := cmd.Flags().Lookup("config").DefValue; def != ".connscan.yaml" {
		t.Errorf("Expected default config path .connscan.yaml, got %s", def)
	}
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
