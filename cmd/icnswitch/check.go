package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/benaskins/icnswitch/internal/config"
	"github.com/benaskins/icnswitch/internal/spec"
	"github.com/benaskins/icnswitch/internal/template"
)

type checkResult struct {
	Path     string   `json:"path"`
	Name     string   `json:"name,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Type     string   `json:"type,omitempty"`
	Valid    bool     `json:"valid"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [file-or-dir]",
	Short: "Validate service spec files",
	Long:  "Parse and validate YAML service specs. Checks a specific file, a directory, or the default spec directory (~/.icnswitch/services/).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	target := config.SpecDir()
	if len(args) > 0 {
		target = args[0]
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", target, err)
	}

	var files []string
	if info.IsDir() {
		yamlFiles, _ := filepath.Glob(filepath.Join(target, "*.yaml"))
		ymlFiles, _ := filepath.Glob(filepath.Join(target, "*.yml"))
		files = append(yamlFiles, ymlFiles...)
		if len(files) == 0 {
			return fmt.Errorf("no YAML files found in %s", target)
		}
	} else {
		files = []string{target}
	}

	results := make([]checkResult, 0, len(files))
	var failed int
	for _, path := range files {
		r := checkFile(path)
		if !r.Valid {
			failed++
		}
		results = append(results, r)
	}

	if jsonFlag {
		return printJSON(results)
	}

	for _, r := range results {
		if r.Valid {
			fmt.Printf("OK    %s (%s, %s %s)\n", r.Path, r.Name, r.Kind, r.Type)
		} else {
			fmt.Fprintf(os.Stderr, "FAIL  %s\n      %v\n", r.Path, r.Error)
		}
		for _, w := range r.Warnings {
			fmt.Printf("      warning: %s\n", w)
		}
	}

	if len(files) > 1 {
		fmt.Printf("\n%d/%d specs valid\n", len(files)-failed, len(files))
	}

	if failed > 0 {
		return fmt.Errorf("%d spec(s) failed validation", failed)
	}
	return nil
}

func checkFile(path string) checkResult {
	s, err := spec.Load(path)
	if err != nil {
		return checkResult{Path: path, Error: err.Error()}
	}
	r := checkResult{
		Path:  path,
		Name:  s.Service.Name,
		Kind:  string(s.Kind()),
		Type:  s.Service.Type,
		Valid: true,
	}

	tmpl, tmplPath := s.Template()
	if tmplPath != "" {
		if tmpl, err = template.Load(tmplPath); err != nil {
			r.Warnings = append(r.Warnings, err.Error())
			return r
		}
	}
	keys := s.Keys()
	for _, name := range template.Placeholders(tmpl) {
		if !slices.Contains(keys, name) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("placeholder %%%%%s%%%% is not a preference key and will fail to render", name))
		}
	}
	return r
}
