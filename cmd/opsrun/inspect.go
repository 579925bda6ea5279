package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opsrun/opsrun/config"
	"github.com/opsrun/opsrun/store"
	"github.com/opsrun/opsrun/task"
)

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: opsrun validate <pipeline.yaml>\n\nCheck a pipeline definition without executing it.\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("%w: pipeline file path is required", config.ErrConfiguration)
	}

	p, err := config.LoadPipeline(fs.Arg(0))
	if err != nil {
		return err
	}

	registry := task.NewRegistry()
	if err := task.RegisterBuiltins(registry); err != nil {
		return err
	}
	tasks, err := config.Validate(p, registry)
	if err != nil {
		return err
	}

	fmt.Printf("%s: ok (%d tasks)\n", p.Name, len(tasks))
	for _, tk := range tasks {
		fmt.Printf("  %-24s %s\n", tk.Name(), tk.Type())
	}
	return nil
}

func runTasks(args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: opsrun tasks\n\nList the available task types.\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	registry := task.NewRegistry()
	if err := task.RegisterBuiltins(registry); err != nil {
		return err
	}
	for _, typeID := range registry.Types() {
		fmt.Println(typeID)
	}
	return nil
}

// runPipelines lists the pipeline definitions found in a directory.
func runPipelines(args []string) error {
	fs := flag.NewFlagSet("pipelines", flag.ExitOnError)
	dir := fs.String("dir", ".", "Directory to scan for pipeline definitions")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: opsrun pipelines [options]\n\nList pipeline definitions in a directory.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", config.ErrConfiguration, *dir, err)
	}

	found := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(*dir, entry.Name())
		p, err := config.LoadPipeline(path)
		if err != nil || p.Name == "" || len(p.Tasks) == 0 {
			continue
		}
		found++
		desc := p.Description
		if desc != "" {
			desc = "  " + desc
		}
		fmt.Printf("%-24s %2d tasks  %s%s\n", p.Name, len(p.Tasks), entry.Name(), desc)
	}
	if found == 0 {
		fmt.Println("no pipeline definitions found")
	}
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("history-db", "opsrun.db", "SQLite run database")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	runID := fs.String("id", "", "Print one run as JSON instead of listing")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: opsrun history [options]\n\nShow recorded runs.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	if *runID != "" {
		result, err := s.Get(ctx, *runID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	runs, err := s.List(ctx, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	for _, r := range runs {
		kind := ""
		if r.DryRun {
			kind = "  dry-run"
		}
		fmt.Printf("%s  %-20s %-10s %2d tasks  %s%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Pipeline, r.Status, r.TaskCount, r.RunID, kind)
	}
	return nil
}
