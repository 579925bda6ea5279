package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsrun/opsrun/config"
	"github.com/opsrun/opsrun/engine"
	"github.com/opsrun/opsrun/report"
	"github.com/opsrun/opsrun/store"
)

// runFlags are the options shared by the run and task commands.
type runFlags struct {
	dryRun    bool
	jsonOut   bool
	logLevel  string
	htmlPath  string
	csvPath   string
	dbPath    string
	jsonlPath string
}

func engineOptions(f *runFlags) engine.RunOptions {
	return engine.RunOptions{DryRun: f.dryRun}
}

func addRunFlags(fs *flag.FlagSet, f *runFlags) {
	fs.BoolVar(&f.dryRun, "dry-run", false, "Plan tasks without executing them")
	fs.BoolVar(&f.jsonOut, "json", false, "Print the full result as JSON on stdout")
	fs.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.htmlPath, "report", "", "Write an HTML report to this path")
	fs.StringVar(&f.csvPath, "csv", "", "Write a CSV export to this path")
	fs.StringVar(&f.dbPath, "history-db", "", "Record the run in this SQLite database")
	fs.StringVar(&f.jsonlPath, "history-jsonl", "", "Append the run to this JSONL file")
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var f runFlags
	addRunFlags(fs, &f)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: opsrun run [options] <pipeline.yaml>\n\nExecute a pipeline definition.\n\nOptions:\n")
		fs.PrintDefaults()
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
	templates, err := buildTemplates(p)
	if err != nil {
		return err
	}
	return execute(&f, templates, func(ctx context.Context, e *engine.Engine) (*engine.PipelineResult, error) {
		return e.Run(ctx, p, engineOptions(&f))
	})
}

func runTask(args []string) error {
	fs := flag.NewFlagSet("task", flag.ExitOnError)
	var f runFlags
	addRunFlags(fs, &f)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: opsrun task [options] <task.yaml>\n\nExecute a single task definition.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("%w: task file path is required", config.ErrConfiguration)
	}

	spec, err := config.LoadTask(fs.Arg(0))
	if err != nil {
		return err
	}
	templates, err := buildTemplates(&config.Pipeline{Tasks: []config.TaskSpec{*spec}})
	if err != nil {
		return err
	}
	return execute(&f, templates, func(ctx context.Context, e *engine.Engine) (*engine.PipelineResult, error) {
		return e.RunTask(ctx, spec, engineOptions(&f))
	})
}

// buildTemplates loads any report template overrides declared by the
// pipeline or its tasks.
func buildTemplates(p *config.Pipeline) (*report.Templates, error) {
	templates := report.NewTemplates()
	register := func(path string, add func(string) error) error {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: read template %s: %v", config.ErrConfiguration, path, err)
		}
		if err := add(string(raw)); err != nil {
			return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		return nil
	}

	if p.Template != "" {
		err := register(p.Template, func(text string) error {
			return templates.RegisterPipeline(p.Name, text)
		})
		if err != nil {
			return nil, err
		}
	}
	for i := range p.Tasks {
		spec := &p.Tasks[i]
		if spec.Template == "" {
			continue
		}
		err := register(spec.Template, func(text string) error {
			return templates.RegisterTask(spec.Name, text)
		})
		if err != nil {
			return nil, err
		}
	}
	return templates, nil
}

// execute runs the pipeline under signal handling, then fans the result
// out to the configured sinks.
func execute(f *runFlags, templates *report.Templates, run func(context.Context, *engine.Engine) (*engine.PipelineResult, error)) error {
	log, err := newLogger(f.logLevel)
	if err != nil {
		return err
	}
	eng, err := newEngine(log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, eng)
	if err != nil {
		return err
	}

	if err := emitResult(f, templates, result); err != nil {
		return err
	}
	if !result.Succeeded() {
		return errRunFailed
	}
	return nil
}

func emitResult(f *runFlags, templates *report.Templates, result *engine.PipelineResult) error {
	if templates == nil {
		templates = report.NewTemplates()
	}
	if f.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		printSummary(result)
	}

	if f.htmlPath != "" {
		if err := writeFileWith(f.htmlPath, func(w *os.File) error {
			return report.WriteHTML(w, result, templates)
		}); err != nil {
			return err
		}
	}
	if f.csvPath != "" {
		if err := writeFileWith(f.csvPath, func(w *os.File) error {
			return report.WriteCSV(w, result)
		}); err != nil {
			return err
		}
	}

	if f.dbPath != "" {
		s, err := store.NewSQLiteStore(f.dbPath)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Save(context.Background(), result); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
	}
	if f.jsonlPath != "" {
		if err := store.NewJSONLStore(f.jsonlPath).Save(context.Background(), result); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
	}
	return nil
}

func printSummary(result *engine.PipelineResult) {
	fmt.Printf("%s  run %s  %s  (%s)\n", result.Pipeline, result.RunID, result.Status, result.Duration)
	for i := range result.Tasks {
		tr := &result.Tasks[i]
		line := fmt.Sprintf("  %-24s %-10s %s", tr.TaskName, tr.Status, tr.Duration)
		if tr.Reason != "" {
			line += "  " + tr.Reason
		}
		fmt.Println(line)
	}
}

func writeFileWith(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
