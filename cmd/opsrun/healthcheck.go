package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/opsrun/opsrun/config"
	"github.com/opsrun/opsrun/engine"
)

// healthChecks maps a check name to the arguments passed to `oc get`.
var healthChecks = map[string][]string{
	"pending-pods": {"pods", "--all-namespaces", "--field-selector=status.phase=Pending"},
}

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health-check", flag.ExitOnError)
	var f runFlags
	addRunFlags(fs, &f)
	check := fs.String("check", "pending-pods", "Health check to run")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: opsrun health-check [options] <cluster...>\n\nRun a canned health check against each named cluster. The cluster\nname doubles as the credential name holding its token and server.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("%w: at least one cluster name is required", config.ErrConfiguration)
	}
	ocArgs, ok := healthChecks[*check]
	if !ok {
		return fmt.Errorf("%w: unknown health check %q", config.ErrConfiguration, *check)
	}

	p := healthCheckPipeline(*check, ocArgs, fs.Args())
	return execute(&f, nil, func(ctx context.Context, e *engine.Engine) (*engine.PipelineResult, error) {
		return e.Run(ctx, p, engineOptions(&f))
	})
}

// healthCheckPipeline fans one oc_cli task per cluster. Clusters run in
// parallel and a broken cluster fails only its own task.
func healthCheckPipeline(check string, ocArgs []string, clusters []string) *config.Pipeline {
	p := &config.Pipeline{
		Name:        "health-check-" + check,
		Description: fmt.Sprintf("%s health check across %d clusters", check, len(clusters)),
		Parallel:    true,
	}
	args := make([]any, len(ocArgs))
	for i, a := range ocArgs {
		args[i] = a
	}
	for _, cluster := range clusters {
		p.Tasks = append(p.Tasks, config.TaskSpec{
			Name: cluster,
			Type: "oc_cli",
			Params: map[string]any{
				"command": "get",
				"args":    args,
			},
			Credential: &config.CredentialRef{Name: cluster},
		})
	}
	return p
}
