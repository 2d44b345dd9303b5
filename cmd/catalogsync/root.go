package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smallbiznis/catalogsync/internal/app"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/jobs"
	"github.com/smallbiznis/catalogsync/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const stopTimeout = 15 * time.Second

var errItemsFailed = errors.New("items_failed")

type rootFlags struct {
	envFile      string
	seriesConfig string
	dataDir      string
	dryRun       bool
}

type cli struct {
	flags rootFlags
	cfg   config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "catalogsync",
		Short: "catalogsync keeps a CKAN ecosystem catalog in step with GitHub and the sites it lists",
		Long: `catalogsync discovers extension and site packages in a CKAN catalog, collects
repository and site metrics, appends them to a datastore time series and
patches the latest values back onto the packages.

Typical usage:
    catalogsync discover-extensions
    catalogsync collect-repos
    catalogsync append-series
    catalogsync patch-extensions --dry-run
`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.loadConfig,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.envFile, "env-file", "", "load environment variables from this file instead of ./.env")
	pf.StringVar(&c.flags.seriesConfig, "series-config", "", "series definition file (default series.yml)")
	pf.StringVar(&c.flags.dataDir, "data-dir", "", "directory for input and output CSV files")
	pf.BoolVar(&c.flags.dryRun, "dry-run", false, "log catalog writes instead of performing them")

	root.AddCommand(
		c.jobCommand(jobs.NameDiscoverExtensions, "List extension packages and their GitHub repositories", outputFlag),
		c.jobCommand(jobs.NameCollectRepos, "Collect GitHub metrics for every listed repository", inputFlag, outputFlag, seriesFlag, limitFlag),
		c.jobCommand(jobs.NameAppendSeries, "Append collected metrics to the datastore time series", inputFlag, seriesFlag),
		c.jobCommand(jobs.NamePatchExtensions, "Copy the latest metrics onto extension packages", inputFlag, seriesFlag),
		c.jobCommand(jobs.NameDiscoverSites, "List site packages and their homepages", outputFlag),
		c.jobCommand(jobs.NameCollectSites, "Probe every listed site for counts and version", inputFlag, outputFlag, limitFlag),
		c.jobCommand(jobs.NameMergeCSV, "Prepend a new CSV onto an existing one", inputFlag, outputFlag, existingFlag),
		c.jobCommand(jobs.NamePatchSites, "Copy probed site counts onto site packages", inputFlag),
		c.jobCommand(jobs.NameDeleteResource, "Delete a catalog resource", resourceFlag, confirmFlag),
		c.scheduleCommand(),
	)
	return root
}

func (c *cli) loadConfig(cmd *cobra.Command, _ []string) error {
	var files []string
	if c.flags.envFile != "" {
		files = append(files, c.flags.envFile)
	}
	cfg := config.Load(files...)
	if c.flags.seriesConfig != "" {
		cfg.SeriesConfigPath = c.flags.seriesConfig
	}
	if c.flags.dataDir != "" {
		cfg.DataDir = c.flags.dataDir
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = c.flags.dryRun
	}
	c.cfg = cfg
	return nil
}

type flagSetter func(cmd *cobra.Command, opts *jobs.Options)

func inputFlag(cmd *cobra.Command, opts *jobs.Options) {
	cmd.Flags().StringVar(&opts.Input, "input", "", "input CSV file (default depends on the command)")
}

func outputFlag(cmd *cobra.Command, opts *jobs.Options) {
	cmd.Flags().StringVar(&opts.Output, "output", "", "output CSV file (default depends on the command)")
}

func existingFlag(cmd *cobra.Command, opts *jobs.Options) {
	cmd.Flags().StringVar(&opts.Existing, "existing", "", "existing CSV file the input is prepended to")
}

func seriesFlag(cmd *cobra.Command, opts *jobs.Options) {
	cmd.Flags().StringVar(&opts.Series, "series", "", "series name (default the first configured series)")
}

func limitFlag(cmd *cobra.Command, opts *jobs.Options) {
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "process at most this many rows")
}

func resourceFlag(cmd *cobra.Command, opts *jobs.Options) {
	cmd.Flags().StringVar(&opts.ResourceID, "resource-id", "", "id of the resource")
}

func confirmFlag(cmd *cobra.Command, opts *jobs.Options) {
	cmd.Flags().BoolVar(&opts.Confirm, "yes", false, "confirm the deletion")
}

func (c *cli) jobCommand(name, short string, flags ...flagSetter) *cobra.Command {
	opts := &jobs.Options{}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runJob(cmd, name, *opts)
		},
	}
	for _, set := range flags {
		set(cmd, opts)
	}
	return cmd
}

func (c *cli) runJob(cmd *cobra.Command, name string, opts jobs.Options) error {
	var (
		runner   *jobs.Runner
		registry *jobs.Registry
	)
	fxApp := fx.New(app.Options(c.cfg, opts), fx.Populate(&runner, &registry))
	if err := fxApp.Err(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	defer stopApp(fxApp)

	job, err := registry.Get(name)
	if err != nil {
		return err
	}
	sum, err := runner.Run(ctx, job)
	if perr := sum.Print(cmd.OutOrStdout()); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%w: %s: %d of %d", errItemsFailed, name, sum.Failed, sum.Failed+sum.Succeeded+sum.Skipped)
	}
	return nil
}

func (c *cli) scheduleCommand() *cobra.Command {
	opts := &jobs.Options{}
	sched := scheduler.DefaultConfig()
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the collection pipeline on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s *scheduler.Scheduler
			fxApp := fx.New(app.ScheduleOptions(c.cfg, *opts, sched), fx.Populate(&s))
			if err := fxApp.Err(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := fxApp.Start(ctx); err != nil {
				return err
			}
			defer stopApp(fxApp)

			if runNow {
				if err := s.RunPipeline(ctx); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "initial run:", err)
				}
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&sched.Spec, "cron", sched.Spec, "cron expression for the pipeline")
	cmd.Flags().StringSliceVar(&sched.Pipeline, "pipeline", sched.Pipeline, "jobs to run, in order")
	cmd.Flags().DurationVar(&sched.RunTimeout, "run-timeout", sched.RunTimeout, "upper bound for one pipeline run")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run the pipeline once at startup")
	seriesFlag(cmd, opts)
	limitFlag(cmd, opts)
	return cmd
}

func stopApp(fxApp *fx.App) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = fxApp.Stop(ctx)
}
