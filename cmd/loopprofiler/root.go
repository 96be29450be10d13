package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/LoopProfiler/internal/config"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
	"github.com/himanishpuri/LoopProfiler/pkg/loopprofiler"
)

type commandContext struct {
	configFlag  *string
	dataDirFlag *string
	levelFlag   *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, dataDirFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		dataDirFlag: dataDirFlag,
		levelFlag:   levelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if dir := strings.TrimSpace(*c.dataDirFlag); dir != "" {
			cfg.Paths.DataDir = dir
		}
		if lvl := strings.TrimSpace(*c.levelFlag); lvl != "" {
			cfg.Logging.Level = lvl
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *logger.Logger {
	log := logger.GetLogger()
	if c.config == nil {
		return log
	}
	log.SetLevel(c.config.LogLevel())
	log.SetColorize(c.config.Logging.Color)
	return log
}

// withProfiler opens the profiler for one command and closes it after,
// flushing any pending retrain.
func (c *commandContext) withProfiler(cmd *cobra.Command, fn func(*loopprofiler.Profiler) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	p, err := loopprofiler.Open(cmd.Context(), loopprofiler.WithConfig(cfg), loopprofiler.WithLogger(c.logger()))
	if err != nil {
		return err
	}
	for _, rec := range p.Recovered() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", rec)
	}
	runErr := fn(p)
	if err := p.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func newRootCommand() *cobra.Command {
	var configFlag, dataDirFlag, levelFlag string

	ctx := newCommandContext(&configFlag, &dataDirFlag, &levelFlag)

	rootCmd := &cobra.Command{
		Use:           "loopprofiler",
		Short:         "Score loop candidates and learn from your feedback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Directory for feedback, model and cache (overrides config)")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "Log level: debug, info, warn, error, silent")

	rootCmd.AddCommand(newScoreCommand(ctx))
	rootCmd.AddCommand(newFeedbackCommand(ctx))
	rootCmd.AddCommand(newGoodCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newTrainCommand(ctx))
	rootCmd.AddCommand(newInspectCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
