package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"stinecal/internal/config"
	appLog "stinecal/internal/log"
	"stinecal/internal/pipeline"
	"stinecal/internal/web"
)

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath  string
	listen      string
	cacheDir    string
	output      string
	logLevel    string
	once        bool
	echo        bool
	writeConfig bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyFlags(conf, flags)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if flags.writeConfig {
		if err := writeConfig(conf, flags.configPath); err != nil {
			appLog.Error("failed to write config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Info("config written", "config_path", flags.configPath)
		return
	}

	appLog.Info("stinecal starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"cache_dir", conf.CacheDir,
		"output", conf.Output,
		"exports", len(conf.Exports),
		"charset_priority", conf.Charset.Priority,
		"once", flags.once,
		"echo", flags.echo,
	)

	runner, err := pipeline.New(conf, pipeline.Options{SkipOutput: flags.echo})
	if err != nil {
		appLog.Error("failed to initialize pipeline", err)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.once {
		out, err := runner.Run(ctx)
		if err != nil {
			appLog.Error("refresh failed", err)
			os.Exit(1)
		}
		if flags.echo {
			fmt.Fprintln(os.Stdout, out.Calendar)
		}
		return
	}

	if err := serve(ctx, conf, runner, flags.echo); err != nil {
		appLog.Error("service stopped", err)
		os.Exit(1)
	}

	appLog.Info("stinecal exiting")
}

// serve refreshes on the cron schedule (and once right away) and, if a
// listen address is configured, serves the result over HTTP.
func serve(ctx context.Context, conf *config.Config, runner *pipeline.Runner, echo bool) error {
	srv := web.NewServer(conf)

	refresh := func() {
		out, err := runner.Run(ctx)
		if err != nil {
			appLog.Error("refresh failed", err)
		} else if echo {
			fmt.Fprintln(os.Stdout, out.Calendar)
		}
		srv.Update(out, err)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, refresh); err != nil {
		return fmt.Errorf("schedule %q: %w", conf.RefreshCron, err)
	}

	refresh()
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
	}()

	if conf.Listen == "" {
		<-ctx.Done()
		appLog.Info("shutdown requested")
		return nil
	}
	return srv.Serve(ctx)
}

// writeConfig persists the effective configuration, flag overrides
// included, after validating it.
func writeConfig(conf *config.Config, path string) error {
	if err := conf.Validate(); err != nil {
		return err
	}
	return conf.Save(path)
}

func applyFlags(conf *config.Config, f flagConfig) {
	if f.listen != "" {
		conf.Listen = f.listen
	}
	if f.cacheDir != "" {
		conf.CacheDir = f.cacheDir
	}
	if f.output != "" {
		conf.Output = f.output
	}
	if f.logLevel != "" {
		conf.LogLevel = f.logLevel
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./stinecal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "", "Calendar cache directory (overrides config if set)")
	flag.StringVar(&cfg.output, "output", "", "Merged calendar output file (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+merge cycle and exit")
	flag.BoolVar(&cfg.echo, "echo", false, "Print the merged calendar to stdout instead of writing the output file")
	flag.BoolVar(&cfg.writeConfig, "write-config", false, "Write the effective config (with flag overrides) back to -config and exit")

	flag.Parse()

	return cfg
}
