package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/steerd/internal/config"
	"github.com/harun/steerd/internal/daemon"
	"github.com/harun/steerd/internal/logger"
)

var (
	driveHost          string
	drivePort          int
	driveTimeoutMs     int
	driveMaxSpeed      float64
	driveMinSpeed      float64
	driveGovernorScope string
)

var driveCmd = &cobra.Command{
	Use:     "drive <model> [image_folder]",
	Aliases: []string{"start"},
	Short:   "Drive the simulator with a trained model",
	Long: `Load a steering model and serve the simulator's Socket.IO connection.

The model is a dense artifact on disk, an s3://bucket/key object or an http(s)
model server. When image_folder is given, every frame that produced a command is
saved there as a JPEG; the folder is emptied first.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDrive,
}

func init() {
	addDriveFlags(driveCmd)
	rootCmd.AddCommand(driveCmd)
}

func addDriveFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&driveHost, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&drivePort, "port", 0, "listen port (overrides config)")
	cmd.Flags().IntVar(&driveTimeoutMs, "timeout", 0, "inference deadline in milliseconds, 0 disables it")
	cmd.Flags().Float64Var(&driveMaxSpeed, "max-speed", 0, "governor limit while accelerating")
	cmd.Flags().Float64Var(&driveMinSpeed, "min-speed", 0, "governor limit while slowing down")
	cmd.Flags().StringVar(&driveGovernorScope, "governor-scope", "", "governor sharing (shared, session)")
}

func runDrive(cmd *cobra.Command, args []string) error {
	cfg, err := buildDriveConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	d.SetConfigPath(config.NewLoader(cfgFile).GetConfigPath())

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "steerd listening on %s\n", d.Addr())
	d.Wait()
	return nil
}

// buildDriveConfig loads the config file and applies positional arguments
// and flags that were set explicitly.
func buildDriveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Model.Path = args[0]
	if len(args) > 1 {
		cfg.Recording.Enabled = true
		cfg.Recording.Directory = args[1]
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = driveHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = drivePort
	}
	if flags.Changed("timeout") {
		cfg.Model.TimeoutMs = driveTimeoutMs
	}
	if flags.Changed("max-speed") {
		cfg.Control.MaxSpeed = driveMaxSpeed
	}
	if flags.Changed("min-speed") {
		cfg.Control.MinSpeed = driveMinSpeed
	}
	if flags.Changed("governor-scope") {
		cfg.Control.GovernorScope = driveGovernorScope
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
}
