package main

import (
	"fmt"

	"github.com/absfs/absfs"
	"github.com/absfs/cryptdev"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app is the state shared by the subcommands of one invocation
type app struct {
	fs      absfs.FileSystem
	v       *viper.Viper
	cfgFile string
	cfg     *Config
	logger  *logrus.Entry
}

// flagKeys maps config keys to their flags
var flagKeys = map[string]string{
	"params":          "params",
	"name":            "name",
	"workers":         "workers",
	"scratch_records": "scratch-records",
	"full_width_iv":   "full-width-iv",
	"log_level":       "log-level",
	"log_format":      "log-format",
	"metrics_addr":    "metrics-addr",
}

// newRootCommand builds the command tree. Device and file paths are
// resolved on fs.
func newRootCommand(fs absfs.FileSystem) *cobra.Command {
	a := &app{fs: fs, v: viper.New()}

	cmd := &cobra.Command{
		Use:   "cryptdev",
		Short: "cryptdev encrypts block devices and disk images sector by sector",
		Long: `cryptdev maps a block device or disk image through a CBC sector encryption
layer compatible with dm-crypt style parameter strings:

  <alg>-cbc-<ivmode>[:<ivopt>] <hex-key> <iv-offset> <device-path> <block-offset>

Supported algorithms are aes, blowfish, 3des, camellia, cast5 and null; IV
modes are plain and essiv:<digest>.

The parameter string contains the key. Prefer the CRYPTDEV_PARAMS environment
variable or a configuration file over the --params flag.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "path to configuration file (YAML format)")
	flags.String("params", "", "target parameter string")
	flags.String("name", "cryptdev", "target name used in logs and metrics")
	flags.Int("workers", 0, "cipher worker goroutines (0 uses one per CPU)")
	flags.Int("scratch-records", 0, "concurrent ESSIV computations (0 uses the default)")
	flags.Bool("full-width-iv", false, "use the full 64-bit sector number for IVs")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while running")

	for key, name := range flagKeys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}

	cmd.AddCommand(
		newEncryptCommand(a),
		newDecryptCommand(a),
		newInfoCommand(a),
		newKeygenCommand(a),
	)
	return cmd
}

// setup loads the configuration and logger before any subcommand runs
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := initConfig(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := loadConfig(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg, cmd.ErrOrStderr())
	cryptdev.UseLogger(a.logger)
	return nil
}

// withTarget creates the configured target, runs fn against it and tears
// the target, its provider and the metrics endpoint down afterwards
func (a *app) withTarget(fn func(*cryptdev.Target) error) error {
	provider, err := cryptdev.NewSoftProvider(cryptdev.ProviderConfig{
		Workers: a.cfg.Workers,
		Logger:  a.logger.WithField("provider", "soft"),
	})
	if err != nil {
		return fmt.Errorf("failed to start cipher provider: %w", err)
	}
	defer provider.Close()

	reg := prometheus.NewRegistry()
	target, err := cryptdev.New(a.fs, &cryptdev.Config{
		Name:           a.cfg.Name,
		Params:         a.cfg.Params,
		Provider:       provider,
		ScratchRecords: a.cfg.ScratchRecords,
		FullWidthIV:    a.cfg.FullWidthIV,
		Logger:         a.logger,
		Registerer:     reg,
	})
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}
	defer target.Destroy()

	if a.cfg.MetricsAddr != "" {
		srv := newMetricsServer(a.cfg.MetricsAddr, reg, a.logger)
		srv.Start()
		defer srv.Stop()
	}

	return fn(target)
}
