// Package cli implements the sominer command line.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/so-miner/backend/internal/config"
	"github.com/so-miner/backend/internal/miner"
)

var (
	cfgFile string
	quiet   bool
)

// defaultProgressEvery keeps the bar moving when no config sets a cadence.
const defaultProgressEvery = 10000

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sominer",
	Short: "Stream records out of Stack Overflow XML dumps",
	Long: `sominer scans Stack Overflow data dump files (Posts.xml and friends)
one line at a time and hands every <row> record to a handler.

Dumps may be plain XML or compressed with gzip, zstd, lz4 or bzip2.
Press Ctrl+C to stop a scan after the current record.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "XML config file (serve creates sominer.config.xml next to the binary)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "disable progress bars and summaries")
	rootCmd.PersistentFlags().Int("buffer-mb", 0, "read buffer size in MiB (default 4)")
	rootCmd.PersistentFlags().Int("max-line-mb", 0, "longest line to parse in MiB (default 64)")
	rootCmd.PersistentFlags().Int("max-errors", -1, "line errors kept in the summary (default 100)")
	rootCmd.PersistentFlags().Int("progress-every", 0, "progress bar update cadence in lines (default from --config, else 10000)")

	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("buffer-mb", rootCmd.PersistentFlags().Lookup("buffer-mb"))
	viper.BindPFlag("max-line-mb", rootCmd.PersistentFlags().Lookup("max-line-mb"))
	viper.BindPFlag("max-errors", rootCmd.PersistentFlags().Lookup("max-errors"))
	viper.BindPFlag("progress-every", rootCmd.PersistentFlags().Lookup("progress-every"))
}

// initConfig reads ENV variables such as SOMINER_BUFFER_MB.
func initConfig() {
	viper.SetEnvPrefix("SOMINER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadMiningConfig returns the XML config named by --config, or nil when the
// flag is unset.
func loadMiningConfig() (*config.AppConfig, error) {
	if cfgFile == "" {
		return nil, nil
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// minerOptions layers flag and environment settings over cfg.
func minerOptions(cfg *config.AppConfig) []miner.Option {
	var opts []miner.Option
	if cfg != nil {
		opts = cfg.MinerOptions()
	}
	if mb := viper.GetInt("buffer-mb"); mb > 0 {
		opts = append(opts, miner.WithBufferSize(mb<<20))
	}
	if mb := viper.GetInt("max-line-mb"); mb > 0 {
		opts = append(opts, miner.WithMaxLineSize(mb<<20))
	}
	if n := viper.GetInt("max-errors"); n >= 0 {
		opts = append(opts, miner.WithMaxRecordedErrors(n))
	}
	return opts
}

// progressEvery resolves the progress cadence: flag or environment first,
// then the config file, then defaultProgressEvery.
func progressEvery(cfg *config.AppConfig) int {
	if n := viper.GetInt("progress-every"); n > 0 {
		return n
	}
	if cfg != nil && cfg.Mining.ProgressEvery > 0 {
		return cfg.Mining.ProgressEvery
	}
	return defaultProgressEvery
}
