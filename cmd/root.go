package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// newRootCmd creates and configures the root command. Each invocation gets
// its own Viper instance so flag bindings never leak between runs.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "ershoufang",
		Short: "Crawl lianjia second-hand housing listings into CSV, GCS or Postgres.",
		Long: `ershoufang walks a contiguous range of lianjia result pages in a real
browser session, pauses for a human whenever an anti-bot challenge appears,
and writes every listing it collected once the run ends.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().Bool("verbose", false, "log at debug level")
	_ = v.BindPFlag("verbose", cmd.PersistentFlags().Lookup("verbose"))

	cmd.AddCommand(newCrawlCmd(v, &cfgFile))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ershoufang %s\n", Version)
		},
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
