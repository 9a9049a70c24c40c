package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "modjobctl",
	Short: "modjobctl inspects and drives a running modjob server",
	Long: `modjobctl is the operator console for modjob.

It talks to the HTTP API of a running server to submit jobs and to inspect
the job queue, per-operation statistics and module status.

Common workflows:

  Submit a job and wait for its result:
    modjobctl submit utils ping

  Submit with a payload and priority:
    modjobctl submit utils sleep --payload '{"ms": 250}' --priority 1

  Inspect the queue (admin token required):
    modjobctl queue
    modjobctl active
    modjobctl stats
    modjobctl job <job-id>

  Recover a module by hand:
    modjobctl modules
    modjobctl modules set-status <name> STARTED

Configuration:
  Set the API endpoint and credentials via flags, environment variables or
  a config file ($HOME/.modjobctl.yaml):
    MODJOB_URL      API endpoint (default: http://localhost:8080)
    MODJOB_TOKEN    Bearer token`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrln("Error:", err)
	}
	return err
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".modjobctl")
		viper.SetConfigType("yaml")
	}

	// MODJOB_URL, MODJOB_TOKEN
	viper.SetEnvPrefix("MODJOB")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.modjobctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "modjob server URL")
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func newClientFromConfig() *Client {
	return NewClient(viper.GetString("url"), viper.GetString("token"))
}
