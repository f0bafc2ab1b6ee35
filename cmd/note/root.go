package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"wuyrush.io/note/config"
	cst "wuyrush.io/note/constants"
)

var (
	flagEnvFiles []string
	cfg          *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "note",
	Short:         "Note service with one-time share links and self-destructing notes",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(flagEnvFiles...); err != nil {
			return err
		}
		c, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&flagEnvFiles, "env-file", nil, ".env files to load (default: ./.env)")
	rootCmd.PersistentFlags().Bool("verbose", false, "log at debug level")
	rootCmd.PersistentFlags().String("store", "", "document store backend: memory, sqlite or couchdb")
	rootCmd.PersistentFlags().String("schedule", "", "destruct schedule backend: memory or redis")
	mustBind(rootCmd, cst.EnvVerbose, "verbose")
	mustBind(rootCmd, cst.EnvStoreBackend, "store")
	mustBind(rootCmd, cst.EnvScheduleBackend, "schedule")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(readerCmd)
	rootCmd.AddCommand(purgerCmd)
}

// mustBind binds the flag of cmd named name to the env var key, so that a set flag wins over the
// environment.
func mustBind(cmd *cobra.Command, key, name string) {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(name)
	}
	if err := viper.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
