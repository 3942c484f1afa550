// mtpsh is an interactive shell for poking at the dispatch and transport
// layers: configure a proxy, run flood-control checks, dial transports.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "mtpsh",
	Short:   "mtpsh: interactive shell for the mtpline dispatch and transport layers",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(shellCmd)
}

func initConfig() {
	viper.SetEnvPrefix("MTP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mtpsh")
		viper.AddConfigPath(".")
		if home, _ := os.UserHomeDir(); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".mtpsh"))
		}
	}
	_ = viper.ReadInConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
