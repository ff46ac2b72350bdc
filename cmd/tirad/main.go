// Command tirad serves the run execution and state engine over HTTP and
// inspects supervised jobs, VMs, runs and the submission journal from the
// command line.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tira-io/tirad/internal/config"
)

func main() {
	v := viper.New()
	config.Setup(v)

	root := rootCmd(v)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "tirad",
		Short:         "TIRA run execution and state engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	for _, key := range config.Keys() {
		name := strings.ReplaceAll(key, "_", "-")
		switch d := config.Default(key).(type) {
		case int:
			flags.Int(name, d, "")
		case int64:
			flags.Int64(name, d, "")
		default:
			flags.String(name, fmt.Sprint(d), "")
		}
		flags.Lookup(name).Usage = "overrides " + config.EnvPrefix + "_" + strings.ToUpper(key)
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
	flags.Bool("json", false, "output JSON")

	root.AddCommand(serveCmd(v))
	root.AddCommand(psCmd(v))
	root.AddCommand(statusCmd(v))
	root.AddCommand(runsCmd(v))
	root.AddCommand(journalCmd(v))
	root.AddCommand(configCmd(v))
	return root
}
