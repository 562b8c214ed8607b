// Package cli implements the linebridge command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const rootLongDesc string = `linebridge talks to a device that speaks newline-delimited text over TCP.

  linebridge connect     Connect to a device and print its events
  linebridge simulate    Serve a scripted device that trickles bytes like the firmware

Configuration is read from flags, LINEBRIDGE_* environment variables and an
optional config file, in that order of precedence.`

const rootShortDesc string = "linebridge - TCP line protocol bridge"

// flagBinding maps a command line flag to a viper key.
type flagBinding struct {
	key  string
	flag string
}

var rootBindings = []flagBinding{
	{"log.level", "log-level"},
	{"log.backend", "log-backend"},
	{"log.format", "log-format"},
	{"log.file", "log-file"},
}

type rootCommander struct {
	configFile string
}

// NewRootCmd creates the linebridge root command.
func NewRootCmd() *cobra.Command {
	cmder := &rootCommander{}
	d := NewDefaultConfig()

	cmd := &cobra.Command{
		Use:           "linebridge",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&cmder.configFile, "config", "c", "", "Path to a config file (toml, yaml or json)")
	cmd.PersistentFlags().String("log-level", d.Log.Level, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-backend", d.Log.Backend, "Log backend (slog, zap)")
	cmd.PersistentFlags().String("log-format", d.Log.Format, "Log format for the zap backend (json, console)")
	cmd.PersistentFlags().String("log-file", d.Log.File, "Rotated log file, zap backend only")

	cmd.AddCommand(newConnectCmd(cmder))
	cmd.AddCommand(newSimulateCmd(cmder))

	return cmd
}

// load resolves the configuration for cmd, binding its flags on top of env and file values.
func (c *rootCommander) load(cmd *cobra.Command, bindings []flagBinding) (*Config, error) {
	v, err := InitViper(c.configFile)
	if err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd.Flags(), append(rootBindings, bindings...)); err != nil {
		return nil, err
	}

	return LoadConfig(v)
}

// bindFlags binds already-registered flags to viper so that they join the precedence chain.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings []flagBinding) error {
	for _, b := range bindings {
		f := fs.Lookup(b.flag)
		if f == nil {
			return fmt.Errorf("flag %q is not registered", b.flag)
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("binding flag %q: %w", b.flag, err)
		}
	}

	return nil
}
