// camcore generates G-code from design documents and streams programs to
// GRBL controllers.
//
// Usage:
//
//	camcore generate part.json -o part.nc [--config machine.cfg]
//	camcore stream part.nc [--endpoint tcp://cnc.local:23] [--config machine.cfg]
//	camcore watch part.yaml -o part.nc [--config machine.cfg]
//	camcore parse-status '<Idle|MPos:0.000,0.000,0.000|FS:0,0>'
//
// The machine configuration supplies tool, job and controller settings;
// see pkg/config for its sections.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cnc-cam-core/pkg/config"
	"cnc-cam-core/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "camcore",
		Short:         "Generate and stream G-code for GRBL machines",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			l := log.New("cam")
			log.ConfigureFromEnv(l)
			if o.verbose {
				l.SetLevel(log.DEBUG)
			}
			l.SetWriter(cmd.ErrOrStderr())
			log.SetDefaultLogger(l)
		},
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "machine configuration `file`")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newGenerateCmd(o),
		newStreamCmd(o),
		newWatchCmd(o),
		newParseStatusCmd(),
	)
	return root
}

// machine loads the configuration file, or the defaults when none is set.
func (o *options) machine() (*config.MachineConfig, error) {
	if o.configPath == "" {
		return config.DefaultMachineConfig(), nil
	}
	return config.LoadMachine(o.configPath)
}
