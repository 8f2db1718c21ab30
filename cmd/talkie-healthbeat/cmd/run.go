package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor loop until interrupted",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	rt.logger.Info("healthbeat starting",
		zap.Strings("services", rt.config.Healthbeat.Services),
		zap.Duration("interval", rt.config.Healthbeat.Interval))

	rt.monitor.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	rt.logger.Info("healthbeat stopping")
	rt.monitor.Stop()
	return nil
}
