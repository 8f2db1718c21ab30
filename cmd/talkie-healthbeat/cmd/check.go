package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one sweep and print every instance's status",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, service := range rt.config.Healthbeat.Services {
		rt.monitor.CheckService(ctx, service)
	}

	statuses := rt.monitor.Statuses()
	if len(statuses) == 0 {
		fmt.Println("No instances registered.")
		return nil
	}

	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	unhealthy := 0
	for _, id := range ids {
		fmt.Printf("%-40s %s\n", id, statuses[id])
		if statuses[id] != "healthy" {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d instances unhealthy", unhealthy, len(ids))
	}
	return nil
}
