// Command raftctl observes and steers the nodes of one cluster over their
// websocket endpoints.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	clusterID  string
	members    []string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "raftctl",
		Short: "raftctl - observe and control raftd clusters",
		Long:  `raftctl connects to the nodes of a raftd cluster, prints their status changes and can take nodes offline or bring them back.`,
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "raftd base URL")
	rootCmd.PersistentFlags().StringVar(&clusterID, "cluster", "", "Cluster ID")
	rootCmd.PersistentFlags().StringSliceVar(&members, "members", []string{"us1", "eu1", "ap1"}, "Cluster members")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Connect and request timeout")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(stateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
