package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
)

// ErrNotApplied is returned when a node did not announce the requested status
var ErrNotApplied = errors.New("status change not applied")

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <node> <offline|follower>",
		Short: "Take a node offline or bring it back",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clusterID == "" {
				return errors.New("--cluster is required")
			}
			status := cluster.Status(args[1])
			if !status.ClientSettable() {
				return fmt.Errorf("status must be %s or %s", cluster.StatusOffline, cluster.StatusFollower)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeoutOrDefault())
			defer cancel()
			return setStatus(ctx, cmd.OutOrStdout(), serverAddr, clusterID, cluster.NodeID(args[0]), status)
		},
	}
}

// setStatus requests status on one connection and confirms it on a second
// one, since a node never echoes a change back to the client that asked
func setStatus(ctx context.Context, out io.Writer, base, clusterID string, id cluster.NodeID, status cluster.Status) error {
	observer, err := dialNode(ctx, base, clusterID, id)
	if err != nil {
		return err
	}
	defer observer.close()

	if observer.welcome.Status == status {
		fmt.Fprintf(out, "%s is already %s\n", id, status)
		return nil
	}

	control, err := dialNode(ctx, base, clusterID, id)
	if err != nil {
		return err
	}
	defer control.close()

	if err := control.setStatus(clusterID, status); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeoutOrDefault())
	}
	observer.ws.SetReadDeadline(deadline)

	for {
		msg, err := readMessage(observer.ws)
		if err != nil {
			return fmt.Errorf("%w: %s stayed %s (%v)", ErrNotApplied, id, observer.welcome.Status, err)
		}
		if msg.Status == status {
			fmt.Fprintf(out, "%s is now %s\n", id, status)
			return nil
		}
	}
}
