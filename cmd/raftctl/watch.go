package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/identity"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print status changes of every member",
		Long:  "Connect to every member of the cluster and print each status change until interrupted. Without --cluster a new cluster is created.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMembers(members)
			if err != nil {
				return err
			}
			id := clusterID
			if id == "" {
				id = identity.NewClusterID()
				fmt.Fprintf(cmd.OutOrStdout(), "cluster %s\n", id)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cmd.OutOrStdout(), serverAddr, id, m)
		},
	}
}

// event is one message seen on a node connection
type event struct {
	at  time.Time
	msg rpc.ClientMessage
}

// watch prints every Welcome and SetStatus of the cluster's members until
// ctx is done or every connection has ended
func watch(ctx context.Context, out io.Writer, base, clusterID string, m cluster.Members) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault())
	conns := make([]*nodeConn, 0, len(m))
	for _, id := range m {
		c, err := dialNode(dialCtx, base, clusterID, id)
		if err != nil {
			cancel()
			for _, open := range conns {
				open.close()
			}
			return err
		}
		conns = append(conns, c)
	}
	cancel()

	var mu sync.Mutex
	emit := func(e event) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%s %-4s %-9s %s\n", e.at.Format("15:04:05.000"), e.msg.NodeID, e.msg.Action, e.msg.Status)
	}
	for _, c := range conns {
		emit(event{at: time.Now(), msg: c.welcome})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		g.Go(func() error {
			for {
				msg, err := readMessage(c.ws)
				if err != nil {
					if gctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("%s: %w", c.id, err)
				}
				emit(event{at: time.Now(), msg: msg})
			}
		})
	}

	// Closing the sockets is what unblocks the readers
	go func() {
		<-gctx.Done()
		for _, c := range conns {
			c.close()
		}
	}()

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func timeoutOrDefault() time.Duration {
	if timeout <= 0 {
		return 10 * time.Second
	}
	return timeout
}
