package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-raft/pkg/config"
)

func stateCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "state <node>",
		Short: "Show the internal state of a node",
		Long:  "Fetch /debug/{cluster}/{node}. Outside development mode the node secret is required (--secret or RAFT_NODE_SECRET).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clusterID == "" {
				return fmt.Errorf("--cluster is required")
			}
			if secret == "" {
				secret = os.Getenv(config.EnvNodeSecret)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeoutOrDefault())
			defer cancel()
			return showState(ctx, cmd.OutOrStdout(), serverAddr, clusterID, args[0], secret)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Node secret")
	return cmd
}

func showState(ctx context.Context, out io.Writer, base, clusterID, nodeID, secret string) error {
	target := strings.TrimRight(base, "/") + "/debug/" + url.PathEscape(clusterID) + "/" + url.PathEscape(nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if secret != "" {
		req.Header.Set("Authorization", secret)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return err
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(out)
	return err
}
