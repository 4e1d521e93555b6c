package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `notesbot health` command. It queries the
// gateway of a running instance and is meant for container health checks.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the health of a running instance",
		Long: `Query the /health endpoint of a running notesbot gateway. Exits with a
non-zero status when the instance is unreachable or unhealthy.

Examples:
  notesbot health
  notesbot health --url http://localhost:8086`,
		Args: cobra.NoArgs,
		RunE: runHealth,
	}

	cmd.Flags().String("url", "", "gateway base URL (default: derived from gateway.address)")
	cmd.Flags().Duration("timeout", 5*time.Second, "request timeout")
	return cmd
}

func runHealth(cmd *cobra.Command, _ []string) error {
	base, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if base == "" {
		cfg, _, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		if !cfg.Gateway.Enabled {
			return fmt.Errorf("gateway is disabled in the configuration; pass --url")
		}
		base = gatewayURL(cfg.Gateway.Address)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Println(strings.TrimSpace(string(body)))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// gatewayURL turns a listen address into a URL reachable from this host.
func gatewayURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
