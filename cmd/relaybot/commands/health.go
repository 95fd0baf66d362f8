package commands

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates `relaybot health`, which queries the /health endpoint
// of a running `relaybot serve`. Used by container health checks.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the health of a running relay",
		Long:  `Query the /health endpoint of the metrics server. Exits non-zero unless the relay reports healthy or degraded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("address")
			if addr == "" {
				cfg, _, err := resolveConfig(cmd)
				if err != nil {
					return err
				}
				addr = cfg.Metrics.Address
			}
			body, err := checkHealth(healthURL(addr), 5*time.Second)
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(body))
			return err
		},
	}
	cmd.Flags().String("address", "", "metrics server address (defaults to metrics.address)")
	return cmd
}

func healthURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/") + "/health"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/health"
}

func checkHealth(url string, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		return string(body), fmt.Errorf("unhealthy: HTTP %d", resp.StatusCode)
	}
	return string(body), nil
}
