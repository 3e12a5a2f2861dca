package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wabridge/pkg/config"
	"wabridge/pkg/gateway"
	"wabridge/pkg/ui/report"

	"github.com/spf13/cobra"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show readiness of a running bridge",
	Long:  "Queries the readiness endpoint of a running bridge and prints channel, store and event counters.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		url := strings.TrimSpace(statusURL)
		if url == "" {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			url = readyURL(cfg.Gateway)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		status, err := fetchStatus(ctx, http.DefaultClient, url)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), report.Status(status))
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusURL, "url", "u", "", "readiness endpoint to query")
}

// readyURL points at the local readiness endpoint, replacing a wildcard bind host.
func readyURL(cfg config.GatewayConfig) string {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18790
	}
	return "http://" + host + ":" + strconv.Itoa(port) + "/readyz"
}

// fetchStatus decodes the status body, which /readyz also returns with 503.
func fetchStatus(ctx context.Context, client *http.Client, url string) (gateway.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gateway.Status{}, fmt.Errorf("build status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return gateway.Status{}, fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	var status gateway.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return gateway.Status{}, fmt.Errorf("decode status from %s (%s): %w", url, resp.Status, err)
	}
	return status, nil
}
