package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// statusRequestTimeout bounds the status command's HTTP round trip.
const statusRequestTimeout = 5 * time.Second

// daemonStatus mirrors the admin endpoint's response shape.
type daemonStatus struct {
	LRCPSessions       int            `json:"lrcp_sessions"`
	JobCentreQueues    map[string]int `json:"jobcentre_queues"`
	JobCentreJobsTotal int            `json:"jobcentre_jobs_total"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Fetch the daemon's admin status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := fetchStatus(statusAddr)
			if err != nil {
				return err
			}
			return printStatus(status)
		},
	}
}

func fetchStatus(baseURL string) (*daemonStatus, error) {
	client := &http.Client{Timeout: statusRequestTimeout}

	resp, err := client.Get(baseURL + "/status")
	if err != nil {
		return nil, fmt.Errorf("fetch status from %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read status body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, body)
	}

	var status daemonStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode status body: %w", err)
	}
	return &status, nil
}

func printStatus(status *daemonStatus) error {
	if outputFormat == "json" {
		line, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("encode status: %w", err)
		}
		fmt.Println(string(line))
		return nil
	}

	fmt.Printf("lrcp sessions:        %d\n", status.LRCPSessions)
	fmt.Printf("jobcentre jobs total: %d\n", status.JobCentreJobsTotal)
	if len(status.JobCentreQueues) == 0 {
		fmt.Println("jobcentre queues:     (none)")
		return nil
	}
	fmt.Println("jobcentre queues:")
	for queue, depth := range status.JobCentreQueues {
		fmt.Printf("  %-20s %d\n", queue, depth)
	}
	return nil
}
