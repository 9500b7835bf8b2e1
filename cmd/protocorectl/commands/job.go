package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
)

// dialTimeout bounds how long a job subcommand waits to connect to the
// Job Centre daemon before giving up.
const dialTimeout = 5 * time.Second

// jobRequest mirrors the Job Centre's wire request shape. Only the fields
// relevant to a given verb are populated.
type jobRequest struct {
	Request string          `json:"request"`
	Queue   string          `json:"queue,omitempty"`
	Queues  []string        `json:"queues,omitempty"`
	Job     json.RawMessage `json:"job,omitempty"`
	Pri     *int            `json:"pri,omitempty"`
	Wait    bool            `json:"wait,omitempty"`
	ID      *int64          `json:"id,omitempty"`
}

// jobResponse mirrors the Job Centre's wire response shape.
type jobResponse struct {
	Status string          `json:"status"`
	ID     int64           `json:"id,omitempty"`
	Pri    int             `json:"pri,omitempty"`
	Queue  string          `json:"queue,omitempty"`
	Job    json.RawMessage `json:"job,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// sendJobRequest dials the configured Job Centre address, writes req as a
// single line of JSON, and reads back one line of JSON response.
func sendJobRequest(addr string, req jobRequest) (*jobResponse, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp jobResponse
	if err := json.Unmarshal([]byte(respLine), &resp); err != nil {
		return nil, fmt.Errorf("decode response %q: %w", respLine, err)
	}
	return &resp, nil
}

// printJobResponse renders resp per outputFormat and returns an error if
// the daemon reported one.
func printJobResponse(resp *jobResponse) error {
	if outputFormat == "json" {
		line, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		fmt.Println(string(line))
	} else {
		printJobResponseTable(resp)
	}

	if resp.Status == "error" {
		return fmt.Errorf("jobcentre: %s", resp.Error)
	}
	return nil
}

func printJobResponseTable(resp *jobResponse) {
	fmt.Printf("status:  %s\n", resp.Status)
	if resp.ID != 0 {
		fmt.Printf("id:      %d\n", resp.ID)
	}
	if resp.Queue != "" {
		fmt.Printf("queue:   %s\n", resp.Queue)
	}
	if resp.Pri != 0 {
		fmt.Printf("pri:     %d\n", resp.Pri)
	}
	if len(resp.Job) > 0 {
		fmt.Printf("job:     %s\n", resp.Job)
	}
	if resp.Error != "" {
		fmt.Printf("error:   %s\n", resp.Error)
	}
}

// jobCmd returns the "job" command group: put, get, delete, abort.
func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Interact with the Job Centre queue",
	}

	cmd.AddCommand(jobPutCmd())
	cmd.AddCommand(jobGetCmd())
	cmd.AddCommand(jobDeleteCmd())
	cmd.AddCommand(jobAbortCmd())
	return cmd
}

func jobPutCmd() *cobra.Command {
	var queue string
	var pri int
	var body string

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Submit a job to a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(body)) {
				return fmt.Errorf("--job must be valid JSON")
			}
			resp, err := sendJobRequest(jobCentreAddr, jobRequest{
				Request: "put",
				Queue:   queue,
				Pri:     &pri,
				Job:     json.RawMessage(body),
			})
			if err != nil {
				return err
			}
			return printJobResponse(resp)
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "queue name (required)")
	cmd.Flags().IntVar(&pri, "pri", 0, "job priority, higher runs first")
	cmd.Flags().StringVar(&body, "job", "", "job body as a JSON document (required)")
	_ = cmd.MarkFlagRequired("queue")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func jobGetCmd() *cobra.Command {
	var queues []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch the highest-priority job from one of several queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(queues) == 0 {
				return fmt.Errorf("at least one --queue is required")
			}
			resp, err := sendJobRequest(jobCentreAddr, jobRequest{
				Request: "get",
				Queues:  queues,
				Wait:    wait,
			})
			if err != nil {
				return err
			}
			return printJobResponse(resp)
		},
	}

	cmd.Flags().StringArrayVar(&queues, "queue", nil, "queue to pull from (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until a job becomes available")
	return cmd
}

func jobDeleteCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Permanently remove a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendJobRequest(jobCentreAddr, jobRequest{Request: "delete", ID: &id})
			if err != nil {
				return err
			}
			return printJobResponse(resp)
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "job id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func jobAbortCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Return an owned job to its queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendJobRequest(jobCentreAddr, jobRequest{Request: "abort", ID: &id})
			if err != nil {
				return err
			}
			return printJobResponse(resp)
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "job id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
