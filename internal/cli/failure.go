package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/domain"
)

// NewFailureCmd создаёт группу команд failure tracker.
func NewFailureCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failure",
		Short: "Track failing tests",
	}

	cmd.AddCommand(
		newFailureSubmitCmd(clientFn, outputFn),
		newFailureListCmd(clientFn, outputFn),
		newFailureStatsCmd(clientFn, outputFn),
		newFailureShowCmd(clientFn, outputFn),
		newFailureRetryCmd(clientFn, outputFn),
		newFailureEscalateCmd(clientFn, outputFn),
		newFailureActivateCmd(clientFn, outputFn),
		newFailureActiveCmd(clientFn, outputFn),
	)

	return cmd
}

var failureHeaders = []string{"ID", "STATUS", "TEST", "WORKFLOW", "RETRIES", "CREATED"}

func failureRow(f domain.Failure) []string {
	return []string{
		f.ID,
		string(f.Status),
		f.TestFile + "::" + f.TestName,
		f.WorkflowID,
		strconv.Itoa(f.RetryCount),
		formatTime(f.CreatedAt),
	}
}

func newFailureSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateFailureRequest
	var contextFile string
	var noExecute bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Register a failing test",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if contextFile != "" {
				data, err := os.ReadFile(contextFile)
				if err != nil {
					return fmt.Errorf("failed to read context file: %w", err)
				}
				if err := json.Unmarshal(data, &req.Context); err != nil {
					return fmt.Errorf("context file must be a JSON object: %w", err)
				}
			}
			if noExecute {
				autoExecute := false
				req.AutoExecute = &autoExecute
			}

			res, err := client.CreateFailure(req)
			if err != nil {
				return err
			}

			if res.Message != "" {
				out.Warn(res.Message)
			}
			out.Success(fmt.Sprintf("Failure %s: %s", res.FailureID, res.Status))
			out.Print(
				[]string{"ID", "STATUS", "WORKFLOW"},
				[][]string{{res.FailureID, res.Status, res.WorkflowID}},
				res,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.TestFile, "test-file", "", "Test file (required)")
	cmd.Flags().StringVar(&req.TestName, "test-name", "", "Test name")
	cmd.Flags().StringVar(&req.ErrorMessage, "error", "", "Error message (required)")
	cmd.Flags().StringVar(&req.StackTrace, "stack-trace", "", "Stack trace")
	cmd.Flags().StringVar(&req.Expected, "expected", "", "Expected value")
	cmd.Flags().StringVar(&req.Actual, "actual", "", "Actual value")
	cmd.Flags().StringVar(&req.WorkflowID, "workflow", "", "Workflow to run (defaults to the active one)")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "JSON file with extra context")
	cmd.Flags().BoolVar(&noExecute, "no-execute", false, "Register without assigning a workflow")
	cmd.MarkFlagRequired("test-file")
	cmd.MarkFlagRequired("error")

	return cmd
}

func newFailureListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListFailuresOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failures, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			failures, err := client.ListFailures(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(failures))
			for i, f := range failures {
				rows[i] = failureRow(f)
			}

			out.Print(failureHeaders, rows, failures)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (pending, running, completed, failed, escalated)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of failures")

	return cmd
}

func newFailureStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show failure counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.FailureStats()
			if err != nil {
				return err
			}

			out.Print(
				[]string{"TOTAL", "PENDING", "RUNNING", "COMPLETED", "FAILED", "ESCALATED", "SUCCESS"},
				[][]string{{
					strconv.Itoa(s.Total),
					strconv.Itoa(s.Pending),
					strconv.Itoa(s.Running),
					strconv.Itoa(s.Completed),
					strconv.Itoa(s.Failed),
					strconv.Itoa(s.Escalated),
					strconv.FormatFloat(s.SuccessRate, 'f', 1, 64) + "%",
				}},
				s,
			)
			return nil
		},
	}
}

func newFailureShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show failure details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			f, err := client.GetFailure(args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(f)
				return nil
			}
			out.Table(failureHeaders, [][]string{failureRow(*f)})
			out.Text("\n" + f.ErrorMessage)
			return nil
		},
	}
}

func newFailureRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workflow string

	cmd := &cobra.Command{
		Use:   "retry ID",
		Short: "Requeue a failed or escalated failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.RetryFailure(args[0], workflow)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Failure %s: %s", res.FailureID, res.Status))
			if res.Failure != nil {
				out.Print(failureHeaders, [][]string{failureRow(*res.Failure)}, res)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "Workflow to run instead of the assigned one")

	return cmd
}

func newFailureEscalateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "escalate ID",
		Short: "Hand a failure over to a human",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.EscalateFailure(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Failure %s: %s", res.FailureID, res.Status))
			return nil
		},
	}
}

func newFailureActivateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "activate WORKFLOW",
		Short: "Set the workflow assigned to new failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.SetActiveWorkflow(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Active workflow: %s", res.WorkflowName))
			return nil
		},
	}
}

func newFailureActiveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the workflow assigned to new failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.ActiveWorkflow()
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(res)
				return nil
			}
			if !res.Active {
				out.Success("No active workflow")
				return nil
			}
			out.Table([]string{"WORKFLOW", "NAME"}, [][]string{{res.WorkflowID, res.WorkflowName}})
			return nil
		},
	}
}
