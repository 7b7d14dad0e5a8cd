package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/convert"
	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
)

// NewFlowCmd создаёт группу команд для управления workflows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowImportCmd(clientFn, outputFn),
		newFlowExportCmd(clientFn, outputFn),
		newFlowDeleteCmd(clientFn, outputFn),
		newFlowMoveCmd(clientFn, outputFn),
		newFlowFoldersCmd(clientFn, outputFn),
		newFlowValidateCmd(outputFn),
		newFlowFromPlantUMLCmd(clientFn, outputFn),
		newFlowFromYAMLCmd(clientFn, outputFn),
	)

	return cmd
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flows, err := client.ListFlows()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "FOLDER", "NODES", "EDGES", "UPDATED"}
			rows := make([][]string, len(flows))
			for i, f := range flows {
				rows[i] = []string{
					f.Name,
					f.Folder,
					strconv.Itoa(f.NodeCount),
					strconv.Itoa(f.EdgeCount),
					formatTime(f.UpdatedAt),
				}
			}

			out.Print(headers, rows, flows)
			return nil
		},
	}
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show workflow nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.GetFlow(args[0])
			if err != nil {
				return err
			}

			out.Print([]string{"ID", "TYPE", "INPUTS", "OUTPUTS"}, nodeRows(wf), wf)
			return nil
		},
	}
}

func newFlowImportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name, folder string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Save a workflow from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := readWorkflowFile(args[0])
			if err != nil {
				return err
			}
			if name != "" {
				wf.Name = name
			}
			if folder != "" {
				wf.Folder = folder
			}

			res, err := client.SaveFlow(wf)
			if err != nil {
				return err
			}

			for _, w := range res.Warnings {
				out.Warn(w)
			}
			out.Success(fmt.Sprintf("Flow saved: %s", res.Name))
			out.Print(
				[]string{"NAME", "FOLDER", "CREATED", "UPDATED"},
				[][]string{{res.Name, res.Folder, formatTime(res.CreatedAt), formatTime(res.UpdatedAt)}},
				res,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Override workflow name")
	cmd.Flags().StringVar(&folder, "folder", "", "Target folder")

	return cmd
}

func newFlowExportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "export NAME",
		Short: "Export a workflow as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.GetFlow(args[0])
			if err != nil {
				return err
			}

			if file == "" {
				out.JSON(wf)
				return nil
			}
			if err := writeWorkflowFile(file, wf); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Flow exported: %s", file))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

func newFlowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteFlow(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow deleted: %s", args[0]))
			return nil
		},
	}
}

func newFlowMoveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "move NAME",
		Short: "Move a workflow to a folder (empty for root)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.MoveFlow(args[0], folder); err != nil {
				return err
			}

			target := folder
			if target == "" {
				target = "root"
			}
			out.Success(fmt.Sprintf("Flow %s moved to %s", args[0], target))
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Target folder")

	return cmd
}

func newFlowFoldersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var create string

	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List workflow folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if create != "" {
				if err := client.CreateFlowFolder(create); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Folder created: %s", create))
			}

			folders, err := client.ListFlowFolders()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "FLOWS"}
			rows := make([][]string, len(folders))
			for i, f := range folders {
				rows[i] = []string{f.Name, strconv.Itoa(f.FlowCount)}
			}

			out.Print(headers, rows, folders)
			return nil
		},
	}

	cmd.Flags().StringVar(&create, "create", "", "Create a folder before listing")

	return cmd
}

func newFlowValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a workflow file without saving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read workflow file: %w", err)
			}
			wf, err := engine.ParseWorkflow(data)
			if err != nil {
				return err
			}

			warnings := engine.Lint(wf)
			order, cycleErr := engine.ExecutionOrder(wf)

			if out.JSONMode() {
				res := map[string]any{"valid": true, "order": order, "warnings": errorStrings(warnings)}
				if cycleErr != nil {
					res["cycle"] = cycleErr.Error()
				}
				out.JSON(res)
				return nil
			}

			for _, w := range warnings {
				out.Warn(w.Error())
			}
			if cycleErr != nil {
				out.Warn(cycleErr.Error())
			}
			out.Success(fmt.Sprintf("Workflow is valid: %d nodes, order %s", len(wf.Nodes), strings.Join(order, " → ")))
			return nil
		},
	}
}

func newFlowFromPlantUMLCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := newFlowConvertCmd(clientFn, outputFn, func(c *Client, source, name string) (*convert.Result, error) {
		return c.ConvertPlantUML(source, name)
	})
	cmd.Use = "from-plantuml FILE"
	cmd.Short = "Convert a PlantUML activity diagram into a workflow"
	return cmd
}

func newFlowFromYAMLCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := newFlowConvertCmd(clientFn, outputFn, func(c *Client, source, name string) (*convert.Result, error) {
		return c.ConvertYAML(source, name)
	})
	cmd.Use = "from-yaml FILE"
	cmd.Short = "Convert a YAML workflow description into a workflow"
	return cmd
}

// newFlowConvertCmd: общая часть from-plantuml и from-yaml.
// Без --save и -o печатает workflow как JSON.
func newFlowConvertCmd(
	clientFn func() *Client,
	outputFn func() *Output,
	convertFn func(c *Client, source, name string) (*convert.Result, error),
) *cobra.Command {
	var name, file string
	var save bool

	cmd := &cobra.Command{
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read source: %w", err)
			}

			res, err := convertFn(client, string(source), name)
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				out.Warn(w)
			}

			wf := res.Workflow()
			switch {
			case save:
				saved, err := client.SaveFlow(wf)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Flow saved: %s", saved.Name))
			case file != "":
				if err := writeWorkflowFile(file, wf); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Flow written: %s", file))
			default:
				out.JSON(wf)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Workflow name (defaults to the name in the source)")
	cmd.Flags().StringVarP(&file, "output", "o", "", "Write workflow to file")
	cmd.Flags().BoolVar(&save, "save", false, "Save the converted workflow on the server")

	return cmd
}

// nodeRows строит строки таблицы узлов: переменные шаблона и именованные выходы.
func nodeRows(wf *domain.Workflow) [][]string {
	rows := make([][]string, len(wf.Nodes))
	for i := range wf.Nodes {
		n := &wf.Nodes[i]

		var inputs []string
		if data, ok := n.PromptData(); ok {
			inputs = engine.VariableKeys(data.Template)
		}
		var outputs []string
		for _, rule := range n.Extractions() {
			outputs = append(outputs, rule.OutputName)
		}

		rows[i] = []string{n.ID, n.Type, strings.Join(inputs, ","), strings.Join(outputs, ",")}
	}
	return rows
}

// readWorkflowFile читает workflow из JSON файла без проверки графа:
// проверку делает сервер.
func readWorkflowFile(path string) (*domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file: %w", err)
	}
	return &wf, nil
}

// writeWorkflowFile записывает workflow в JSON с отступами.
func writeWorkflowFile(path string, wf *domain.Workflow) error {
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	return nil
}

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
