package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/editor"
	"github.com/shaiso/flowboard/internal/engine"
	"github.com/shaiso/flowboard/internal/localstore"
)

// AutosaveFn открывает локальное автосохранение.
type AutosaveFn func() (*localstore.Store, error)

// NewEditCmd создаёт группу команд редактирования локального файла workflow.
//
// Каждая команда загружает файл в editor.Store, применяет изменение,
// записывает файл обратно и обновляет снимок автосохранения.
func NewEditCmd(autosaveFn AutosaveFn, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit a local workflow file",
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "workflow.json", "Workflow JSON file")

	session := func(cmd *cobra.Command) (*editSession, error) {
		return openEditSession(cmd, file, autosaveFn, outputFn())
	}

	cmd.AddCommand(
		newEditAddNodeCmd(session),
		newEditRemoveNodeCmd(session),
		newEditConnectCmd(session),
		newEditTemplateCmd(session),
		newEditBindCmd(session),
		newEditExtractCmd(session),
		newEditPreviewCmd(session),
		newEditConditionCmd(session),
		newEditStatusCmd(session),
	)

	return cmd
}

// editSession: открытый файл workflow и его Store.
type editSession struct {
	file      string
	store     *editor.Store
	collector *editor.Collector
	autosave  *localstore.Store
	out       *Output
}

func openEditSession(cmd *cobra.Command, file string, autosaveFn AutosaveFn, out *Output) (*editSession, error) {
	wf, err := readWorkflowFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		wf = &domain.Workflow{Name: strings.TrimSuffix(filepath.Base(file), ".json"), Nodes: []domain.Node{}, Edges: []domain.Edge{}}
	} else if err != nil {
		return nil, err
	}

	s := &editSession{file: file, collector: &editor.Collector{}, out: out}

	opts := []editor.Option{editor.WithNotifier(s.collector)}
	if autosaveFn != nil {
		as, err := autosaveFn()
		if err != nil {
			out.Warn(fmt.Sprintf("autosave disabled: %v", err))
		} else {
			s.autosave = as
			ctx := cmd.Context()
			opts = append(opts, editor.OnChange(func(snapshot *domain.Workflow) {
				if err := as.Save(ctx, snapshot); err != nil {
					s.collector.Notify(editor.Toast{Type: editor.ToastError, Title: "Autosave failed", Message: err.Error()})
				}
			}))
		}
	}

	s.store = editor.NewStore(wf, opts...)
	return s, nil
}

// commit записывает граф в файл и печатает накопленные уведомления.
func (s *editSession) commit() error {
	defer s.close()

	s.out.Toasts(s.collector.Drain())
	return writeWorkflowFile(s.file, s.store.Snapshot())
}

func (s *editSession) close() {
	if s.autosave != nil {
		s.autosave.Close()
	}
}

func newEditAddNodeCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	var x, y float64

	cmd := &cobra.Command{
		Use:   "add-node TYPE",
		Short: "Add a node with default data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := session(cmd)
			if err != nil {
				return err
			}

			n, err := s.store.AddNode(args[0], domain.Position{X: x, Y: y})
			if err != nil {
				s.close()
				return err
			}
			if err := s.commit(); err != nil {
				return err
			}

			s.out.Success(fmt.Sprintf("Node added: %s", n.ID))
			return nil
		},
	}

	cmd.Flags().Float64Var(&x, "x", 0, "Canvas X position")
	cmd.Flags().Float64Var(&y, "y", 0, "Canvas Y position")

	return cmd
}

func newEditRemoveNodeCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-node ID",
		Short: "Remove a node and its edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := session(cmd)
			if err != nil {
				return err
			}

			if err := s.store.RemoveNode(args[0]); err != nil {
				s.close()
				return err
			}
			if err := s.commit(); err != nil {
				return err
			}

			s.out.Success(fmt.Sprintf("Node removed: %s", args[0]))
			return nil
		},
	}
}

func newEditConnectCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "connect SOURCE TARGET",
		Short: "Connect two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := session(cmd)
			if err != nil {
				return err
			}

			e, err := s.store.Connect(args[0], args[1])
			if err != nil {
				s.close()
				return err
			}
			if err := s.commit(); err != nil {
				return err
			}

			s.out.Success(fmt.Sprintf("Edge %s: %s → %s", e.ID, e.Source, e.Target))
			return nil
		},
	}
}

func newEditTemplateCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "template NODE [TEMPLATE]",
		Short: "Set the template of a prompt node",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := templateArg(args[1:], fromFile)
			if err != nil {
				return err
			}

			s, err := session(cmd)
			if err != nil {
				return err
			}

			report, err := s.store.SetTemplate(args[0], template)
			if err != nil {
				s.close()
				return err
			}
			if err := s.commit(); err != nil {
				return err
			}

			printReport(s.out, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read the template from a file")

	return cmd
}

func newEditBindCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	var b domain.VariableBinding
	var source, mode string

	cmd := &cobra.Command{
		Use:   "bind NODE KEY",
		Short: "Bind a template variable ({{name}} or $NAME)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b.Source = domain.BindingSource(source)
			b.SourceMode = domain.ExtractionMode(mode)

			s, err := session(cmd)
			if err != nil {
				return err
			}

			if err := s.store.SetBinding(args[0], args[1], b); err != nil {
				s.close()
				return err
			}
			if err := s.commit(); err != nil {
				return err
			}

			s.out.Success(fmt.Sprintf("Bound %s on %s to %s", args[1], args[0], source))
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", string(domain.SourceInput), "Binding source: input, upstream, static")
	cmd.Flags().StringVar(&b.SourceNodeID, "node", "", "Upstream node (defaults to the first predecessor)")
	cmd.Flags().StringVar(&b.SourceOutput, "output", "", "Named output of the upstream node")
	cmd.Flags().StringVar(&b.SourcePath, "path", "", "JSON path or regex applied to the upstream value")
	cmd.Flags().StringVar(&mode, "mode", "", "Path mode: jsonpath or regex (inferred when empty)")
	cmd.Flags().StringVar(&b.StaticValue, "value", "", "Static value")

	return cmd
}

func newEditExtractCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	var specs []string

	cmd := &cobra.Command{
		Use:   "extract NODE",
		Short: "Replace output extraction rules of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := parseRules(specs)
			if err != nil {
				return err
			}

			s, err := session(cmd)
			if err != nil {
				return err
			}

			if err := s.store.SetExtractions(args[0], rules); err != nil {
				s.close()
				return err
			}
			if err := s.commit(); err != nil {
				return err
			}

			s.out.Success(fmt.Sprintf("%d extraction rule(s) set on %s", len(rules), args[0]))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&specs, "rule", nil, "Rule NAME:MODE[:PATTERN], repeatable")

	return cmd
}

func newEditPreviewCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	var input string
	var upstreamSpecs []string

	cmd := &cobra.Command{
		Use:   "preview NODE",
		Short: "Resolve a prompt node template locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upstream, err := parseUpstream(upstreamSpecs)
			if err != nil {
				return err
			}

			s, err := session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			resolved, err := s.store.Preview(args[0], input, upstream)
			if err != nil {
				return err
			}
			report, err := s.store.Analyze(args[0])
			if err != nil {
				return err
			}

			if s.out.JSONMode() {
				s.out.JSON(map[string]any{"resolved": resolved, "report": report})
				return nil
			}
			s.out.Text(resolved)
			printReport(s.out, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Workflow input value")
	cmd.Flags().StringArrayVar(&upstreamSpecs, "upstream", nil, "Upstream output NODE=FILE, repeatable")

	return cmd
}

func newEditConditionCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	var upstreamSpecs, statusSpecs []string

	cmd := &cobra.Command{
		Use:   "condition NODE",
		Short: "Evaluate a condition node against upstream results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upstream, err := parseUpstream(upstreamSpecs)
			if err != nil {
				return err
			}
			statuses := make(map[string]domain.NodeStatus, len(statusSpecs))
			for _, spec := range statusSpecs {
				nodeID, status, ok := strings.Cut(spec, "=")
				if !ok || nodeID == "" {
					return fmt.Errorf("invalid status %q: expected NODE=STATUS", spec)
				}
				st := domain.NodeStatus(status)
				if !st.IsValid() {
					return fmt.Errorf("invalid status %q: unknown node status %q", spec, status)
				}
				statuses[nodeID] = st
			}

			s, err := session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.store.EvaluateCondition(args[0], upstream, statuses)
			if err != nil {
				s.close()
				return err
			}
			// Статус условия сохраняется в файл
			if err := s.commit(); err != nil {
				return err
			}

			if s.out.JSONMode() {
				s.out.JSON(map[string]any{"node": args[0], "result": result})
				return nil
			}
			s.out.Text(fmt.Sprintf("%s: %t", args[0], result))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&upstreamSpecs, "upstream", nil, "Upstream output NODE=FILE, repeatable")
	cmd.Flags().StringArrayVar(&statusSpecs, "status", nil, "Upstream status NODE=STATUS, repeatable")

	return cmd
}

func newEditStatusCmd(session func(*cobra.Command) (*editSession, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status NODE STATUS",
		Short: "Move a node to a new status",
		Long:  "Move a node to a new status. Transitions follow the node lifecycle; idle resets any node.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := session(cmd)
			if err != nil {
				return err
			}

			if err := s.store.SetStatus(args[0], args[1]); err != nil {
				s.close()
				return err
			}
			if err := s.commit(); err != nil {
				return err
			}

			s.out.Success(fmt.Sprintf("%s: %s", args[0], args[1]))
			return nil
		},
	}
}

// templateArg берёт шаблон из аргумента или файла.
func templateArg(args []string, fromFile string) (string, error) {
	switch {
	case fromFile != "":
		data, err := os.ReadFile(fromFile)
		if err != nil {
			return "", fmt.Errorf("failed to read template: %w", err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", errors.New("template argument or --from-file is required")
	}
}

// parseRules разбирает правила вида NAME:MODE[:PATTERN].
// PATTERN может содержать ":".
func parseRules(specs []string) ([]domain.OutputExtraction, error) {
	rules := make([]domain.OutputExtraction, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid rule %q: expected NAME:MODE[:PATTERN]", spec)
		}
		rule := domain.OutputExtraction{OutputName: parts[0], Mode: domain.ExtractionMode(parts[1])}
		if len(parts) == 3 {
			rule.Pattern = parts[2]
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// parseUpstream читает сырые ответы узлов из файлов NODE=FILE.
func parseUpstream(specs []string) (engine.UpstreamMap, error) {
	upstream := make(engine.UpstreamMap, len(specs))
	for _, spec := range specs {
		nodeID, path, ok := strings.Cut(spec, "=")
		if !ok || nodeID == "" {
			return nil, fmt.Errorf("invalid upstream %q: expected NODE=FILE", spec)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read upstream %s: %w", nodeID, err)
		}
		upstream[nodeID] = domain.NodeOutput{Raw: string(data)}
	}
	return upstream, nil
}

// printReport выводит непривязанные и осиротевшие переменные.
func printReport(out *Output, report engine.Report) {
	if out.JSONMode() {
		out.JSON(report)
		return
	}

	keys := make([]string, len(report.Variables))
	for i, v := range report.Variables {
		keys[i] = v.Key()
	}
	out.Success(fmt.Sprintf("Variables: %s", strings.Join(keys, ", ")))
	if len(report.Unbound) > 0 {
		out.Warn(fmt.Sprintf("unbound: %s", strings.Join(report.Unbound, ", ")))
	}
	if len(report.Orphaned) > 0 {
		out.Warn(fmt.Sprintf("orphaned: %s", strings.Join(report.Orphaned, ", ")))
	}
}
