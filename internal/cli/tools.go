package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
)

// NewPreviewCmd создаёт команду подстановки шаблона на сервере.
func NewPreviewCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req PreviewRequest
	var fromFile string
	var bindSpecs, upstreamSpecs []string

	cmd := &cobra.Command{
		Use:   "preview [TEMPLATE]",
		Short: "Resolve a template with bindings",
		Long: `Resolve a template with bindings on the server.

Bindings are KEY=SOURCE, where SOURCE is one of:
  input                        workflow input
  static:VALUE                 fixed text
  upstream:NODE[:OUTPUT[:PATH]] output of an upstream node`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			template, err := templateArg(args, fromFile)
			if err != nil {
				return err
			}
			req.Template = template

			if req.Bindings, err = parseBindings(bindSpecs); err != nil {
				return err
			}
			upstream, err := parseUpstream(upstreamSpecs)
			if err != nil {
				return err
			}
			req.Upstream = upstream

			res, err := client.Preview(req)
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(res)
				return nil
			}
			out.Text(res.Resolved)
			for _, w := range res.Warnings {
				out.Warn(w)
			}
			printReport(out, res.Report)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read the template from a file")
	cmd.Flags().StringArrayVar(&bindSpecs, "bind", nil, "Binding KEY=SOURCE, repeatable")
	cmd.Flags().StringVar(&req.Input, "input", "", "Workflow input value")
	cmd.Flags().StringArrayVar(&upstreamSpecs, "upstream", nil, "Upstream output NODE=FILE, repeatable")

	return cmd
}

// NewVarsCmd создаёт команду поиска переменных шаблона. Работает без сервера.
func NewVarsCmd(outputFn func() *Output) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "vars [TEMPLATE]",
		Short: "List template variables",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			template, err := templateArg(args, fromFile)
			if err != nil {
				return err
			}

			vars := engine.ExtractAllVariables(template)
			rows := make([][]string, len(vars))
			for i, v := range vars {
				rows[i] = []string{v.Key(), v.Name, string(v.Syntax)}
			}

			out.Print([]string{"KEY", "NAME", "SYNTAX"}, rows, vars)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read the template from a file")

	return cmd
}

// NewExtractCmd создаёт команду проверки правил извлечения на сервере.
func NewExtractCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var rawFile string
	var specs []string

	cmd := &cobra.Command{
		Use:   "extract [RAW]",
		Short: "Apply output extraction rules to a raw response",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			raw, err := templateArg(args, rawFile)
			if err != nil {
				return err
			}
			rules, err := parseRules(specs)
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				rules = []domain.OutputExtraction{domain.DefaultOutputExtraction()}
			}

			res, err := client.Extract(raw, rules)
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(res)
				return nil
			}

			names := make([]string, 0, len(res.Outputs))
			for name := range res.Outputs {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, len(names))
			for i, name := range names {
				rows[i] = []string{name, engine.Stringify(res.Outputs[name])}
			}
			out.Table([]string{"OUTPUT", "VALUE"}, rows)
			for _, e := range res.Errors {
				out.Warn(e)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rawFile, "raw-file", "", "Read the raw response from a file")
	cmd.Flags().StringArrayVar(&specs, "rule", nil, "Rule NAME:MODE[:PATTERN], repeatable")

	return cmd
}

// parseBindings разбирает привязки вида KEY=SOURCE.
func parseBindings(specs []string) (domain.Bindings, error) {
	bindings := make(domain.Bindings, len(specs))
	for _, spec := range specs {
		key, source, ok := strings.Cut(spec, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid binding %q: expected KEY=SOURCE", spec)
		}

		b, err := parseBindingSource(source)
		if err != nil {
			return nil, fmt.Errorf("invalid binding %q: %w", spec, err)
		}
		b.Name = key
		bindings[key] = b
	}
	return bindings, nil
}

func parseBindingSource(source string) (domain.VariableBinding, error) {
	kind, rest, _ := strings.Cut(source, ":")

	switch domain.BindingSource(kind) {
	case domain.SourceInput:
		return domain.VariableBinding{Source: domain.SourceInput}, nil

	case domain.SourceStatic:
		return domain.VariableBinding{Source: domain.SourceStatic, StaticValue: rest}, nil

	case domain.SourceUpstream:
		// PATH идёт последним и может содержать ":".
		parts := strings.SplitN(rest, ":", 3)
		if parts[0] == "" {
			return domain.VariableBinding{}, fmt.Errorf("upstream source needs a node id")
		}
		b := domain.VariableBinding{Source: domain.SourceUpstream, SourceNodeID: parts[0]}
		if len(parts) > 1 {
			b.SourceOutput = parts[1]
		}
		if len(parts) > 2 {
			b.SourcePath = parts[2]
		}
		return b, nil

	default:
		return domain.VariableBinding{}, fmt.Errorf("unknown source %q", kind)
	}
}
