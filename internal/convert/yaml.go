package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/flowboard/internal/domain"
)

// yamlFile: документ верхнего уровня. Описание может лежать под ключом
// workflow или прямо в корне.
type yamlFile struct {
	Workflow     *yamlWorkflow `yaml:"workflow"`
	yamlWorkflow `yaml:",inline"`
}

type yamlWorkflow struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Agents      []yamlAgent `yaml:"agents"`
	Inputs      []yamlInput `yaml:"inputs"`
	Steps       []yamlStep  `yaml:"steps"`
}

type yamlAgent struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// yamlInput: строка с именем или объект {name, type, required}.
type yamlInput struct {
	Name string `yaml:"name"`
}

func (in *yamlInput) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		in.Name = n.Value
		return nil
	}
	type plain yamlInput
	return n.Decode((*plain)(in))
}

// yamlStep: один шаг. Тип шага определяется ключом: prompt, http, if,
// parallel, aggregate, loop или router.
type yamlStep struct {
	Prompt   string `yaml:"prompt"`
	Template string `yaml:"template"`
	Input    string `yaml:"input"`
	Agent    string `yaml:"agent"`
	Output   string `yaml:"output"`

	HTTP    string         `yaml:"http"`
	Method  string         `yaml:"method"`
	URL     string         `yaml:"url"`
	Headers map[string]any `yaml:"headers"`
	Body    any            `yaml:"body"`
	Timeout int            `yaml:"timeout"`

	If   string     `yaml:"if"`
	Then []yamlStep `yaml:"then"`
	Else []yamlStep `yaml:"else"`

	Parallel []yamlBranch `yaml:"parallel"`

	Aggregate string `yaml:"aggregate"`
	Strategy  string `yaml:"strategy"`
	Separator string `yaml:"separator"`

	Loop *yamlLoop `yaml:"loop"`

	Router   string    `yaml:"router"`
	Variable string    `yaml:"variable"`
	Routes   yaml.Node `yaml:"routes"`

	keys map[string]bool
}

func (s *yamlStep) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping", n.Line)
	}
	type plain yamlStep
	if err := n.Decode((*plain)(s)); err != nil {
		return err
	}
	s.keys = make(map[string]bool, len(n.Content)/2)
	for i := 0; i < len(n.Content); i += 2 {
		s.keys[n.Content[i].Value] = true
	}
	return nil
}

// kind возвращает тип шага по первому известному ключу.
func (s *yamlStep) kind() string {
	for _, k := range []string{"prompt", "http", "if", "parallel", "aggregate", "loop", "router"} {
		if s.keys[k] {
			return k
		}
	}
	return ""
}

type yamlBranch struct {
	Branch []yamlStep `yaml:"branch"`
}

type yamlLoop struct {
	Max   int        `yaml:"max"`
	Until string     `yaml:"until"`
	Steps []yamlStep `yaml:"steps"`
}

// FromYAML собирает workflow из YAML описания.
//
// Граф всегда начинается узлом workflowStart и заканчивается узлом output;
// шаги соединяются последовательно.
func FromYAML(src []byte, opts Options) (*Result, error) {
	var doc yamlFile
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, &Error{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	wf := doc.yamlWorkflow
	if doc.Workflow != nil {
		wf = *doc.Workflow
	}
	if len(wf.Steps) == 0 {
		return nil, &Error{Message: "workflow has no steps"}
	}

	name := wf.Name
	if name == "" {
		name = "Untitled Workflow"
	}

	inputs := make([]string, 0, len(wf.Inputs))
	for _, in := range wf.Inputs {
		if in.Name != "" {
			inputs = append(inputs, in.Name)
		}
	}

	c := &yamlConverter{b: newBuilder()}
	c.b.addInputs(inputs)
	for _, a := range wf.Agents {
		if a.Color != "" {
			c.b.laneColors[a.Name] = a.Color
		}
	}

	start := c.b.addNode("Start", "", &domain.WorkflowStartData{Label: "Start", InputVariables: inputs})
	last, err := c.steps(wf.Steps, start, "steps")
	if err != nil {
		return nil, err
	}
	end := c.b.addNode("End", "", &domain.OutputData{Label: "End"})
	c.b.link(last, end)

	return c.b.result(name, wf.Description, inputs, opts), nil
}

type yamlConverter struct {
	b *builder
}

func (c *yamlConverter) steps(steps []yamlStep, prev, path string) (string, error) {
	for i := range steps {
		var err error
		prev, err = c.step(&steps[i], prev, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return "", err
		}
	}
	return prev, nil
}

// branch строит шаги ветки от from с sourceHandle handle.
func (c *yamlConverter) branch(steps []yamlStep, from, handle, path string) ([]string, error) {
	var err error
	ends := c.b.branch(from, handle, func(prev string) string {
		var last string
		last, err = c.steps(steps, prev, path)
		return last
	})
	return ends, err
}

func (c *yamlConverter) step(s *yamlStep, prev, path string) (string, error) {
	b := c.b

	switch s.kind() {
	case "prompt":
		template := s.Input
		if template == "" {
			template = "{{upstream}}"
		}
		data := &domain.PromptBlockData{
			Label:            s.Prompt,
			PromptTemplateID: s.Template,
			Template:         template,
			Bindings:         b.bindings(prev, template),
			Status:           domain.StatusIdle,
		}
		if s.Output != "" {
			data.OutputExtractions = []domain.OutputExtraction{{OutputName: s.Output, Mode: domain.ModeFull}}
		}
		id := b.addNode(s.Prompt, s.Agent, data)
		if s.Output != "" {
			b.outputs[s.Output] = id
		}
		b.link(prev, id)
		return id, nil

	case "http":
		headers, err := headersJSON(s.Headers)
		if err != nil {
			return "", &Error{Message: err.Error(), Path: path}
		}
		body, err := bodyText(s.Body)
		if err != nil {
			return "", &Error{Message: err.Error(), Path: path}
		}
		method := strings.ToUpper(s.Method)
		if method == "" {
			method = "GET"
		}
		data := &domain.HTTPRequestData{
			Label:      s.HTTP,
			Method:     method,
			URL:        s.URL,
			Headers:    headers,
			Body:       body,
			TimeoutSec: s.Timeout,
			Bindings:   b.bindings(prev, s.URL, headers, body),
			Status:     domain.StatusIdle,
		}
		if s.Output != "" {
			data.OutputExtractions = []domain.OutputExtraction{{OutputName: s.Output, Mode: domain.ModeJSON}}
		}
		id := b.addNode(s.HTTP, s.Agent, data)
		if s.Output != "" {
			b.outputs[s.Output] = id
		}
		b.link(prev, id)
		return id, nil

	case "if":
		id := b.addNode(s.If, "", &domain.ConditionData{
			Label:     "If " + conditionLabel(s.If),
			Condition: b.condition(s.If),
			Status:    domain.ConditionIdle,
		})
		b.link(prev, id)

		yes, err := c.branch(s.Then, id, "true", path+".then")
		if err != nil {
			return "", err
		}
		no, err := c.branch(s.Else, id, "false", path+".else")
		if err != nil {
			return "", err
		}
		return b.merge(append(yes, no...)...), nil

	case "parallel":
		ends := make([]string, 0, len(s.Parallel))
		for i, br := range s.Parallel {
			if len(br.Branch) == 0 {
				continue
			}
			branchEnds, err := c.branch(br.Branch, prev, "", fmt.Sprintf("%s.parallel[%d].branch", path, i))
			if err != nil {
				return "", err
			}
			ends = append(ends, branchEnds...)
		}
		if len(ends) == 0 {
			return prev, nil
		}
		// Ожидающие концы уже соединены с началом каждой ветки.
		b.pending = nil
		return b.merge(ends...), nil

	case "aggregate":
		id := b.addNode(s.Aggregate, "", &domain.AggregatorData{
			Label:     s.Aggregate,
			Strategy:  aggregateStrategy(s.Strategy),
			Separator: s.Separator,
		})
		b.link(prev, id)
		return id, nil

	case "loop":
		loop := s.Loop
		if loop == nil {
			loop = &yamlLoop{}
		}
		maxIter := loop.Max
		if maxIter <= 0 {
			maxIter = 3
		}
		until := loop.Until
		if until == "" {
			until = "true"
		}

		first := len(b.nodes)
		last, err := c.steps(loop.Steps, prev, path+".loop.steps")
		if err != nil {
			return "", err
		}

		id := b.addNode("Loop", "", &domain.EvaluatorData{
			Label:         fmt.Sprintf("Loop (max %d)", maxIter),
			Criteria:      until,
			MaxIterations: maxIter,
			Status:        domain.EvaluatorIdle,
		})
		b.link(last, id)
		if first < len(b.nodes)-1 {
			b.loopBack(id, b.nodes[first].ID)
			b.handles[id] = "approved"
		}
		return id, nil

	case "router":
		if s.Routes.Kind != 0 && s.Routes.Kind != yaml.MappingNode {
			return "", &Error{Message: "routes must be a mapping", Path: path}
		}

		var rules []domain.RouterRule
		for i := 0; i+1 < len(s.Routes.Content); i += 2 {
			rules = append(rules, domain.RouterRule{
				Handle:  fmt.Sprintf("route-%d", i/2),
				Pattern: s.Routes.Content[i].Value,
			})
		}
		id := b.addNode(s.Router, "", &domain.RouterData{Label: s.Router, Routes: rules})
		b.link(prev, id)

		ends := make([]string, 0, len(rules))
		for i := 0; i+1 < len(s.Routes.Content); i += 2 {
			routeName := s.Routes.Content[i].Value
			var steps []yamlStep
			if err := s.Routes.Content[i+1].Decode(&steps); err != nil {
				return "", &Error{Message: fmt.Sprintf("invalid route %q: %v", routeName, err), Path: path}
			}
			if len(steps) == 0 {
				continue
			}
			branchEnds, err := c.branch(steps, id, fmt.Sprintf("route-%d", i/2), fmt.Sprintf("%s.routes.%s", path, routeName))
			if err != nil {
				return "", err
			}
			ends = append(ends, branchEnds...)
		}
		if len(ends) == 0 {
			return id, nil
		}
		return b.merge(ends...), nil

	default:
		keys := make([]string, 0, len(s.keys))
		for k := range s.keys {
			keys = append(keys, k)
		}
		return "", &Error{Message: fmt.Sprintf("unknown step type: %v", keys), Path: path}
	}
}

// headersJSON сериализует заголовки в JSON строку узла.
func headersJSON(headers map[string]any) (string, error) {
	if len(headers) == 0 {
		return "", nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("invalid headers: %w", err)
	}
	return string(b), nil
}

// bodyText: строка как есть, объект или список в JSON.
func bodyText(body any) (string, error) {
	switch v := body.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("invalid body: %w", err)
		}
		return string(b), nil
	}
}

// aggregateStrategy приводит стратегию к значениям блока aggregator.
func aggregateStrategy(s string) string {
	switch strings.ToLower(s) {
	case "", "merge", "concat", "concatenate":
		return "concat"
	case "json":
		return "json"
	default:
		return s
	}
}

// conditionLabel: имя первой переменной выражения или его начало.
func conditionLabel(expr string) string {
	if m := conditionExprRe.FindStringSubmatch(expr); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	if len(expr) > 20 {
		return expr[:20]
	}
	return expr
}
