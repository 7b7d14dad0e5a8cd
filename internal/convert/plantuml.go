package convert

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/flowboard/internal/domain"
)

var (
	umlTitleRe      = regexp.MustCompile(`^title\s+(.+)$`)
	umlLaneRe       = regexp.MustCompile(`^\|(?:#(\w+)\|)?([^|]+)\|$`)
	umlActivityRe   = regexp.MustCompile(`^:(.*);$`)
	umlNoteStartRe  = regexp.MustCompile(`^note\s+(right|left)$`)
	umlNoteInlineRe = regexp.MustCompile(`^note\s+(right|left)\s*:`)
	umlNoteEndRe    = regexp.MustCompile(`^end\s*note$`)
	umlIfRe         = regexp.MustCompile(`^if\s*\((.+?)\??\)\s*then(?:\s*\(([^)]*)\))?$`)
	umlElseIfRe     = regexp.MustCompile(`^else\s*if\s*\((.+?)\??\)\s*then(?:\s*\(([^)]*)\))?$`)
	umlElseRe       = regexp.MustCompile(`^else(?:\s*\(([^)]*)\))?$`)
	umlEndIfRe      = regexp.MustCompile(`^end\s*if$`)
	umlForkRe       = regexp.MustCompile(`^(fork|split)$`)
	umlForkAgainRe  = regexp.MustCompile(`^(fork|split)\s+again$`)
	umlEndForkRe    = regexp.MustCompile(`^end\s*(fork|split)$`)
	umlRepeatRe     = regexp.MustCompile(`^repeat$`)
	umlRepeatEndRe  = regexp.MustCompile(`^repeat\s*while\s*\((.+?)\??\)(?:\s*is\s*\(([^)]*)\))?$`)
	umlStartRe      = regexp.MustCompile(`^start$`)
	umlStopRe       = regexp.MustCompile(`^(stop|end|kill|detach)$`)
	umlAnnotationRe = regexp.MustCompile(`^<<(\w+)>>$`)
)

// umlLine: строка диаграммы с номером в исходном тексте.
type umlLine struct {
	text string // без пробелов по краям
	raw  string
	num  int
}

// Элементы разобранной диаграммы.
type (
	umlElem interface{}

	umlActivity struct {
		label string
		lane  string
		line  int
		note  *umlNote
	}

	umlStart struct {
		line int
		note *umlNote
	}

	umlStop struct {
		line int
	}

	// umlIf: if, else if и else одной конструкции. У ветки else cond пустой.
	umlIf struct {
		branches []umlBranch
	}

	umlBranch struct {
		cond  string
		elems []umlElem
	}

	umlFork struct {
		branches [][]umlElem
	}

	umlRepeat struct {
		cond  string
		elems []umlElem
	}
)

// umlNote: аннотация узла из note right/left.
type umlNote struct {
	kind   string // prompt, http, router, aggregator, input
	fields map[string]any
}

// FromPlantUML собирает workflow из диаграммы активностей PlantUML.
//
// Активность без аннотации становится promptBlock. Тип узла и его поля
// задаются note с маркером <<prompt>>, <<http>>, <<router>> или
// <<aggregator>> и YAML полями. Note с <<input>> после start задаёт
// входные переменные workflow. Дорожки (|Name|) становятся AgentMapping.
func FromPlantUML(src string, opts Options) (*Result, error) {
	p := &umlParser{lines: umlPreprocess(src)}

	elems, err := p.seq()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.lines) {
		l := p.lines[p.pos]
		return nil, &Error{Message: fmt.Sprintf("unexpected %q", l.text), Line: l.num}
	}

	c := &umlConverter{b: newBuilder()}
	c.b.warnings = p.warnings
	for lane, color := range p.colors {
		c.b.laneColors[lane] = color
	}

	if _, err := c.elems(elems, ""); err != nil {
		return nil, err
	}
	if len(c.b.nodes) == 0 {
		return nil, &Error{Message: "diagram has no activities"}
	}

	name := p.title
	if name == "" {
		name = "Untitled Workflow"
	}
	return c.b.result(name, "", c.inputs, opts), nil
}

// umlPreprocess оставляет строки между @startuml и @enduml (или все, если
// @startuml нет), без пустых строк и комментариев.
func umlPreprocess(src string) []umlLine {
	raw := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")

	bounded := false
	for _, l := range raw {
		if strings.HasPrefix(strings.TrimSpace(l), "@startuml") {
			bounded = true
			break
		}
	}

	var lines []umlLine
	inside := !bounded
	for i, l := range raw {
		text := strings.TrimSpace(l)
		switch {
		case strings.HasPrefix(text, "@startuml"):
			inside = true
			continue
		case text == "@enduml":
			inside = false
			continue
		case !inside, text == "", strings.HasPrefix(text, "'"):
			continue
		}
		lines = append(lines, umlLine{text: text, raw: l, num: i + 1})
	}
	return lines
}

type umlParser struct {
	lines []umlLine
	pos   int

	title    string
	lane     string
	colors   map[string]string
	warnings []string
}

// seq разбирает элементы до первой строки, которую должен обработать
// вызывающий блок (else, endif, fork again, end fork, repeat while).
func (p *umlParser) seq() ([]umlElem, error) {
	var elems []umlElem

	for p.pos < len(p.lines) {
		l := p.lines[p.pos]

		if isBlockBoundary(l.text) {
			return elems, nil
		}
		p.pos++

		switch {
		case umlTitleRe.MatchString(l.text):
			p.title = strings.TrimSpace(umlTitleRe.FindStringSubmatch(l.text)[1])

		case umlLaneRe.MatchString(l.text):
			m := umlLaneRe.FindStringSubmatch(l.text)
			p.lane = strings.TrimSpace(m[2])
			if m[1] != "" {
				if p.colors == nil {
					p.colors = make(map[string]string)
				}
				p.colors[p.lane] = m[1]
			}

		case umlStartRe.MatchString(l.text):
			elems = append(elems, &umlStart{line: l.num})

		case umlStopRe.MatchString(l.text):
			elems = append(elems, &umlStop{line: l.num})

		case strings.HasPrefix(l.text, ":"):
			label, err := p.activityLabel(l)
			if err != nil {
				return nil, err
			}
			elems = append(elems, &umlActivity{label: label, lane: p.lane, line: l.num})

		case umlNoteStartRe.MatchString(l.text):
			note, err := p.note(l)
			if err != nil {
				return nil, err
			}
			attachNote(elems, note)

		case umlNoteInlineRe.MatchString(l.text):
			// Однострочная note: только текст, без аннотации.

		case umlIfRe.MatchString(l.text):
			el, err := p.ifBlock(l)
			if err != nil {
				return nil, err
			}
			elems = append(elems, el)

		case umlForkRe.MatchString(l.text):
			el, err := p.forkBlock(l)
			if err != nil {
				return nil, err
			}
			elems = append(elems, el)

		case umlRepeatRe.MatchString(l.text):
			el, err := p.repeatBlock(l)
			if err != nil {
				return nil, err
			}
			elems = append(elems, el)

		default:
			p.warnings = append(p.warnings, fmt.Sprintf("line %d: skipped %q", l.num, l.text))
		}
	}

	return elems, nil
}

func isBlockBoundary(text string) bool {
	return umlElseIfRe.MatchString(text) || umlElseRe.MatchString(text) ||
		umlEndIfRe.MatchString(text) || umlForkAgainRe.MatchString(text) ||
		umlEndForkRe.MatchString(text) || umlRepeatEndRe.MatchString(text)
}

// activityLabel читает :label; в том числе на нескольких строках.
func (p *umlParser) activityLabel(first umlLine) (string, error) {
	if m := umlActivityRe.FindStringSubmatch(first.text); m != nil {
		return strings.TrimSpace(m[1]), nil
	}

	parts := []string{strings.TrimPrefix(first.text, ":")}
	for p.pos < len(p.lines) {
		l := p.lines[p.pos]
		p.pos++
		if strings.HasSuffix(l.text, ";") {
			parts = append(parts, strings.TrimSuffix(l.text, ";"))
			return strings.TrimSpace(strings.Join(parts, " ")), nil
		}
		parts = append(parts, l.text)
	}
	return "", &Error{Message: "activity is not terminated with ';'", Line: first.num}
}

// note читает тело note до end note. Маркер <<kind>> задаёт тип аннотации,
// остальные строки разбираются как YAML. Note без маркера даёт nil.
func (p *umlParser) note(start umlLine) (*umlNote, error) {
	var body []string
	kind := ""

	for p.pos < len(p.lines) {
		l := p.lines[p.pos]
		p.pos++
		if umlNoteEndRe.MatchString(l.text) {
			if kind == "" {
				return nil, nil
			}
			return p.annotation(kind, body, start.num), nil
		}
		if m := umlAnnotationRe.FindStringSubmatch(l.text); m != nil && kind == "" {
			kind = strings.ToLower(m[1])
			continue
		}
		body = append(body, l.raw)
	}
	return nil, &Error{Message: "note without end note", Line: start.num}
}

func (p *umlParser) annotation(kind string, body []string, line int) *umlNote {
	note := &umlNote{kind: kind, fields: map[string]any{}}
	switch kind {
	case "prompt", "http", "router", "aggregator", "input":
	default:
		p.warnings = append(p.warnings, fmt.Sprintf("line %d: unknown annotation <<%s>>", line, kind))
		return nil
	}

	text := dedent(body)
	if strings.TrimSpace(text) == "" {
		return note
	}
	if err := yaml.Unmarshal([]byte(text), &note.fields); err != nil {
		p.warnings = append(p.warnings, fmt.Sprintf("line %d: invalid <<%s>> annotation: %v", line, kind, err))
		note.fields = map[string]any{}
	}
	return note
}

// attachNote привязывает аннотацию к последнему элементу (activity или start).
func attachNote(elems []umlElem, note *umlNote) {
	if note == nil || len(elems) == 0 {
		return
	}
	switch el := elems[len(elems)-1].(type) {
	case *umlActivity:
		el.note = note
	case *umlStart:
		el.note = note
	}
}

// dedent убирает общий отступ строк, сохраняя вложенность YAML.
func dedent(lines []string) string {
	indent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent < 0 {
		return ""
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		if len(l) >= indent {
			out[i] = strings.ReplaceAll(l[indent:], "\t", "  ")
		}
	}
	return strings.Join(out, "\n")
}

func (p *umlParser) ifBlock(start umlLine) (*umlIf, error) {
	m := umlIfRe.FindStringSubmatch(start.text)
	block := &umlIf{}
	cond := strings.TrimSpace(m[1])

	for {
		elems, err := p.seq()
		if err != nil {
			return nil, err
		}
		block.branches = append(block.branches, umlBranch{cond: cond, elems: elems})

		if p.pos >= len(p.lines) {
			return nil, &Error{Message: "if without endif", Line: start.num}
		}
		l := p.lines[p.pos]
		p.pos++

		switch {
		case umlEndIfRe.MatchString(l.text):
			return block, nil
		case umlElseIfRe.MatchString(l.text):
			cond = strings.TrimSpace(umlElseIfRe.FindStringSubmatch(l.text)[1])
		case umlElseRe.MatchString(l.text):
			if cond == "" {
				return nil, &Error{Message: "duplicate else", Line: l.num}
			}
			cond = ""
		default:
			return nil, &Error{Message: fmt.Sprintf("unexpected %q inside if", l.text), Line: l.num}
		}
	}
}

func (p *umlParser) forkBlock(start umlLine) (*umlFork, error) {
	block := &umlFork{}

	for {
		elems, err := p.seq()
		if err != nil {
			return nil, err
		}
		block.branches = append(block.branches, elems)

		if p.pos >= len(p.lines) {
			return nil, &Error{Message: "fork without end fork", Line: start.num}
		}
		l := p.lines[p.pos]
		p.pos++

		switch {
		case umlEndForkRe.MatchString(l.text):
			return block, nil
		case umlForkAgainRe.MatchString(l.text):
		default:
			return nil, &Error{Message: fmt.Sprintf("unexpected %q inside fork", l.text), Line: l.num}
		}
	}
}

func (p *umlParser) repeatBlock(start umlLine) (*umlRepeat, error) {
	elems, err := p.seq()
	if err != nil {
		return nil, err
	}
	if p.pos >= len(p.lines) {
		return nil, &Error{Message: "repeat without repeat while", Line: start.num}
	}

	l := p.lines[p.pos]
	m := umlRepeatEndRe.FindStringSubmatch(l.text)
	if m == nil {
		return nil, &Error{Message: fmt.Sprintf("unexpected %q inside repeat", l.text), Line: l.num}
	}
	p.pos++

	return &umlRepeat{cond: strings.TrimSpace(m[1]), elems: elems}, nil
}

type umlConverter struct {
	b      *builder
	inputs []string
	start  bool
}

func (c *umlConverter) elems(elems []umlElem, prev string) (string, error) {
	for _, el := range elems {
		var err error
		prev, err = c.elem(el, prev)
		if err != nil {
			return "", err
		}
	}
	return prev, nil
}

func (c *umlConverter) elem(el umlElem, prev string) (string, error) {
	b := c.b

	switch el := el.(type) {
	case *umlStart:
		if c.start {
			b.warn("line %d: second start ignored", el.line)
			return prev, nil
		}
		c.start = true
		if el.note != nil && el.note.kind == "input" {
			c.inputs = inputNames(el.note.fields["variables"])
			b.addInputs(c.inputs)
		}
		id := b.addNode("Start", "", &domain.WorkflowStartData{Label: "Start", InputVariables: c.inputs})
		b.link(prev, id)
		return id, nil

	case *umlStop:
		id := b.addNode("End", "", &domain.OutputData{Label: "End"})
		b.link(prev, id)
		return id, nil

	case *umlActivity:
		data, output := c.activityData(el, prev)
		id := b.addNode(el.label, el.lane, data)
		if output != "" {
			b.outputs[output] = id
		}
		b.link(prev, id)
		return id, nil

	case *umlIf:
		return c.ifBlock(el.branches, prev)

	case *umlFork:
		var ends []string
		for _, branch := range el.branches {
			var err error
			branchEnds := b.branch(prev, "", func(from string) string {
				var last string
				last, err = c.elems(branch, from)
				return last
			})
			if err != nil {
				return "", err
			}
			ends = append(ends, branchEnds...)
		}
		// Ожидающие концы уже соединены с началом каждой ветки.
		b.pending = nil
		return b.merge(ends...), nil

	case *umlRepeat:
		first := len(b.nodes)
		last, err := c.elems(el.elems, prev)
		if err != nil {
			return "", err
		}

		id := b.addNode(el.cond, "", &domain.EvaluatorData{
			Label:         "Evaluate: " + el.cond,
			Criteria:      el.cond,
			MaxIterations: 3,
			Status:        domain.EvaluatorIdle,
		})
		b.link(last, id)
		if first < len(b.nodes)-1 {
			b.loopBack(id, b.nodes[first].ID)
			b.handles[id] = "approved"
		}
		return id, nil

	default:
		return "", fmt.Errorf("unexpected element %T", el)
	}
}

// ifBlock строит condition для первой ветки. else if становится вложенным
// condition на handle "false".
func (c *umlConverter) ifBlock(branches []umlBranch, prev string) (string, error) {
	b := c.b
	head := branches[0]

	id := b.addNode(head.cond, "", &domain.ConditionData{
		Label:     head.cond,
		Condition: b.condition(head.cond),
		Status:    domain.ConditionIdle,
	})
	b.link(prev, id)

	var err error
	yes := b.branch(id, "true", func(from string) string {
		var last string
		last, err = c.elems(head.elems, from)
		return last
	})
	if err != nil {
		return "", err
	}

	rest := branches[1:]
	no := b.branch(id, "false", func(from string) string {
		switch {
		case len(rest) == 0:
			return from
		case rest[0].cond == "":
			var last string
			last, err = c.elems(rest[0].elems, from)
			return last
		default:
			var last string
			last, err = c.ifBlock(rest, from)
			return last
		}
	})
	if err != nil {
		return "", err
	}

	return b.merge(append(yes, no...)...), nil
}

// activityData строит данные узла по аннотации. Второе значение: имя выхода.
func (c *umlConverter) activityData(el *umlActivity, prev string) (domain.NodeData, string) {
	b := c.b
	var fields map[string]any
	kind := "prompt"
	if el.note != nil {
		kind, fields = el.note.kind, el.note.fields
	}
	output := fieldString(fields, "output")

	switch kind {
	case "http":
		method := strings.ToUpper(fieldString(fields, "method"))
		if method == "" {
			method = "GET"
		}
		headers, err := bodyText(fields["headers"])
		if err != nil {
			b.warn("line %d: %v", el.line, err)
		}
		body, err := bodyText(fields["body"])
		if err != nil {
			b.warn("line %d: %v", el.line, err)
		}
		url := fieldString(fields, "url")
		data := &domain.HTTPRequestData{
			Label:      el.label,
			Method:     method,
			URL:        url,
			Headers:    headers,
			Body:       body,
			TimeoutSec: fieldInt(fields, "timeout"),
			Bindings:   b.bindings(prev, url, headers, body),
			Status:     domain.StatusIdle,
		}
		if output != "" {
			data.OutputExtractions = []domain.OutputExtraction{{OutputName: output, Mode: domain.ModeJSON}}
		}
		return data, output

	case "router":
		var rules []domain.RouterRule
		routes, _ := fields["routes"].([]any)
		for i, r := range routes {
			pattern := ""
			switch v := r.(type) {
			case string:
				pattern = v
			case map[string]any:
				pattern = fieldString(v, "category")
				if pattern == "" {
					pattern = fieldString(v, "target")
				}
			}
			if pattern == "" {
				pattern = fmt.Sprintf("Route %d", i+1)
			}
			rules = append(rules, domain.RouterRule{Handle: fmt.Sprintf("route-%d", i), Pattern: pattern})
		}
		return &domain.RouterData{Label: el.label, Routes: rules}, ""

	case "aggregator":
		return &domain.AggregatorData{
			Label:     el.label,
			Strategy:  aggregateStrategy(fieldString(fields, "strategy")),
			Separator: fieldString(fields, "separator"),
		}, ""

	default:
		if kind != "prompt" {
			b.warn("line %d: <<%s>> annotation on activity %q ignored", el.line, kind, el.label)
		}
		template := fieldString(fields, "input")
		if template == "" {
			template = "{{upstream}}"
		}
		data := &domain.PromptBlockData{
			Label:            el.label,
			PromptTemplateID: fieldString(fields, "template"),
			AgentID:          fieldString(fields, "agent"),
			Template:         template,
			Bindings:         b.bindings(prev, template),
			Status:           domain.StatusIdle,
		}
		if output != "" {
			mode := domain.ExtractionMode(fieldString(fields, "outputMode"))
			if mode == "" {
				mode = domain.ModeFull
			}
			data.OutputExtractions = []domain.OutputExtraction{{OutputName: output, Mode: mode}}
		}
		return data, output
	}
}

// inputNames: список строк или объектов {name: ...}.
func inputNames(v any) []string {
	items, _ := v.([]any)
	names := make([]string, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			names = append(names, it)
		case map[string]any:
			if n := fieldString(it, "name"); n != "" {
				names = append(names, n)
			}
		}
	}
	return names
}

func fieldString(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

func fieldInt(fields map[string]any, key string) int {
	n, _ := fields[key].(int)
	return n
}
