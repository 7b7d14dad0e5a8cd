package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/mq"
	"github.com/shaiso/flowboard/internal/repo"
)

// In-memory хранилища с семантикой internal/repo.

type memFlows struct {
	mu      sync.Mutex
	flows   map[string]*domain.Workflow
	folders map[string]bool
}

func newMemFlows() *memFlows {
	return &memFlows{flows: map[string]*domain.Workflow{}, folders: map[string]bool{}}
}

func (m *memFlows) Save(_ context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := domain.FlowKey(wf.Name)
	if key == "" {
		return repo.ErrInvalidName
	}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if old, ok := m.flows[key]; ok {
		wf.CreatedAt = old.CreatedAt
		if wf.Folder == "" {
			wf.Folder = old.Folder
		}
		ts = old.UpdatedAt.Add(time.Second)
	} else {
		wf.CreatedAt = ts
	}
	if wf.Folder != "" {
		m.folders[wf.Folder] = true
	}
	wf.Name = key
	wf.UpdatedAt = ts

	cp := *wf
	m.flows[key] = &cp
	return nil
}

func (m *memFlows) Get(_ context.Context, name string) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.flows[domain.FlowKey(name)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (m *memFlows) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flows[domain.FlowKey(name)]
	return ok, nil
}

func (m *memFlows) List(_ context.Context) ([]domain.FlowSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.FlowSummary, 0, len(m.flows))
	for _, wf := range m.flows {
		out = append(out, wf.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memFlows) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.FlowKey(name)
	if _, ok := m.flows[key]; !ok {
		return repo.ErrNotFound
	}
	delete(m.flows, key)
	return nil
}

func (m *memFlows) Move(_ context.Context, name, folder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.flows[domain.FlowKey(name)]
	if !ok || (folder != "" && !m.folders[folder]) {
		return repo.ErrNotFound
	}
	wf.Folder = folder
	return nil
}

func (m *memFlows) ListFolders(_ context.Context) ([]domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Folder, 0, len(m.folders))
	for name := range m.folders {
		f := domain.Folder{Name: name}
		for _, wf := range m.flows {
			if wf.Folder == name {
				f.FlowCount++
			}
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memFlows) CreateFolder(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.FlowKey(name)
	if key == "" {
		return "", repo.ErrInvalidName
	}
	if m.folders[key] {
		return "", repo.ErrAlreadyExists
	}
	m.folders[key] = true
	return key, nil
}

func (m *memFlows) DeleteFolder(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.folders[name] {
		return repo.ErrNotFound
	}
	delete(m.folders, name)
	for _, wf := range m.flows {
		if wf.Folder == name {
			wf.Folder = ""
		}
	}
	return nil
}

type memPrompts struct {
	mu      sync.Mutex
	prompts map[string]*domain.PromptTemplate
	folders map[string]string // name → parent
}

func newMemPrompts() *memPrompts {
	return &memPrompts{prompts: map[string]*domain.PromptTemplate{}, folders: map[string]string{}}
}

func (m *memPrompts) Save(_ context.Context, p *domain.PromptTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(p.Name) == "" {
		return repo.ErrInvalidName
	}
	if p.ID == "" {
		p.ID = strings.ToLower(strings.ReplaceAll(p.Name, " ", "-"))
	}
	if p.SourceFilename == "" {
		p.SourceFilename = p.ID
	}
	cp := *p
	m.prompts[p.ID] = &cp
	return nil
}

func (m *memPrompts) Get(_ context.Context, id string) (*domain.PromptTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prompts {
		if p.ID == id || p.SourceFilename == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memPrompts) List(_ context.Context) ([]domain.PromptTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PromptTemplate, 0, len(m.prompts))
	for _, p := range m.prompts {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memPrompts) Delete(_ context.Context, id string, folder *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok || (folder != nil && p.Folder != *folder) {
		return repo.ErrNotFound
	}
	delete(m.prompts, id)
	return nil
}

func (m *memPrompts) Move(_ context.Context, id, sourceFolder, targetFolder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok || p.Folder != sourceFolder {
		return repo.ErrNotFound
	}
	p.Folder = targetFolder
	return nil
}

func (m *memPrompts) ListFolders(_ context.Context) ([]domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Folder, 0, len(m.folders))
	for name, parent := range m.folders {
		out = append(out, domain.Folder{Name: name, Parent: parent})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memPrompts) CreateFolder(_ context.Context, name, parent string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if parent == repo.RootFolder {
		parent = ""
	}
	if parent != "" {
		if _, ok := m.folders[parent]; !ok {
			return "", repo.ErrNotFound
		}
	}
	full := name
	if parent != "" {
		full = parent + "/" + name
	}
	if _, ok := m.folders[full]; ok {
		return "", repo.ErrAlreadyExists
	}
	m.folders[full] = parent
	return full, nil
}

func (m *memPrompts) RenameFolder(_ context.Context, name, newName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.folders[name]
	if !ok {
		return "", repo.ErrNotFound
	}
	full := newName
	if parent != "" {
		full = parent + "/" + newName
	}
	delete(m.folders, name)
	m.folders[full] = parent
	for _, p := range m.prompts {
		if p.Folder == name {
			p.Folder = full
		}
	}
	return full, nil
}

func (m *memPrompts) DeleteFolder(_ context.Context, name string, force bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[name]; !ok {
		return 0, repo.ErrNotFound
	}
	var inside []string
	for id, p := range m.prompts {
		if p.Folder == name {
			inside = append(inside, id)
		}
	}
	if len(inside) > 0 && !force {
		return 0, repo.ErrInvalidState
	}
	for _, id := range inside {
		delete(m.prompts, id)
	}
	delete(m.folders, name)
	return len(inside), nil
}

type memFailures struct {
	mu       sync.Mutex
	failures map[string]*domain.Failure
}

func newMemFailures() *memFailures {
	return &memFailures{failures: map[string]*domain.Failure{}}
}

func (m *memFailures) Create(_ context.Context, f *domain.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.failures[f.ID] = &cp
	return nil
}

func (m *memFailures) GetByID(_ context.Context, id string) (*domain.Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.failures[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memFailures) List(_ context.Context, filter repo.FailureFilter) ([]domain.Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Failure, 0)
	for _, f := range m.failures {
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memFailures) Stats(_ context.Context) (domain.FailureStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.FailureStatus]int{}
	for _, f := range m.failures {
		counts[f.Status]++
	}
	return domain.ComputeStats(counts), nil
}

func (m *memFailures) Retry(_ context.Context, id, workflowID string) (*domain.Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.failures[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if !f.Status.CanRetry() {
		return nil, repo.ErrInvalidState
	}
	f.ResetForRetry(time.Now().UTC())
	if workflowID != "" {
		f.WorkflowID = workflowID
	}
	cp := *f
	return &cp, nil
}

func (m *memFailures) UpdateStatus(_ context.Context, id string, status domain.FailureStatus) (*domain.Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.failures[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	f.Status = status
	cp := *f
	return &cp, nil
}

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memSettings) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", repo.ErrNotFound
	}
	return v, nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

type recordedEvent struct {
	Key     mq.RoutingKey
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	fail   bool
}

func (p *recordingPublisher) PublishEvent(_ context.Context, key mq.RoutingKey, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Key: key, Payload: payload})
	if p.fail {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *recordingPublisher) keys() []mq.RoutingKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]mq.RoutingKey, len(p.events))
	for i, e := range p.events {
		out[i] = e.Key
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
