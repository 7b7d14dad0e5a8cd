package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/mq"
	"github.com/shaiso/flowboard/internal/nodes"
	"github.com/shaiso/flowboard/internal/repo"
	"github.com/shaiso/flowboard/internal/telemetry"
)

// FlowStore: хранилище workflows (repo.FlowRepo).
type FlowStore interface {
	Save(ctx context.Context, wf *domain.Workflow) error
	Get(ctx context.Context, name string) (*domain.Workflow, error)
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]domain.FlowSummary, error)
	Delete(ctx context.Context, name string) error
	Move(ctx context.Context, name, folder string) error
	ListFolders(ctx context.Context) ([]domain.Folder, error)
	CreateFolder(ctx context.Context, name string) (string, error)
	DeleteFolder(ctx context.Context, name string) error
}

// PromptStore: хранилище шаблонов промптов (repo.PromptRepo).
type PromptStore interface {
	Save(ctx context.Context, p *domain.PromptTemplate) error
	Get(ctx context.Context, id string) (*domain.PromptTemplate, error)
	List(ctx context.Context) ([]domain.PromptTemplate, error)
	Delete(ctx context.Context, id string, folder *string) error
	Move(ctx context.Context, id, sourceFolder, targetFolder string) error
	ListFolders(ctx context.Context) ([]domain.Folder, error)
	CreateFolder(ctx context.Context, name, parent string) (string, error)
	RenameFolder(ctx context.Context, name, newName string) (string, error)
	DeleteFolder(ctx context.Context, name string, force bool) (int, error)
}

// FailureStore: хранилище failures (repo.FailureRepo).
type FailureStore interface {
	Create(ctx context.Context, f *domain.Failure) error
	GetByID(ctx context.Context, id string) (*domain.Failure, error)
	List(ctx context.Context, filter repo.FailureFilter) ([]domain.Failure, error)
	Stats(ctx context.Context) (domain.FailureStats, error)
	Retry(ctx context.Context, id, workflowID string) (*domain.Failure, error)
	UpdateStatus(ctx context.Context, id string, status domain.FailureStatus) (*domain.Failure, error)
}

// SettingsStore: key-value настройки (repo.SettingsRepo).
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// EventPublisher: публикация событий (mq.Publisher).
type EventPublisher interface {
	PublishEvent(ctx context.Context, key mq.RoutingKey, payload any) error
}

// Handler: главный обработчик API с зависимостями.
type Handler struct {
	flowRepo     FlowStore
	promptRepo   PromptStore
	failureRepo  FailureStore
	settingsRepo SettingsStore
	publisher    EventPublisher
	httpExecutor *nodes.HTTPExecutor
	registry     *nodes.Registry
	metrics      *telemetry.Metrics
	logger       *slog.Logger
}

// Config: конфигурация для создания Handler.
//
// Publisher и Metrics необязательны. HTTPExecutor и Registry по умолчанию
// создаются со стандартными настройками.
type Config struct {
	FlowRepo     FlowStore
	PromptRepo   PromptStore
	FailureRepo  FailureStore
	SettingsRepo SettingsStore
	Publisher    EventPublisher
	HTTPExecutor *nodes.HTTPExecutor
	Registry     *nodes.Registry
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executor := cfg.HTTPExecutor
	if executor == nil {
		executor = nodes.NewHTTPExecutor(nil, 0)
	}
	registry := cfg.Registry
	if registry == nil {
		registry = nodes.DefaultRegistry()
	}

	return &Handler{
		flowRepo:     cfg.FlowRepo,
		promptRepo:   cfg.PromptRepo,
		failureRepo:  cfg.FailureRepo,
		settingsRepo: cfg.SettingsRepo,
		publisher:    cfg.Publisher,
		httpExecutor: executor,
		registry:     registry,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// publish отправляет событие, если publisher настроен.
// Ошибка публикации логируется и не влияет на ответ.
func (h *Handler) publish(ctx context.Context, key mq.RoutingKey, payload any) {
	if h.publisher == nil {
		return
	}

	result := "ok"
	if err := h.publisher.PublishEvent(ctx, key, payload); err != nil {
		result = "error"
		telemetry.FromContext(ctx).Warn("failed to publish event",
			"routing_key", key,
			"error", err,
		)
	}

	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(string(key), result).Inc()
	}
}
