package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
)

const (
	// Значения по умолчанию.
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ошибки HTTP узла.
var (
	// ErrInvalidMethod: метод не из GET, POST, PUT, PATCH, DELETE.
	ErrInvalidMethod = errors.New("invalid HTTP method")

	// ErrRequestTimeout: запрос не уложился в таймаут.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrConnect: не удалось установить соединение.
	ErrConnect = errors.New("connection failed")

	// ErrMalformedHeaders: заголовки узла не являются JSON объектом.
	ErrMalformedHeaders = errors.New("malformed headers JSON")
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// HTTPRequest: запрос HTTP узла после подстановки привязок.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`

	// Timeout: таймаут в секундах, 0 означает значение по умолчанию.
	Timeout int `json:"timeout,omitempty"`
}

// HTTPResult: ответ в формате, который показывает редактор.
type HTTPResult struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers,omitempty"`
	Data       any               `json:"data,omitempty"`

	// Error: текст ошибки, если запрос не выполнен.
	Error string `json:"error,omitempty"`
}

// NodeOutput превращает ответ в выход узла для привязок ниже по графу.
func (r *HTTPResult) NodeOutput(rules []domain.OutputExtraction) domain.NodeOutput {
	raw := engine.Stringify(r.Data)
	return domain.NodeOutput{
		Raw:     raw,
		Outputs: engine.Extract(raw, rules),
	}
}

// BuildHTTPRequest собирает запрос из данных узла.
//
// {{name}} в URL, заголовках и теле подставляются через engine.Resolve.
// Если заголовки или тело уже являются JSON, подстановка идёт в строковые
// значения разобранного документа: кавычки и переводы строк во входных данных
// не ломают JSON. Иначе подставляется текст целиком и разбирается результат.
// Невалидный JSON в заголовках не ошибка: запрос уходит без заголовков,
// а ErrMalformedHeaders возвращается как предупреждение.
func BuildHTTPRequest(data *domain.HTTPRequestData, input string, upstream engine.Upstream) (*HTTPRequest, error) {
	resolve := func(s string) string {
		return engine.Resolve(s, data.Bindings, input, upstream)
	}

	req := &HTTPRequest{
		Method:  strings.ToUpper(strings.TrimSpace(data.Method)),
		URL:     resolve(data.URL),
		Timeout: data.TimeoutSec,
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var warning error
	if h := strings.TrimSpace(data.Headers); h != "" {
		headers, err := resolveHeaders(h, resolve)
		if err != nil {
			warning = fmt.Errorf("%w: %v", ErrMalformedHeaders, err)
		} else {
			req.Headers = headers
		}
	}

	if body := strings.TrimSpace(data.Body); body != "" {
		req.Body = resolveBody(body, resolve)
	}

	return req, warning
}

// resolveHeaders разбирает JSON объект заголовков и подставляет привязки в значения.
// Шаблон, который становится JSON только после подстановки, разбирается после неё.
// Нестроковые значения сериализуются, переводы строк заменяются пробелом.
func resolveHeaders(raw string, resolve func(string) string) (map[string]string, error) {
	parsed, ok := engine.ParseJSON([]byte(raw))
	m, isObject := parsed.(map[string]any)
	if !ok || !isObject {
		resolved, ok := engine.ParseJSON([]byte(resolve(raw)))
		if !ok {
			return nil, errors.New("headers must be a JSON object")
		}
		if m, isObject = resolved.(map[string]any); !isObject {
			return nil, errors.New("headers must be a JSON object")
		}
	} else {
		for k, v := range m {
			if s, ok := v.(string); ok {
				m[k] = resolve(s)
			}
		}
	}

	headers := make(map[string]string, len(m))
	for k, v := range m {
		headers[k] = headerValueReplacer.Replace(engine.Stringify(v))
	}
	return headers, nil
}

var headerValueReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// resolveBody: JSON объект или массив с подстановкой в строковые значения,
// иначе текст после подстановки (JSON, если он получился).
func resolveBody(raw string, resolve func(string) string) any {
	if parsed, ok := engine.ParseJSON([]byte(raw)); ok {
		switch parsed.(type) {
		case map[string]any, []any:
			return resolveLeaves(parsed, resolve)
		}
	}

	body := resolve(raw)
	if parsed, ok := engine.ParseJSON([]byte(body)); ok {
		switch parsed.(type) {
		case map[string]any, []any:
			return parsed
		}
	}
	return body
}

func resolveLeaves(v any, resolve func(string) string) any {
	switch val := v.(type) {
	case string:
		return resolve(val)
	case map[string]any:
		for k, item := range val {
			val[k] = resolveLeaves(item, resolve)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = resolveLeaves(item, resolve)
		}
		return val
	default:
		return v
	}
}

// HTTPExecutor выполняет запросы HTTP узлов.
type HTTPExecutor struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// NewHTTPExecutor создаёт исполнитель. nil client означает http.Client по умолчанию.
// defaultTimeout действует для запросов без своего таймаута; 0 даёт 30s.
// Таймаут запроса задаётся контекстом, поэтому client.Timeout должен быть нулевым:
// иначе он обрезает узлы с большим timeoutSec.
func NewHTTPExecutor(client *http.Client, defaultTimeout time.Duration) *HTTPExecutor {
	if client == nil {
		client = &http.Client{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = defaultHTTPTimeout
	}
	return &HTTPExecutor{client: client, defaultTimeout: defaultTimeout}
}

// Execute выполняет запрос.
//
// Тело отправляется только для POST, PUT, PATCH: map и slice как JSON,
// остальное как текст. Ответ разбирается как JSON, иначе остаётся строкой.
func (e *HTTPExecutor) Execute(ctx context.Context, req *HTTPRequest) (*HTTPResult, error) {
	method := strings.ToUpper(req.Method)
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, req.Method)
	}
	if req.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}

	timeout := e.defaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := e.buildRequest(ctx, method, req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err, timeout)
	}
	defer resp.Body.Close()

	return parseResponse(resp)
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, method string, req *HTTPRequest) (*http.Request, error) {
	var bodyReader io.Reader
	contentType := ""

	if req.Body != nil && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		switch v := req.Body.(type) {
		case string:
			bodyReader = strings.NewReader(v)
		case []byte:
			bodyReader = bytes.NewReader(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("serialize body: %w", err)
			}
			bodyReader = bytes.NewReader(b)
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func parseResponse(resp *http.Response) (*HTTPResult, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	data, ok := engine.ParseJSON(bodyBytes)
	if !ok {
		data = string(bodyBytes)
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[strings.ToLower(key)] = resp.Header.Get(key)
	}

	return &HTTPResult{
		Status:     resp.StatusCode,
		StatusText: strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "),
		Headers:    headers,
		Data:       data,
	}, nil
}

func classifyError(err error, timeout time.Duration) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w after %s", ErrRequestTimeout, timeout)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	return fmt.Errorf("http request failed: %w", err)
}

// ErrorResult превращает ошибку Execute в ответ для редактора.
//
// Соответствие: таймаут → 408, ошибка соединения → 503,
// невалидный запрос → 400, остальное → 500.
func ErrorResult(err error) *HTTPResult {
	res := &HTTPResult{Error: err.Error()}

	switch {
	case errors.Is(err, ErrRequestTimeout):
		res.Status = http.StatusRequestTimeout
	case errors.Is(err, ErrConnect):
		res.Status = http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidMethod), errors.Is(err, ErrInvalidConfig):
		res.Status = http.StatusBadRequest
	default:
		res.Status = http.StatusInternalServerError
	}
	res.StatusText = http.StatusText(res.Status)

	return res
}
