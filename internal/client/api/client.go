package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/auditflow/fieldsync/internal/models"
	"github.com/auditflow/fieldsync/pkg/api"
)

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовок Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// Login выполняет аутентификацию сотрудника
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	err := c.doRequest(ctx, "POST", "/Auth/login", "", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	return &resp, nil
}

// Register регистрирует нового сотрудника
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	err := c.doRequest(ctx, "POST", "/Auth/register", "", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	return &resp, nil
}

// ValidateToken проверяет токен на выделенном validate-token endpoint.
// Токен передаётся и в теле, и в заголовке Authorization.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	var resp api.ValidateTokenResponse
	err := c.doRequest(ctx, "POST", "/Auth/validate-token", token, api.ValidateTokenRequest{Token: token}, &resp)
	if err != nil {
		return fmt.Errorf("validate-token request failed: %w", err)
	}
	return nil
}

// Assignments возвращает полный список заданий сотрудника
func (c *Client) Assignments(ctx context.Context, token string) ([]models.Assignment, error) {
	var resp []api.AssignmentResponse
	err := c.doRequest(ctx, "GET", "/Assignments", token, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("assignments request failed: %w", err)
	}

	assignments := make([]models.Assignment, 0, len(resp))
	for _, a := range resp {
		assignments = append(assignments, models.Assignment{
			ID:          a.ID,
			TemplateID:  a.TemplateID,
			SiteName:    a.SiteName,
			Address:     a.Address,
			Status:      a.Status,
			AssignedTo:  a.AssignedTo,
			DueDateIso:  a.DueDate,
			UpdatedAtMs: a.UpdatedAtMs,
		})
	}
	return assignments, nil
}

// Assignment возвращает одно задание по ID
func (c *Client) Assignment(ctx context.Context, token, id string) (*models.Assignment, error) {
	var resp api.AssignmentResponse
	err := c.doRequest(ctx, "GET", "/Assignments/"+id, token, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("assignment request failed: %w", err)
	}
	return &models.Assignment{
		ID:          resp.ID,
		TemplateID:  resp.TemplateID,
		SiteName:    resp.SiteName,
		Address:     resp.Address,
		Status:      resp.Status,
		AssignedTo:  resp.AssignedTo,
		DueDateIso:  resp.DueDate,
		UpdatedAtMs: resp.UpdatedAtMs,
	}, nil
}

// Template возвращает шаблон аудита по ID
func (c *Client) Template(ctx context.Context, token, id string) (*models.AuditTemplate, error) {
	var resp api.TemplateResponse
	err := c.doRequest(ctx, "GET", "/Templates/"+id, token, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("template request failed: %w", err)
	}
	return &models.AuditTemplate{
		ID:       resp.ID,
		Name:     resp.Name,
		Version:  resp.Version,
		Sections: resp.Sections,
	}, nil
}

// Do воспроизводит отложенный запрос из очереди: метод, endpoint и тело
// непрозрачны для клиента. Все мутации идут через очередь офлайн-запросов
// и выгружаются этим методом — отдельных типизированных write-методов нет,
// чтобы мутация не могла обойти FIFO-порядок очереди.
func (c *Client) Do(ctx context.Context, token, method, endpoint string, payload []byte) error {
	var body any
	if len(payload) > 0 {
		body = json.RawMessage(payload)
	}
	return c.doRequest(ctx, method, endpoint, token, body, nil)
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path, token string, body, result any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       string(respBody),
		}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
