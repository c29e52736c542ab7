package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	perr "guardian/internal/errors"
)

// OllamaModel модель из /api/tags
type OllamaModel struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	Digest     string `json:"digest"`
	Details    struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
}

// ChatMessage сообщение диалога
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions параметры генерации
type ChatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *ChatOptions  `json:"options,omitempty"`
}

// OllamaClient HTTP-клиент локального сервиса инференса
type OllamaClient struct {
	baseURL      string
	probeTimeout time.Duration
	chatTimeout  time.Duration
	http         *http.Client
}

// NewOllamaClient создаёт клиента. Таймауты задаются на каждый запрос через контекст.
func NewOllamaClient(baseURL string, probeTimeout, chatTimeout time.Duration) *OllamaClient {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	if chatTimeout <= 0 {
		chatTimeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		probeTimeout: probeTimeout,
		chatTimeout:  chatTimeout,
		http:         &http.Client{},
	}
}

// BaseURL адрес сервиса
func (c *OllamaClient) BaseURL() string { return c.baseURL }

// Health проверяет, что сервис отвечает
func (c *OllamaClient) Health(ctx context.Context) error {
	_, err := c.Models(ctx)
	return err
}

// Models возвращает список установленных моделей
func (c *OllamaClient) Models(ctx context.Context) ([]OllamaModel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "build tags request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnreachable, "ollama not running at %s", c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, perr.Newf(perr.ErrorCodeUnreachable, "ollama api returned status: %d", resp.StatusCode)
	}

	var result struct {
		Models []OllamaModel `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnreachable, "decode tags response")
	}
	return result.Models, nil
}

// HasModel сообщает, установлена ли модель (имя может содержать тег, например gemma3n:latest)
func (c *OllamaClient) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return false, err
	}
	return containsModel(models, name), nil
}

func containsModel(models []OllamaModel, name string) bool {
	for _, m := range models {
		if strings.Contains(m.Name, name) {
			return true
		}
	}
	return false
}

// Chat отправляет диалог и возвращает текст ответа модели
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []ChatMessage, opts *ChatOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: false, Options: opts})
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeJSON, "encode chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeInvalidArgument, "build chat request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeUnreachable, "chat request to %s", c.baseURL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeUnreachable, "read chat response")
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &result)

	if resp.StatusCode != http.StatusOK {
		msg := result.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", perr.Newf(perr.ErrorCodeUnreachable, "ollama chat returned status %d: %s", resp.StatusCode, msg)
	}
	if result.Error != "" {
		return "", perr.Newf(perr.ErrorCodeUnreachable, "ollama error: %s", result.Error)
	}
	return strings.TrimSpace(result.Message.Content), nil
}

// String для логов
func (m OllamaModel) String() string {
	return fmt.Sprintf("%s (%d bytes)", m.Name, m.Size)
}
