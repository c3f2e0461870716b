// Package api: REST-клиент чат-бэкенда. Каждый вызов независим; токен
// берётся из TokenSource в момент запроса и подставляется как Bearer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/session"
)

// maxErrorBody: сколько байт тела ответа читаем для текста ошибки.
const maxErrorBody = 64 << 10

// ErrUnauthorized совпадает (errors.Is) с любой ошибкой API со статусом 401.
var ErrUnauthorized = errors.New("api: unauthorized")

// TokenSource отдаёт текущий токен доступа ("": без авторизации).
type TokenSource interface {
	Token() string
}

// Error: ответ сервера с кодом не из 2xx.
type Error struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("api %s %s: %d", e.Method, e.Path, e.Status)
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// IsAuthError: ошибка означает недействительные учётные данные или токен.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// StatusCode возвращает HTTP-статус ошибки API или 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type Client struct {
	baseURL        string
	tokens         TokenSource
	httpClient     *http.Client
	onUnauthorized func(token string)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithOnUnauthorized задаёт реакцию на 401 для запроса с токеном (обычно: сброс сессии).
// fn получает токен, с которым ушёл отклонённый запрос: к моменту ответа
// сессия могла смениться.
func WithOnUnauthorized(fn func(token string)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

// doJSON отправляет in как JSON (nil: без тела) и декодирует ответ в out (nil: тело игнорируется).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api %s %s: encode: %w", method, path, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

// doMultipart собирает multipart/form-data из полей и необязательных файлов.
func (c *Client) doMultipart(ctx context.Context, method, path string, fields map[string]string, files map[string]*model.Upload, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("api %s %s: form field %s: %w", method, path, k, err)
		}
	}
	for field, up := range files {
		if up == nil || up.Reader == nil {
			continue
		}
		name := up.Name
		if name == "" {
			name = field
		}
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			return fmt.Errorf("api %s %s: form file %s: %w", method, path, field, err)
		}
		if _, err := io.Copy(fw, up.Reader); err != nil {
			return fmt.Errorf("api %s %s: copy file %s: %w", method, path, field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("api %s %s: close form: %w", method, path, err)
	}
	return c.do(ctx, method, path, &buf, mw.FormDataContentType(), out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	defer logger.DeferLogDuration("api "+method+" "+path, time.Now())()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	token := c.token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode, Method: method, Path: path, Message: errorMessage(resp.Body)}
		if resp.StatusCode == http.StatusUnauthorized && token != "" && c.onUnauthorized != nil {
			logger.Infof("api: 401 на %s %s, токен %s отклонён", method, path, session.MaskToken(token))
			c.onUnauthorized(token)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("api %s %s: decode: %w", method, path, err)
	}
	return nil
}

// errorMessage достаёт текст ошибки из {"message": ...} или {"error": ...}, иначе: сырое тело.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
