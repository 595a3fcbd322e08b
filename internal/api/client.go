// Package api is the REST client for the Q&A backend.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"qaboard/internal/board"
	"qaboard/internal/logging"
)

type Error struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

type Options struct {
	Timeout time.Duration
	// Rate is requests per second; zero disables pacing.
	Rate   float64
	Burst  int
	Logger *slog.Logger
}

type Client struct {
	base    string
	hc      *fasthttp.Client
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: unsupported scheme", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := &Client{
		base: u.String(),
		hc: &fasthttp.Client{
			Name:                "qaboard",
			ReadTimeout:         opts.Timeout,
			WriteTimeout:        opts.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		timeout: opts.Timeout,
		logger:  logging.OrDiscard(opts.Logger),
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return c, nil
}

func (c *Client) ListQuestions(ctx context.Context) ([]board.Question, error) {
	var out struct {
		Questions []board.Question `json:"questions"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, "/questions", nil, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

func (c *Client) CreateQuestion(ctx context.Context, text string, authorID board.ID) (board.Question, error) {
	body := map[string]any{"message": text, "user_id": nullableID(authorID)}
	var out struct {
		Question board.Question `json:"question"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/questions", body, &out); err != nil {
		return board.Question{}, err
	}
	return out.Question, nil
}

func (c *Client) UpdateStatus(ctx context.Context, questionID board.ID, status board.Status) error {
	body := map[string]any{"status": string(status)}
	return c.do(ctx, fasthttp.MethodPut, "/questions/"+url.PathEscape(questionID.String()), body, nil)
}

func (c *Client) ListAnswers(ctx context.Context, questionID board.ID) ([]board.Answer, error) {
	var out struct {
		Answers []board.Answer `json:"answers"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, "/answers/"+url.PathEscape(questionID.String()), nil, &out); err != nil {
		return nil, err
	}
	return out.Answers, nil
}

func (c *Client) CreateAnswer(ctx context.Context, questionID board.ID, text string, authorID board.ID) (board.Answer, error) {
	body := map[string]any{
		"question_id": questionID.String(),
		"answer":      text,
		"user_id":     nullableID(authorID),
	}
	var out struct {
		Answer board.Answer `json:"answer"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/answers", body, &out); err != nil {
		return board.Answer{}, err
	}
	return out.Answer, nil
}

func (c *Client) Suggest(ctx context.Context, questionID board.ID) (string, error) {
	var out struct {
		Suggestion string `json:"suggestion"`
	}
	path := "/questions/" + url.PathEscape(questionID.String()) + "/suggest"
	if err := c.do(ctx, fasthttp.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	return out.Suggestion, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	requestID := uuid.NewString()
	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	started := time.Now()
	if err := c.hc.DoDeadline(req, resp, deadline); err != nil {
		c.logger.Warn("request failed", "method", method, "path", path, "request_id", requestID, "err", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	status := resp.StatusCode()
	c.logger.Debug("request done", "method", method, "path", path, "status", status,
		"request_id", requestID, "elapsed", time.Since(started))

	if status < 200 || status > 299 {
		return &Error{Method: method, Path: path, Status: status, Detail: parseDetail(resp.Body())}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// parseDetail pulls a readable message out of {"detail": "..."} or
// {"detail": [{"msg": "..."}]} bodies.
func parseDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(env.Detail, &text); err == nil {
		return text
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

func nullableID(id board.ID) any {
	if id == "" {
		return nil
	}
	return id.String()
}
