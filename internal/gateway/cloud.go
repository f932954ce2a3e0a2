package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mutter0815/tenantcast/pkg/config"
	"github.com/Mutter0815/tenantcast/pkg/logx"
)

// CloudClient sends through the provider's Graph-style HTTP API. Without
// credentials it runs in development mode and never touches the network.
type CloudClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	dev     bool
}

func NewCloudClient(cfg config.Gateway) *CloudClient {
	c := &CloudClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion + "/" + cfg.PhoneNumberID + "/messages",
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: cfg.Timeout},
		dev:     cfg.PhoneNumberID == "" || cfg.AccessToken == "",
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if c.dev {
		logx.L().Warnw("gateway_dev_mode", "reason", "missing phone number id or access token")
	}
	return c
}

func (c *CloudClient) DevMode() bool { return c.dev }

type sendPayload struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Template         *templateBody `json:"template,omitempty"`
	Text             *textBody     `json:"text,omitempty"`
}

type templateBody struct {
	Name       string      `json:"name"`
	Language   langCode    `json:"language"`
	Components []component `json:"components,omitempty"`
}

type langCode struct {
	Code string `json:"code"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *CloudClient) SendTemplate(ctx context.Context, req SendRequest) (string, error) {
	if c.dev {
		return "dev_" + req.Reference, nil
	}
	body := &templateBody{Name: req.Template, Language: langCode{Code: req.Language}}
	if len(req.Variables) > 0 {
		params := make([]parameter, 0, len(req.Variables))
		for _, v := range req.Variables {
			params = append(params, parameter{Type: "text", Text: v})
		}
		body.Components = []component{{Type: "body", Parameters: params}}
	}
	return c.send(ctx, sendPayload{MessagingProduct: "whatsapp", To: req.Phone, Type: "template", Template: body})
}

func (c *CloudClient) SendText(ctx context.Context, phone, text string) (string, error) {
	if c.dev {
		logx.L().Infow("gateway_dev_text", "phone", phone)
		return fmt.Sprintf("dev_text_%d", time.Now().UnixNano()), nil
	}
	return c.send(ctx, sendPayload{MessagingProduct: "whatsapp", To: phone, Type: "text", Text: &textBody{Body: text}})
}

func (c *CloudClient) send(ctx context.Context, p sendPayload) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &Error{Kind: Transient, Err: err}
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", &Error{Kind: Permanent, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return "", &Error{Kind: Permanent, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Kind: Transient, Err: err}
	}

	if resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		msg := er.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &Error{Kind: classify(resp.StatusCode), Status: resp.StatusCode, Code: er.Error.Code, Msg: msg}
	}

	var sr sendResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return "", &Error{Kind: Transient, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", &Error{Kind: Transient, Err: errors.New("response carries no message id")}
	}
	return sr.Messages[0].ID, nil
}

// classify splits gateway rejections. Auth failures are about our access
// token, not the message, so they are retried like an outage.
func classify(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return Transient
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Transient
	}
	return Permanent
}
