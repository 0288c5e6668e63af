package paystatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"billing/internal/conf"
	"billing/internal/constants"
	"billing/internal/v2/types"

	"github.com/go-resty/resty/v2"
	"github.com/golang/glog"
)

// Client queries the payment status service over HTTP.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	tokens     *accessTokenSource
}

// statusResponse accepts both a bare payload and the {code,message,data} envelope
type statusResponse struct {
	types.StatusPayload
	Code    *int                 `json:"code,omitempty"`
	Message string               `json:"message,omitempty"`
	Data    *types.StatusPayload `json:"data,omitempty"`
}

func NewClient(cfg conf.StatusServiceConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		httpClient: resty.New().SetTimeout(timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
	if cfg.AppKey != "" {
		c.tokens = newAccessTokenSource(resty.New().SetTimeout(2*time.Second), cfg.PermissionServer, cfg.AppKey, cfg.AppSecret)
	}
	return c
}

// GetPaymentStatus fetches the current status of paymentID.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*types.StatusPayload, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("%w: empty payment id", ErrNotFound)
	}

	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return nil, err
		}
		req.SetHeader(constants.AccessTokenHeader, token)
	}

	statusURL := fmt.Sprintf(constants.PaymentStatusURLTempl, c.baseURL, url.PathEscape(paymentID))
	resp, err := req.Get(statusURL)
	if err != nil {
		glog.V(2).Infof("query payment status %s failed: %v", paymentID, err)
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
	case resp.StatusCode() == http.StatusUnauthorized && c.tokens != nil:
		c.tokens.Invalidate()
		return nil, fmt.Errorf("%w: access token rejected", ErrServiceUnavailable)
	case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
		return nil, fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}

	return decodeStatus(paymentID, resp.Body())
}

func decodeStatus(paymentID string, body []byte) (*types.StatusPayload, error) {
	var decoded statusResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode status of %s: %v", ErrServiceUnavailable, paymentID, err)
	}

	if decoded.Code != nil && *decoded.Code != 0 && *decoded.Code != http.StatusOK {
		if *decoded.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
		}
		return nil, fmt.Errorf("%w: code %d: %s", ErrServiceUnavailable, *decoded.Code, decoded.Message)
	}

	payload := decoded.StatusPayload
	if decoded.Data != nil {
		payload = *decoded.Data
	}
	if payload.Status == "" && payload.PaynowStatus == "" {
		return nil, fmt.Errorf("%w: no status for %s", ErrServiceUnavailable, paymentID)
	}
	return &payload, nil
}
