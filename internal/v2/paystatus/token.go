package paystatus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"billing/internal/constants"

	"github.com/emicklei/go-restful/v3"
	"github.com/go-resty/resty/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	permissionGroup   = "service.billing"
	permissionVersion = "v1"
	tokenLifetime     = 5 * time.Minute
)

type PermissionRequire struct {
	Group    string   `json:"group"`
	DataType string   `json:"dataType"`
	Version  string   `json:"version"`
	Ops      []string `json:"ops"`
}

type AccessTokenRequest struct {
	AppKey    string            `json:"app_key"`
	Timestamp int64             `json:"timestamp"`
	Token     string            `json:"token"`
	Perm      PermissionRequire `json:"perm"`
}

type AccessTokenResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

// accessTokenSource obtains and caches the X-Access-Token for the status service.
type accessTokenSource struct {
	httpClient *resty.Client
	server     string
	appKey     string
	appSecret  string
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newAccessTokenSource(httpClient *resty.Client, server, appKey, appSecret string) *accessTokenSource {
	return &accessTokenSource{
		httpClient: httpClient,
		server:     server,
		appKey:     appKey,
		appSecret:  appSecret,
		now:        time.Now,
	}
}

func (s *accessTokenSource) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, nil
	}

	token, err := s.request(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiresAt = s.now().Add(tokenLifetime)
	return token, nil
}

// Invalidate drops the cached token after the service rejected it
func (s *accessTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

func (s *accessTokenSource) request(ctx context.Context) (string, error) {
	now := s.now().Unix()
	password := s.appKey + strconv.FormatInt(now, 10) + s.appSecret
	encode, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	perm := AccessTokenRequest{
		AppKey:    s.appKey,
		Timestamp: now,
		Token:     string(encode),
		Perm: PermissionRequire{
			Group:    permissionGroup,
			Version:  permissionVersion,
			DataType: "payment",
			Ops:      []string{"GetStatus"},
		},
	}

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader(restful.HEADER_ContentType, restful.MIME_JSON).
		SetBody(perm).
		SetResult(&AccessTokenResp{}).
		Post(fmt.Sprintf(constants.PermissionAccessURLTempl, s.server))
	if err != nil {
		return "", fmt.Errorf("%w: access token: %v", ErrServiceUnavailable, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: access token: %s", ErrServiceUnavailable, string(resp.Body()))
	}

	token := resp.Result().(*AccessTokenResp)
	if token.Code != 0 {
		return "", errors.New(token.Message)
	}
	return token.Data.AccessToken, nil
}
