package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Options HTTP 客户端配置
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Proxy     string
	UserAgent string
	Retries   int           // 0 表示默认 3 次；负数表示不重试
	RetryWait time.Duration // 首次重试等待
}

// Client resty 封装：统一超时、重试、429 Retry-After、代理
type Client struct {
	client *resty.Client
}

// New 创建 HTTP 客户端
func New(opts Options) (*Client, error) {
	tr, err := NewTransport(opts.Proxy)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	retries := opts.Retries
	if retries == 0 {
		retries = 3
	} else if retries < 0 {
		retries = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	rc := resty.New().
		SetTransport(tr).
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流优先使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if sec, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && sec >= 0 {
						return time.Duration(sec) * time.Second, nil
					}
				}
				return 10 * time.Second, nil
			}
			// 0 表示走 resty 默认的指数退避
			return 0, nil
		})

	return &Client{client: rc}, nil
}

// MustNew 同 New，配置非法时 panic（仅用于常量配置）
func MustNew(opts Options) *Client {
	c, err := New(opts)
	if err != nil {
		panic(err)
	}
	return c
}

// Resty 暴露底层 resty 客户端
func (c *Client) Resty() *resty.Client { return c.client }

// R 创建一个带 ctx 的请求
func (c *Client) R(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	return r
}

// RequestOptions 单次请求参数
type RequestOptions struct {
	Headers map[string]string
	Params  map[string]string
	Body    any
}

// Do 执行请求；非 2xx 返回 *HTTPError，out 只在成功时解码
func (c *Client) Do(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	rc := c.R(ctx)
	if opt != nil {
		rc.SetHeaders(opt.Headers)
		if len(opt.Params) > 0 {
			rc.SetQueryParams(opt.Params)
		}
		if opt.Body != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Body)
		}
	}
	if out != nil {
		rc.SetResult(out)
	}

	resp, err := rc.Execute(strings.ToUpper(method), endpoint)
	if err := ParseHTTPError(resp, err); err != nil {
		return resp, err
	}
	return resp, nil
}

// HTTPError 非 2xx 响应
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("http %s %s: status %d: %s", e.Method, e.URL, e.Status, body)
}

// ParseHTTPError 把传输错误 / 非 2xx 响应统一成 error；成功返回 nil
func ParseHTTPError(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "http request failed")
	}
	if resp == nil || resp.IsSuccess() {
		return nil
	}
	return &HTTPError{
		Method: resp.Request.Method,
		URL:    resp.Request.URL,
		Status: resp.StatusCode(),
		Body:   string(resp.Body()),
	}
}

// StatusCode 返回 err 中携带的 HTTP 状态码（没有则为 0）
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}
