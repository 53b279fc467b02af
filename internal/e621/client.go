package e621

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// ListHardLimit is the largest page the api serves in one request.
	ListHardLimit = 320
	// batchSize is how many ids fit in one `id:` search.
	batchSize = 100
)

type Options struct {
	BaseURL   string
	UserAgent string
	// Interval is the minimum spacing between two api requests.
	Interval time.Duration
	// Throttle replaces the limiter built from Interval, so that clients
	// talking to the same host can share one.
	Throttle resty.RequestMiddleware
	// Timeout of a whole request, 0 means none.
	Timeout time.Duration
	Login   string
	APIKey  string
}

// Client talks to an e621-compatible api. api requests are throttled,
// file downloads are not.
type Client struct {
	api   *resty.Client
	files *resty.Client
	log   logrus.FieldLogger
}

func NewClient(opts Options, log logrus.FieldLogger) *Client {
	api := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout)
	if opts.Login != "" {
		api.SetBasicAuth(opts.Login, opts.APIKey)
	}
	throttle := opts.Throttle
	if throttle == nil {
		throttle = Throttle(opts.Interval)
	}
	api.OnBeforeRequest(throttle)

	files := resty.New().
		SetHeader("User-Agent", opts.UserAgent).
		SetTimeout(opts.Timeout)

	return &Client{api: api, files: files, log: log}
}

// Throttle returns a request middleware spacing requests by at least interval,
// shared by every request sent through the client it is installed on.
func Throttle(interval time.Duration) resty.RequestMiddleware {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	limiter := rate.NewLimiter(limit, 1)
	return func(_ *resty.Client, r *resty.Request) error {
		return limiter.Wait(r.Context())
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.api.R().SetContext(ctx)
}

// LogResponse writes the response at debug level.
func LogResponse(log logrus.FieldLogger, resp *resty.Response, action string) {
	log.WithFields(logrus.Fields{
		"action": action,
		"code":   resp.StatusCode(),
	}).Debugf("response: %s", string(resp.Body()))
}

// ParseErrorResponse summarizes an api error body.
func ParseErrorResponse(resp *resty.Response) string {
	ret := errorResponse{}
	if err := json.Unmarshal(resp.Body(), &ret); err != nil {
		return ""
	}
	switch {
	case ret.Reason != "":
		return ret.Reason
	case ret.Message != "":
		return ret.Message
	}
	return ""
}

// TransportError classifies an error returned by resty.
func TransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return NetworkError(err)
}

func (c *Client) getJSON(ctx context.Context, action, path string, query url.Values, out interface{}) error {
	resp, err := c.request(ctx).SetQueryParamsFromValues(query).Get(path)
	if err != nil {
		return TransportError(ctx, err)
	}
	LogResponse(c.log, resp, action)
	if !resp.IsSuccess() {
		return HTTPError(resp.StatusCode(), ParseErrorResponse(resp))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return SerializationError(err)
	}
	return nil
}

// SearchPage requests one page of a tag search. before is an exclusive
// upper bound on post ids, 0 disables it.
func (c *Client) SearchPage(ctx context.Context, tags []string, limit, before int) ([]Post, error) {
	query := url.Values{}
	query.Set("tags", strings.Join(tags, " "))
	query.Set("limit", strconv.Itoa(limit))
	if before > 0 {
		query.Set("page", "b"+strconv.Itoa(before))
	}
	result := postsResponse{}
	if err := c.getJSON(ctx, "searchPage", "/posts.json", query, &result); err != nil {
		return nil, err
	}
	return result.Posts, nil
}

func (c *Client) GetPost(ctx context.Context, id int) (Post, error) {
	result := postResponse{}
	if err := c.getJSON(ctx, "getPost", fmt.Sprintf("/posts/%d.json", id), nil, &result); err != nil {
		return Post{}, err
	}
	return result.Post, nil
}

// GetPosts fetches posts by id, in the order of ids. Ids the api does not
// return are left out.
func (c *Client) GetPosts(ctx context.Context, ids []int) ([]Post, error) {
	posts := make([]Post, 0, len(ids))
	for _, chunk := range lo.Chunk(ids, batchSize) {
		tag := "id:" + strings.Join(lo.Map(chunk, func(id int, _ int) string {
			return strconv.Itoa(id)
		}), ",")
		page, err := c.SearchPage(ctx, []string{tag, "status:any"}, len(chunk), 0)
		if err != nil {
			return nil, err
		}
		byID := lo.KeyBy(page, func(p Post) int { return p.ID })
		for _, id := range chunk {
			p, ok := byID[id]
			if !ok {
				c.log.WithField("id", id).Debugln("post missing from batch response")
				continue
			}
			posts = append(posts, p)
		}
	}
	return posts, nil
}

func (c *Client) GetPool(ctx context.Context, id int) (*Pool, error) {
	query := url.Values{}
	query.Set("search[id]", strconv.Itoa(id))
	result := []Pool{}
	if err := c.getJSON(ctx, "getPool", "/pools.json", query, &result); err != nil {
		return nil, err
	}
	pool, ok := lo.Find(result, func(p Pool) bool { return p.ID == id })
	if !ok {
		return nil, PoolNotFoundError(id)
	}
	return &pool, nil
}

// Download streams the body of fileURL into w and returns the number of
// bytes written. The body is only read when the status is a success.
func (c *Client) Download(ctx context.Context, fileURL string, w io.Writer) (int64, error) {
	return Download(ctx, c.files, fileURL, w)
}

// Download is the generic GET-and-stream operation used by every file sink.
func Download(ctx context.Context, client *resty.Client, fileURL string, w io.Writer) (int64, error) {
	resp, err := client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(fileURL)
	if err != nil {
		return 0, TransportError(ctx, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if !resp.IsSuccess() {
		return 0, HTTPError(resp.StatusCode(), "")
	}

	sink := &trackedWriter{w: w}
	n, err := io.Copy(sink, body)
	if err != nil {
		if sink.err != nil {
			return n, FileSystemError(sink.err)
		}
		return n, TransportError(ctx, err)
	}
	return n, nil
}

// trackedWriter remembers write failures so they can be told apart from
// read failures of the response body.
type trackedWriter struct {
	w   io.Writer
	err error
}

func (t *trackedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}
