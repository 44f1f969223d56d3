// Package learn talks to the course platform's JSON web API.
package learn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/provider"
	"github.com/learnwatch/learnwatch/pkg/snapshot"
	"github.com/learnwatch/learnwatch/pkg/whttp"
)

// Client implements provider.Provider over HTTP.
type Client struct {
	baseURL string
	http    *retryablehttp.Client

	mu    sync.RWMutex
	token string
}

var _ provider.Provider = (*Client)(nil)

// New builds a client for the API rooted at baseURL.
func New(baseURL string, client *retryablehttp.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *Client) Name() string { return "learn" }

func (c *Client) Login(ctx context.Context, creds provider.Credentials) error {
	body, err := json.Marshal(map[string]string{"username": creds.Username, "password": creds.Password})
	if err != nil {
		return err
	}
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/api/login",
		Headers: []whttp.WHTTPHeader{{Name: "Content-Type", Value: "application/json"}},
		Body:    body,
	}, c.http)
	if err != nil {
		return transportError("login", err)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		msg := gjson.Get(res.BodyString, "message").String()
		return errkind.E(errkind.Auth, "login", fmt.Errorf("rejected with status %d: %s", res.StatusCode, msg))
	case !res.OK():
		return errkind.E(errkind.Fetch, "login", fmt.Errorf("unexpected status %d", res.StatusCode))
	}

	token := gjson.Get(res.BodyString, "token").String()
	if token == "" {
		return errkind.E(errkind.Auth, "login", errors.New("no token in response"))
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

func (c *Client) ListCourses(ctx context.Context, semester string) ([]provider.CourseSummary, error) {
	body, err := c.get(ctx, "list courses", "/api/semesters/"+url.PathEscape(semester)+"/courses")
	if err != nil {
		return nil, err
	}
	var out []provider.CourseSummary
	for _, r := range gjson.Get(body, "courses").Array() {
		out = append(out, provider.CourseSummary{
			ID:       r.Get("id").String(),
			Name:     r.Get("name").String(),
			Semester: semester,
			Teacher:  r.Get("teacher").String(),
		})
	}
	return out, nil
}

func (c *Client) ListFiles(ctx context.Context, courseID string) ([]snapshot.File, error) {
	body, err := c.get(ctx, "list files", "/api/courses/"+url.PathEscape(courseID)+"/files")
	if err != nil {
		return nil, err
	}
	out := []snapshot.File{}
	for _, r := range gjson.Get(body, "files").Array() {
		out = append(out, snapshot.File{
			ID:          r.Get("id").String(),
			Title:       r.Get("title").String(),
			DownloadURL: rewriteHost(r.Get("downloadUrl").String()),
			UploadTime:  parseTime(r.Get("uploadTime")),
			Description: whttp.HTMLToText(r.Get("description").String()),
			Size:        r.Get("size").String(),
		})
	}
	return out, nil
}

func (c *Client) ListAnnouncements(ctx context.Context, courseID string) ([]snapshot.Announcement, error) {
	body, err := c.get(ctx, "list announcements", "/api/courses/"+url.PathEscape(courseID)+"/announcements")
	if err != nil {
		return nil, err
	}
	out := []snapshot.Announcement{}
	for _, r := range gjson.Get(body, "announcements").Array() {
		out = append(out, snapshot.Announcement{
			ID:          r.Get("id").String(),
			Title:       r.Get("title").String(),
			URL:         rewriteHost(r.Get("url").String()),
			Content:     whttp.HTMLToText(r.Get("content").String()),
			PublishTime: parseTime(r.Get("publishTime")),
			Publisher:   r.Get("publisher").String(),
		})
	}
	return out, nil
}

func (c *Client) ListAssignments(ctx context.Context, courseID string) ([]snapshot.Assignment, error) {
	body, err := c.get(ctx, "list assignments", "/api/courses/"+url.PathEscape(courseID)+"/assignments")
	if err != nil {
		return nil, err
	}
	out := []snapshot.Assignment{}
	for _, r := range gjson.Get(body, "assignments").Array() {
		a := snapshot.Assignment{
			ID:           r.Get("id").String(),
			Title:        r.Get("title").String(),
			URL:          rewriteHost(r.Get("url").String()),
			Deadline:     parseTime(r.Get("deadline")),
			Submitted:    r.Get("submitted").Bool(),
			Grade:        r.Get("grade").String(),
			GradeLevel:   r.Get("gradeLevel").String(),
			GradeContent: whttp.HTMLToText(r.Get("gradeContent").String()),
		}
		if gt := parseTime(r.Get("gradeTime")); !gt.IsZero() {
			a.GradeTime = &gt
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, path string) (string, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return "", errkind.E(errkind.Fetch, op, provider.ErrSessionExpired)
	}

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  http.MethodGet,
		URL:     c.baseURL + path,
		Headers: []whttp.WHTTPHeader{{Name: "Authorization", Value: "Bearer " + token}},
	}, c.http)
	if err != nil {
		return "", transportError(op, err)
	}
	if res.StatusCode == http.StatusUnauthorized {
		return "", errkind.E(errkind.Fetch, op, provider.ErrSessionExpired)
	}
	if !res.OK() {
		return "", errkind.E(errkind.Fetch, op, fmt.Errorf("fetching failed. Got status code: %d", res.StatusCode))
	}
	return res.BodyString, nil
}

func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.E(errkind.Timeout, op, err)
	}
	return errkind.E(errkind.Fetch, op, err)
}

// rewriteHost maps the legacy learn2018 host alias to the public one.
func rewriteHost(u string) string {
	return strings.Replace(u, "learn2018", "learn", 1)
}

// parseTime accepts RFC3339 strings and epoch milliseconds.
func parseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		if r.Int() == 0 {
			return time.Time{}
		}
		return time.UnixMilli(r.Int()).UTC()
	case gjson.String:
		if r.String() == "" {
			return time.Time{}
		}
		return r.Time()
	}
	return time.Time{}
}
