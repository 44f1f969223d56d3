package learn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/provider"
	"github.com/learnwatch/learnwatch/pkg/whttp"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct{ Username, Password string }
		if err := jsonDecode(r, &body); err != nil || body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"bad credentials"}`)
			return
		}
		fmt.Fprint(w, `{"token":"abc"}`)
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/api/semesters/2023-2024-2/courses", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"courses":[{"id":"c1","name":"Signals","teacher":"Li"}]}`)
	}))
	mux.HandleFunc("/api/courses/c1/files", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"files":[{"id":"f1","title":"notes","downloadUrl":"https://learn2018.example.edu/f1","uploadTime":1711929600000,"size":"1MB"}]}`)
	}))
	mux.HandleFunc("/api/courses/c1/announcements", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"announcements":[{"id":"a1","title":"Exam","content":"<p>Room 101</p><p>Bring ID</p>","publishTime":"2024-04-01T08:00:00Z"}]}`)
	}))
	mux.HandleFunc("/api/courses/c1/assignments", authed(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"assignments":[
			{"id":"h1","title":"hw1","deadline":"2024-04-07T23:59:00Z","submitted":true,"gradeTime":"2024-04-09T10:00:00Z","grade":"95"},
			{"id":"h2","title":"hw2","deadline":"2024-04-14T23:59:00Z","submitted":false}
		]}`)
	}))
	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	hc, err := whttp.NewClient(whttp.ClientOptions{RetryMax: 1})
	require.NoError(t, err)
	hc.RetryWaitMin = time.Millisecond
	hc.RetryWaitMax = time.Millisecond
	return New(url+"/", hc)
}

func TestLoginAndList(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.ListCourses(ctx, "2023-2024-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrSessionExpired))

	require.NoError(t, c.Login(ctx, provider.Credentials{Username: "u", Password: "secret"}))

	courses, err := c.ListCourses(ctx, "2023-2024-2")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, provider.CourseSummary{ID: "c1", Name: "Signals", Semester: "2023-2024-2", Teacher: "Li"}, courses[0])

	files, err := c.ListFiles(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "https://learn.example.edu/f1", files[0].DownloadURL)
	assert.True(t, files[0].UploadTime.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))

	anns, err := c.ListAnnouncements(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, "Room 101\nBring ID", anns[0].Content)

	hws, err := c.ListAssignments(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, hws, 2)
	assert.True(t, hws[0].Submitted)
	assert.True(t, hws[0].Graded())
	assert.Equal(t, "95", hws[0].Grade)
	assert.False(t, hws[1].Graded())
	assert.Nil(t, hws[1].GradeTime)
}

func TestLoginRejected(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	err := c.Login(context.Background(), provider.Credentials{Username: "u", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, errkind.Auth, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestListNotFoundIsFetchError(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, provider.Credentials{Password: "secret"}))

	_, err := c.ListFiles(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, errkind.Fetch, errkind.KindOf(err))
	assert.False(t, errors.Is(err, provider.ErrSessionExpired))
}

func TestTimeoutIsTagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Login(ctx, provider.Credentials{})
	require.Error(t, err)
	assert.Equal(t, errkind.Timeout, errkind.KindOf(err))
}

func jsonDecode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
