package whttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendHTTPRequestRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("Authorization") != "Bearer t0k" {
			t.Errorf("missing custom header")
		}
		if r.Header.Get("User-Agent") != UserAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	client, err := NewClient(ClientOptions{RetryMax: 2})
	if err != nil {
		t.Fatal(err)
	}
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = time.Millisecond

	res, err := SendHTTPRequest(context.Background(), &WHTTPReq{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: []WHTTPHeader{{Name: "Authorization", Value: "Bearer t0k"}},
		Body:    []byte("ping"),
	}, client)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !res.OK() || res.BodyString != "echo:ping" {
		t.Fatalf("unexpected response %+v", res)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestSendHTTPRequestHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	client, _ := NewClient(ClientOptions{RetryMax: 1})
	if _, err := SendHTTPRequest(ctx, &WHTTPReq{URL: srv.URL}, client); err == nil {
		t.Fatalf("expected the request to be cut short")
	}
}

func TestNewClientRejectsBadProxy(t *testing.T) {
	if _, err := NewClient(ClientOptions{Proxy: "://nope"}); err == nil {
		t.Fatalf("expected an invalid proxy error")
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "just text", "just text"},
		{"entities", "a &amp; b", "a & b"},
		{"paragraphs", "<p>Hello</p><p>World<br>again</p><script>x()</script>", "Hello\nWorld\nagain"},
		{"blank lines", "line one\n\n\n   \nline two  ", "line one\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.in); got != tt.want {
				t.Fatalf("HTMLToText() = %q, want %q", got, tt.want)
			}
		})
	}
}
