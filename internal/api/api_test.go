package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestPostFormEncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content-type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("username") != "ann@example.com" {
			t.Errorf("username = %q", r.PostForm.Get("username"))
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL + "/"))
	resp, err := c.PostForm(context.Background(), "/login", url.Values{"username": {"ann@example.com"}})
	if err != nil {
		t.Fatalf("PostForm: %v", err)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	if err := resp.ParseJSON(&body); err != nil || !body.OK {
		t.Fatalf("body = %+v, err = %v", body, err)
	}
}

func TestErrorStatusReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"bad"}`)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).PostForm(context.Background(), "/x", url.Values{"a": {"1"}})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized || string(httpErr.Body) != `{"detail":"bad"}` {
		t.Fatalf("httpErr = %+v", httpErr)
	}
}

func TestJSONBodyAndDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Client") != "livedash" {
			t.Errorf("missing default header")
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"a":1}` {
			t.Errorf("body = %s", b)
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithHeader("X-Client", "livedash"))
	req := NewRequest(http.MethodPost, "/").WithContext(context.Background()).WithBody(map[string]int{"a": 1})
	if _, err := c.Do(req); err != nil {
		t.Fatalf("Do: %v", err)
	}
}
