package qbit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeWebUI struct {
	username   string
	password   string
	loginReply string
	shutdowns  atomic.Int32
	failStatus int
}

func (f *fakeWebUI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Referer") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if f.loginReply != "" {
			_, _ = w.Write([]byte(f.loginReply))
			return
		}
		if r.PostForm.Get("username") != f.username || r.PostForm.Get("password") != f.password {
			_, _ = w.Write([]byte("Fails."))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: "session", Path: "/"})
		_, _ = w.Write([]byte("Ok."))
	})
	mux.HandleFunc("/api/v2/app/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if f.failStatus != 0 {
			w.WriteHeader(f.failStatus)
			return
		}
		if c, err := r.Cookie("SID"); err != nil || c.Value != "session" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.shutdowns.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestAuthenticateAndShutdown(t *testing.T) {
	t.Parallel()
	ui := &fakeWebUI{username: "admin", password: "adminadmin"}
	srv := httptest.NewServer(ui.handler())
	defer srv.Close()

	cli, err := New(srv.URL, Credentials{Username: "admin", Password: "adminadmin"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := cli.Authenticate(ctx); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := cli.RequestShutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := ui.shutdowns.Load(); got != 1 {
		t.Fatalf("expected 1 shutdown, got %d", got)
	}
}

func TestAuthenticateRejectsFails(t *testing.T) {
	t.Parallel()
	ui := &fakeWebUI{username: "admin", password: "secret"}
	srv := httptest.NewServer(ui.handler())
	defer srv.Close()

	cli, err := New(srv.URL, Credentials{Username: "admin", Password: "wrong"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = cli.Authenticate(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if !strings.Contains(err.Error(), "Fails.") {
		t.Fatalf("expected body in error, got %v", err)
	}
}

func TestAuthenticateUnreachable(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cli, err := New("http://"+addr, Credentials{}, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := cli.Authenticate(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth on connection refused, got %v", err)
	}
	if err := cli.RequestShutdown(context.Background()); !errors.Is(err, ErrCommand) {
		t.Fatalf("expected ErrCommand on connection refused, got %v", err)
	}
}

func TestRequestShutdownNon2xx(t *testing.T) {
	t.Parallel()
	ui := &fakeWebUI{failStatus: http.StatusInternalServerError}
	srv := httptest.NewServer(ui.handler())
	defer srv.Close()

	cli, err := New(srv.URL+"/", Credentials{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := cli.RequestShutdown(context.Background()); !errors.Is(err, ErrCommand) {
		t.Fatalf("expected ErrCommand, got %v", err)
	}
}

func TestAuthenticateHonoursTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cli, err := New(srv.URL, Credentials{}, WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	start := time.Now()
	if err := cli.Authenticate(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not applied, took %s", elapsed)
	}
}

func TestNewValidatesBaseURL(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   ", "ftp://host", "http://"} {
		if _, err := New(raw, Credentials{}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	cli, err := New(" https://nas.lan:8443/ ", Credentials{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := cli.BaseURL(); got != "https://nas.lan:8443" {
		t.Fatalf("BaseURL=%q", got)
	}
}
