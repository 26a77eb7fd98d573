package httpserver_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billgate/billgate/pkg/httpserver"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "unable to get free port")
	addr := l.Addr().String()
	require.NoError(t, l.Close(), "close listener")
	return addr
}

func TestRunAndShutdown(t *testing.T) {
	t.Parallel()
	addr := freeAddr(t)
	srv := httpserver.New(httpserver.WithAddr(addr), httpserver.WithShutdownTimeout(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	}()

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, err, "http get after 50 retries")
	require.NoError(t, resp.Body.Close(), "close body")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err, "run")
	case <-time.After(time.Second):
		require.Fail(t, "run did not finish")
	}
	require.NoError(t, srv.Shutdown(context.Background()), "shutdown")
}

func TestRunTwice(t *testing.T) {
	t.Parallel()
	addr := freeAddr(t)
	srv := httpserver.New(httpserver.WithAddr(addr), httpserver.WithShutdownTimeout(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, nil) }()

	var err error
	for i := 0; i < 50; i++ {
		if _, err = http.Get("http://" + addr); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, err, "server never came up")

	err = srv.Run(ctx, nil)
	assert.ErrorIs(t, err, httpserver.ErrStart)

	cancel()
	<-done
}

func TestHealthCheckHandler(t *testing.T) {
	t.Parallel()

	get := func(h http.HandlerFunc) (*httptest.ResponseRecorder, string) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
		body, _ := io.ReadAll(rr.Body)
		return rr, string(body)
	}

	t.Run("no checks means alive", func(t *testing.T) {
		t.Parallel()
		h := httpserver.HealthCheckHandler(context.Background(), discardLogger())
		rr, body := get(h)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ALIVE", body)
	})

	t.Run("passing checks means ready", func(t *testing.T) {
		t.Parallel()
		h := httpserver.HealthCheckHandler(context.Background(), discardLogger(),
			func(context.Context) error { return nil },
			func(context.Context) error { return nil },
		)
		rr, body := get(h)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "READY", body)
	})

	t.Run("a failing check means not ready", func(t *testing.T) {
		t.Parallel()
		h := httpserver.HealthCheckHandler(context.Background(), discardLogger(),
			func(context.Context) error { return nil },
			func(context.Context) error { return errors.New("pg down") },
		)
		rr, body := get(h)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "NOT_READY", body)
	})
}
