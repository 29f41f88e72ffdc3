package moonraker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/john/printer_remote/moonraker/moonrakertest"
	"github.com/stretchr/testify/require"
)

func TestClient_OpenSocketConnectionAndCall(t *testing.T) {
	t.Parallel()

	srv := moonrakertest.NewServer()
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL+"/")
	ctx := testContext(t)

	sess, err := c.OpenSocketConnection(ctx)
	require.NoError(t, err)
	require.Same(t, c.Socket(), sess)

	var info struct {
		KlippyState      string `json:"klippy_state"`
		MoonrakerVersion string `json:"moonraker_version"`
	}
	require.NoError(t, sess.Call(ctx, "server.info", nil, &info))
	require.Equal(t, "ready", info.KlippyState)
	require.Equal(t, "v0.9.3", info.MoonrakerVersion)

	require.NoError(t, sess.Call(ctx, "printer.emergency_stop", nil, nil))
}

func TestSession_CallReturnsServerError(t *testing.T) {
	t.Parallel()

	srv := moonrakertest.NewServer()
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	ctx := testContext(t)

	sess, err := c.OpenSocketConnection(ctx)
	require.NoError(t, err)

	err = sess.Call(ctx, "no.such.method", nil, nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, -32601, rpcErr.Code)
}

func TestClient_OpenSocketConnectionReplacesAndClosesPrevious(t *testing.T) {
	t.Parallel()

	srv := moonrakertest.NewServer()
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	ctx := testContext(t)

	first, err := c.OpenSocketConnection(ctx)
	require.NoError(t, err)
	second, err := c.OpenSocketConnection(ctx)
	require.NoError(t, err)

	require.NotSame(t, first, second)
	require.Same(t, c.Socket(), second)
	require.ErrorIs(t, first.Call(ctx, "server.info", nil, nil), ErrSessionClosed)
	require.NoError(t, second.Call(ctx, "server.info", nil, nil))

	require.Eventually(t, func() bool { return srv.SocketClients() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_CloseReleasesSocket(t *testing.T) {
	t.Parallel()

	srv := moonrakertest.NewServer()
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	ctx := testContext(t)

	sess, err := c.OpenSocketConnection(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.Nil(t, c.Socket())
	require.ErrorIs(t, sess.Call(ctx, "server.info", nil, nil), ErrSessionClosed)
	require.Eventually(t, func() bool { return srv.SocketClients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// A second close is a no-op.
	require.NoError(t, c.Close())
}

func TestClient_OpenSocketConnectionFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, deadAddress(t))
	sess, err := c.OpenSocketConnection(testContext(t))
	require.ErrorIs(t, err, ErrTransport)
	require.Nil(t, sess)
	require.Nil(t, c.Socket())
}

func TestSession_ServerShutdownFailsCalls(t *testing.T) {
	t.Parallel()

	srv := moonrakertest.NewServer()
	c := newTestClient(t, srv.URL)
	ctx := testContext(t)

	_, err := c.OpenSocketConnection(ctx)
	require.NoError(t, err)
	sess := c.Socket()

	srv.Close()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice server shutdown")
	}
	require.ErrorIs(t, sess.Call(ctx, "server.info", nil, nil), ErrSessionClosed)
}

func TestClient_OpenSocketConnectionSendsAPIKey(t *testing.T) {
	t.Parallel()

	srv := moonrakertest.NewServer()
	t.Cleanup(srv.Close)
	srv.RequireAPIKey("secret")
	ctx := testContext(t)

	keyless := newTestClient(t, srv.URL)
	sess, err := keyless.OpenSocketConnection(ctx)
	require.ErrorIs(t, err, ErrTransport)
	require.Nil(t, sess)

	conn := testConnection(srv.URL)
	conn.APIKey = "secret"
	keyed := New(conn, WithLogger(quietLogger()))
	t.Cleanup(func() { _ = keyed.Close() })

	sess, err = keyed.OpenSocketConnection(ctx)
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, sess.Call(ctx, "server.info", nil, &info))
	require.Equal(t, "ready", info["klippy_state"])

	reqs := srv.RequestsTo(socketPath)
	require.Len(t, reqs, 2)
	require.Empty(t, reqs[0].APIKey)
	require.Equal(t, "secret", reqs[1].APIKey)
}

func TestSession_CloseDoesNotWaitForBlockedWrite(t *testing.T) {
	t.Parallel()

	// The peer upgrades and then never reads, so a large write fills the
	// socket buffers and blocks.
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := newTestClient(t, srv.URL)
	sess, err := c.OpenSocketConnection(testContext(t))
	require.NoError(t, err)

	callDone := make(chan error, 1)
	go func() {
		callDone <- sess.Call(context.Background(), "server.files.upload", strings.Repeat("x", 64<<20), nil)
	}()
	time.Sleep(200 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = sess.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked behind a pending write")
	}

	select {
	case err := <-callDone:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked Call did not return after Close")
	}
}
