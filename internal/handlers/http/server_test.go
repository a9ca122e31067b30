package http

import (
	"io"
	nethttp "net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_Lifecycle(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewRouter(fakeScheduler{healthy: true}))
	assert.Nil(t, srv.Addr())

	require.NoError(t, srv.Start(t.Context()))
	assert.ErrorIs(t, srv.Start(t.Context()), ErrServiceAlreadyStarted)

	res, err := nethttp.Get("http://" + srv.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	assert.Equal(t, nethttp.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status": "ok"}`, string(body))

	srv.Close()
	srv.Close()

	_, err = nethttp.Get("http://" + srv.Addr().String() + "/healthz")
	assert.Error(t, err)
}

func TestServer_BindError(t *testing.T) {
	first := NewServer("127.0.0.1:0", nethttp.NotFoundHandler())
	require.NoError(t, first.Start(t.Context()))
	t.Cleanup(first.Close)

	second := NewServer(first.Addr().String(), nethttp.NotFoundHandler())
	assert.Error(t, second.Start(t.Context()))
}

func TestServer_CloseWithoutStart(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nethttp.NotFoundHandler())

	assert.NotPanics(t, srv.Close)
}
