package observability_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geosplit/pkg/observability"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

func TestServeMetrics(t *testing.T) {
	t.Parallel()

	_, handler, err := observability.NewPrometheusReader()
	require.NoError(t, err)

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- observability.ServeMetrics(ctx, addr, handler, nil)
	}()

	url := fmt.Sprintf("http://%s%s", addr, observability.MetricsPath)

	var resp *http.Response

	require.Eventually(t, func() bool {
		r, getErr := http.Get(url) //nolint:noctx // test polling loop
		if getErr != nil {
			return false
		}

		resp = r

		return true
	}, 5*time.Second, 20*time.Millisecond)

	_, err = io.Copy(io.Discard, resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}

func TestServeMetrics_ListenError(t *testing.T) {
	t.Parallel()

	_, handler, err := observability.NewPrometheusReader()
	require.NoError(t, err)

	err = observability.ServeMetrics(context.Background(), "256.0.0.1:bad", handler, nil)
	assert.Error(t, err)
}
