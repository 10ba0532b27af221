package httpclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Duration(0), cfg.Delay)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.MaxElapsedTime)
}

func TestConfig_RequestDefaults(t *testing.T) {
	cfg := Config{
		Timeout:        time.Second,
		ConnectTimeout: 2 * time.Second,
		Delay:          50 * time.Millisecond,
		Debug:          true,
		RetryInterval:  time.Minute,
		MaxRetries:     9,
	}

	rc := cfg.requestDefaults()

	assert.Equal(t, RequestConfig{
		Timeout:        time.Second,
		ConnectTimeout: 2 * time.Second,
		Delay:          50 * time.Millisecond,
		Debug:          true,
	}, rc)
}

func TestDefaultTransportConfig(t *testing.T) {
	tc := DefaultTransportConfig()

	assert.Equal(t, 100, tc.MaxIdleConns)
	assert.Equal(t, 20, tc.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, tc.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, tc.TLSHandshakeTimeout)
	assert.Equal(t, 30*time.Second, tc.KeepAlive)
}

func TestWithConnectTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{
			name:    "given positive timeout, then stored in context",
			timeout: 250 * time.Millisecond,
			want:    250 * time.Millisecond,
		},
		{
			name:    "given zero timeout, then context unchanged",
			timeout: 0,
			want:    0,
		},
		{
			name:    "given negative timeout, then context unchanged",
			timeout: -time.Second,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := withConnectTimeout(context.Background(), tt.timeout)

			assert.Equal(t, tt.want, connectTimeoutFromContext(ctx))
		})
	}
}

func TestTransportConfig_BuildTransport(t *testing.T) {
	tc := TransportConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	transport := tc.buildTransport()

	require.NotNil(t, transport)
	assert.Equal(t, 50, transport.MaxIdleConns)
	assert.Equal(t, 25, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 60*time.Second, transport.IdleConnTimeout)
	assert.Equal(t, 5*time.Second, transport.TLSHandshakeTimeout)
	assert.NotNil(t, transport.DialContext)
	assert.NotNil(t, transport.Proxy)
}

func TestTransportConfig_BuildTransport_Dials(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	transport := DefaultTransportConfig().buildTransport()
	ctx := withConnectTimeout(context.Background(), time.Second)

	conn, err := transport.DialContext(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestTransportConfig_BuildTransport_ConnectTimeout(t *testing.T) {
	transport := DefaultTransportConfig().buildTransport()

	ctx := withConnectTimeout(context.Background(), time.Nanosecond)
	// 192.0.2.0/24 is TEST-NET-1 and never routable.
	_, err := transport.DialContext(ctx, "tcp", "192.0.2.1:81")
	require.Error(t, err)

	var netErr net.Error
	if assert.ErrorAs(t, err, &netErr) {
		assert.True(t, netErr.Timeout())
	}
}
