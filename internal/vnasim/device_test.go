package vnasim

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLines_EndpointsAndCount(t *testing.T) {
	lines := ScanLines(Cable(0, 0.5), 1_000_000, 2_000_000, 5)
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "1000000 "))
	assert.True(t, strings.HasPrefix(lines[2], "1500000 "))
	assert.True(t, strings.HasPrefix(lines[4], "2000000 "))
}

func TestDevice_EchoesAndPrompts(t *testing.T) {
	dev := New(nil)
	_, err := dev.Write([]byte("version\r"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	n, err := dev.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "version\r\n1.2.20\r\nch> ", string(buf[:n]))
	assert.Equal(t, []string{"version"}, dev.Commands())
}

func TestDevice_InterceptDisconnect(t *testing.T) {
	dev := New(nil)
	dev.Intercept = func(n int, cmd string) Reaction { return Reaction{Action: Disconnect} }

	_, err := dev.Write([]byte("scan 1 2 2 7\r"))
	require.NoError(t, err)
	_, err = dev.Read(make([]byte, 16))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = dev.Write([]byte("\r"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDevice_SilentLeavesNoOutput(t *testing.T) {
	dev := New(nil)
	dev.Intercept = func(n int, cmd string) Reaction { return Reaction{Action: Silent} }
	require.NoError(t, dev.SetReadTimeout(time.Millisecond))

	_, err := dev.Write([]byte("info\r"))
	require.NoError(t, err)
	n, err := dev.Read(make([]byte, 16))
	assert.NoError(t, err)
	assert.Zero(t, n)

	var _ io.ReadWriteCloser = dev
}
