package govna

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/govna-tdr/internal/vnasim"
)

func TestLink_SendCommandStripsEchoAndPrompt(t *testing.T) {
	dev := vnasim.New(nil)
	link := NewLink(dev)

	lines, err := link.SendCommand("version")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.20"}, lines)

	lines, err = link.SendCommand("info")
	require.NoError(t, err)
	assert.Equal(t, dev.Info, lines)
}

func TestLink_ScanResponse(t *testing.T) {
	dev := vnasim.New(nil)
	link := NewLink(dev)

	lines, err := link.SendCommand("scan 1000000 2000000 101 7")
	require.NoError(t, err)
	require.Len(t, lines, 101)
	assert.Equal(t, vnasim.ScanLines(dev.Model, 1_000_000, 2_000_000, 101), lines)
}

func TestLink_TimeoutMarksDirtyAndResyncs(t *testing.T) {
	dev := vnasim.New(nil)
	dev.Intercept = func(n int, cmd string) vnasim.Reaction {
		if n == 0 {
			return vnasim.Reaction{Action: vnasim.Silent}
		}
		return vnasim.Reaction{Action: vnasim.Respond}
	}
	link := NewLink(dev, WithCommandTimeout(30*time.Millisecond))

	_, err := link.SendCommand("version")
	require.ErrorIs(t, err, ErrLinkTimeout)

	lines, err := link.SendCommand("version")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.20"}, lines)
	assert.Equal(t, []string{"version", "version"}, dev.Commands())
}

func TestLink_IgnoresStaleOutput(t *testing.T) {
	dev := vnasim.New(nil)
	dev.Push("1.2.19\r\nch> ")
	link := NewLink(dev)

	lines, err := link.SendCommand("version")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.20"}, lines)
}

func TestLink_ResyncDiscardsPendingInput(t *testing.T) {
	dev := vnasim.New(nil)
	dev.Push("garbage\r\nmore garbage")
	link := NewLink(dev)

	require.NoError(t, link.Resync())
	lines, err := link.SendCommand("version")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.20"}, lines)
}

func TestLink_DisconnectIsPermanent(t *testing.T) {
	dev := vnasim.New(nil)
	dev.Intercept = func(n int, cmd string) vnasim.Reaction {
		return vnasim.Reaction{Action: vnasim.Disconnect}
	}
	link := NewLink(dev)

	_, err := link.SendCommand("scan 1000000 2000000 101 7")
	require.ErrorIs(t, err, ErrLinkDisconnected)

	_, err = link.SendCommand("version")
	assert.ErrorIs(t, err, ErrLinkDisconnected)
	assert.ErrorIs(t, link.Resync(), ErrLinkDisconnected)
	assert.Len(t, dev.Commands(), 1)
}

func TestLink_WriteFailureIsDisconnect(t *testing.T) {
	dev := vnasim.New(nil)
	require.NoError(t, dev.Close())
	link := NewLink(dev)

	_, err := link.SendCommand("version")
	assert.ErrorIs(t, err, ErrLinkDisconnected)
}

// unpluggedPort принимает запись, но чтение всегда завершается ошибкой.
type unpluggedPort struct {
	closes int
}

func (p *unpluggedPort) Read([]byte) (int, error)           { return 0, errors.New("unplugged") }
func (p *unpluggedPort) Write(b []byte) (int, error)        { return len(b), nil }
func (p *unpluggedPort) SetReadTimeout(time.Duration) error { return nil }
func (p *unpluggedPort) ResetInputBuffer() error            { return nil }
func (p *unpluggedPort) Close() error {
	p.closes++
	return nil
}

func TestLink_CloseAfterReadFailureClosesPort(t *testing.T) {
	port := &unpluggedPort{}
	link := NewLink(port)

	_, err := link.SendCommand("version")
	require.ErrorIs(t, err, ErrLinkDisconnected)
	assert.ErrorIs(t, link.Resync(), ErrLinkDisconnected)
	assert.Zero(t, port.closes)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())
	assert.Equal(t, 1, port.closes)
}

func TestLink_CloseIsIdempotent(t *testing.T) {
	link := NewLink(vnasim.New(nil))
	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	_, err := link.SendCommand("version")
	assert.ErrorIs(t, err, ErrLinkDisconnected)
}

func TestSplitResponse(t *testing.T) {
	raw := []byte("scan 1 2 2 7\r\n1 0 0 0 0\r\n\r\n2 0 0 0 0\r\n")
	assert.Equal(t, []string{"1 0 0 0 0", "2 0 0 0 0"}, splitResponse(raw, "scan 1 2 2 7"))
	assert.Empty(t, splitResponse([]byte("\r\n"), ""))
}
