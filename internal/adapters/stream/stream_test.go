package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicebridge/internal/core"
)

type fakeWS struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (f *fakeWS) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }

func (f *fakeWS) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestSendTimesOutWhenBufferFull(t *testing.T) {
	c := NewWsStreamConn(&fakeWS{}, 1)
	require.NoError(t, c.Send(context.Background(), []byte("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, []byte("b"))
	require.ErrorIs(t, err, core.ErrBackpressure)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendAfterClose(t *testing.T) {
	ws := &fakeWS{}
	c := NewWsStreamConn(ws, 4)
	assert.True(t, c.Connected())

	c.Close()
	c.Close()

	assert.False(t, c.Connected())
	assert.True(t, ws.closed)
	assert.ErrorIs(t, c.Send(context.Background(), []byte("x")), core.ErrStreamClosed)
}

func TestWritePumpDrainsQueue(t *testing.T) {
	ws := &fakeWS{}
	c := NewWsStreamConn(ws, 4)
	ctl := &StreamWSController{}

	require.NoError(t, c.Send(context.Background(), []byte("one")))
	require.NoError(t, c.Send(context.Background(), []byte("two")))

	done := make(chan struct{})
	go func() {
		ctl.writePump(context.Background(), "sid", c)
		close(done)
	}()

	require.Eventually(t, func() bool {
		ws.mu.Lock()
		defer ws.mu.Unlock()
		return len(ws.writes) == 2
	}, time.Second, time.Millisecond)
	c.Close()
	<-done

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, ws.writes)
}

func TestConnLimiter(t *testing.T) {
	rl := NewConnLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.NotContains(t, rl.history, "10.0.0.2")
}

func TestConnLimiterDisabled(t *testing.T) {
	rl := NewConnLimiter(0, time.Minute)
	assert.Nil(t, rl)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("any"))
	}
}
