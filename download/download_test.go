package download_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecuflash/canbus"
	"ecuflash/download"
	"ecuflash/isotp"
	"ecuflash/seedkey"
	"ecuflash/uds"
)

type fixedDeriver struct{ key []byte }

func (f fixedDeriver) DeriveKey(seed []byte) ([]byte, error) { return f.key, nil }

// fakeECU answers a session/seed/key handshake and then serves
// ReadMemoryByAddress requests out of a backing byte slice.
func fakeECU(t *testing.T, ecuPort canbus.Port, memory []byte) {
	t.Helper()
	opts := isotp.Options{SourceID: 0x7E8, DestID: 0x7E0, Timeout: time.Second}
	rx := isotp.New(ecuPort, opts, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0x10, 0x87}, req)
	require.NoError(t, rx.Send(ctx, []byte{0x50, 0x87}))

	req, err = rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0x27, 0x01}, req)
	require.NoError(t, rx.Send(ctx, []byte{0x67, 0x01, 0x00, 0x00}))

	req, err = rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, byte(0x27), req[0])
	require.NoError(t, rx.Send(ctx, []byte{0x67, 0x02}))

	for {
		req, err := rx.Recv(ctx)
		if err != nil {
			return
		}
		require.Equal(t, byte(0x23), req[0])
		addr := uint32(req[1])<<24 | uint32(req[2])<<16 | uint32(req[3])<<8 | uint32(req[4])
		length := uint16(req[5])<<8 | uint16(req[6])

		end := addr + uint32(length)
		if end > uint32(len(memory)) {
			end = uint32(len(memory))
		}
		chunk := memory[addr:end]

		resp := append([]byte{0x63}, chunk...)
		require.NoError(t, rx.Send(ctx, resp))

		if end >= uint32(len(memory)) {
			return
		}
	}
}

func TestDownloadFiveKiB(t *testing.T) {
	const size = 5 * 1024
	memory := make([]byte, size)
	for i := range memory {
		memory[i] = byte(i)
	}

	a, b := canbus.NewLoopbackPair()
	opts := isotp.Options{SourceID: 0x7E0, DestID: 0x7E8, Timeout: time.Second}
	client := uds.New(isotp.New(a, opts, nil), nil)
	d := download.New(client, fixedDeriver{key: []byte{0x01, 0x02, 0x03}}, 0x87, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeECU(t, b, memory)
	}()

	var lastProgress float32
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	data, err := d.Download(ctx, 0, size, func(fraction float32) {
		lastProgress = fraction
	})
	<-done

	require.NoError(t, err)
	assert.Equal(t, memory, data)
	assert.InDelta(t, float32(1.0), lastProgress, 0.0001)
}

func TestDownloadFailsOnEmptyPacket(t *testing.T) {
	a, b := canbus.NewLoopbackPair()
	opts := isotp.Options{SourceID: 0x7E0, DestID: 0x7E8, Timeout: time.Second}
	client := uds.New(isotp.New(a, opts, nil), nil)
	d := download.New(client, fixedDeriver{key: []byte{0x01}}, 0x87, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		opts := isotp.Options{SourceID: 0x7E8, DestID: 0x7E0, Timeout: time.Second}
		rx := isotp.New(b, opts, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		req, err := rx.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, []byte{0x10, 0x87}, req)
		require.NoError(t, rx.Send(ctx, []byte{0x50, 0x87}))

		req, err = rx.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, []byte{0x27, 0x01}, req)
		require.NoError(t, rx.Send(ctx, []byte{0x67, 0x01, 0x00, 0x00}))

		req, err = rx.Recv(ctx)
		require.NoError(t, err)
		require.NoError(t, rx.Send(ctx, []byte{0x67, 0x02}))

		req, err = rx.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, byte(0x23), req[0])
		require.NoError(t, rx.Send(ctx, []byte{0x63}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := d.Download(ctx, 0, 10, nil)
	<-done
	assert.ErrorIs(t, err, download.ErrEmptyPacket)
}
