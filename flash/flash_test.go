package flash_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecuflash/canbus"
	"ecuflash/flash"
	"ecuflash/isotp"
	"ecuflash/seedkey"
	"ecuflash/uds"
)

type fixedDeriver struct{ key []byte }

func (f fixedDeriver) DeriveKey(seed []byte) ([]byte, error) { return f.key, nil }

func fakeECU(t *testing.T, ecuPort canbus.Port, chunkLens *[]int) {
	t.Helper()
	opts := isotp.Options{SourceID: 0x7E8, DestID: 0x7E0, Timeout: time.Second}
	rx := isotp.New(ecuPort, opts, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0x10, 0x85}, req)
	require.NoError(t, rx.Send(ctx, []byte{0x50, 0x85}))

	req, err = rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0x27, 0x01}, req)
	require.NoError(t, rx.Send(ctx, []byte{0x67, 0x01, 0x00}))

	req, err = rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, byte(0x27), req[0])
	require.NoError(t, rx.Send(ctx, []byte{0x67, 0x02}))

	req, err = rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0xB1, 0x00, 0xB2, 0x00}, req)
	require.NoError(t, rx.Send(ctx, []byte{0xF1}))

	req, err = rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, byte(0x34), req[0])
	require.NoError(t, rx.Send(ctx, []byte{0x74}))

	for {
		req, err := rx.Recv(ctx)
		if err != nil {
			return
		}
		require.Equal(t, byte(0x36), req[0])
		*chunkLens = append(*chunkLens, len(req)-1)
		require.NoError(t, rx.Send(ctx, []byte{0x76}))
	}
}

func TestFlashTransferChunking(t *testing.T) {
	const size = 8190
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}

	a, b := canbus.NewLoopbackPair()
	opts := isotp.Options{SourceID: 0x7E0, DestID: 0x7E8, Timeout: time.Second}
	client := uds.New(isotp.New(a, opts, nil), nil)
	f := flash.New(client, fixedDeriver{key: []byte{0x01, 0x02, 0x03}}, 0x85, nil)

	var chunkLens []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeECU(t, b, &chunkLens)
	}()

	var lastProgress float32
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := f.Flash(ctx, 0x1000, data, func(fraction float32) {
		lastProgress = fraction
	})
	<-done

	require.NoError(t, err)
	assert.Equal(t, []int{0xFFE, 0xFFE, size - 2*0xFFE}, chunkLens)
	assert.InDelta(t, float32(1.0), lastProgress, 0.0001)
}

func TestFlashAnnouncesOffsetAndLength(t *testing.T) {
	a, b := canbus.NewLoopbackPair()
	opts := isotp.Options{SourceID: 0x7E0, DestID: 0x7E8, Timeout: time.Second}
	client := uds.New(isotp.New(a, opts, nil), nil)
	f := flash.New(client, fixedDeriver{key: []byte{0x01}}, 0x85, nil)

	var announce []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		opts := isotp.Options{SourceID: 0x7E8, DestID: 0x7E0, Timeout: time.Second}
		rx := isotp.New(b, opts, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := rx.Recv(ctx)
		require.NoError(t, err)
		require.NoError(t, rx.Send(ctx, []byte{0x50, 0x85}))

		req, err = rx.Recv(ctx)
		require.NoError(t, err)
		require.NoError(t, rx.Send(ctx, []byte{0x67, 0x01, 0x00}))

		req, err = rx.Recv(ctx)
		require.NoError(t, err)
		require.NoError(t, rx.Send(ctx, []byte{0x67, 0x02}))

		req, err = rx.Recv(ctx)
		require.NoError(t, err)
		require.NoError(t, rx.Send(ctx, []byte{0xF1}))

		req, err = rx.Recv(ctx)
		require.NoError(t, err)
		announce = req[1:]
		require.NoError(t, rx.Send(ctx, []byte{0x74}))

		req, err = rx.Recv(ctx)
		require.NoError(t, err)
		require.NoError(t, rx.Send(ctx, []byte{0x76}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.Flash(ctx, 0xA0000, []byte{0x01, 0x02, 0x03}, nil)
	<-done

	require.NoError(t, err)
	require.Len(t, announce, 8)
	assert.Equal(t, []byte{0x00, 0x0A, 0x00, 0x00}, announce[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x03}, announce[4:8])
}
