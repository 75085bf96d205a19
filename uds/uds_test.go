package uds_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecuflash/canbus"
	"ecuflash/isotp"
	"ecuflash/uds"
)

func newClientPair(t *testing.T) (*uds.Client, canbus.Port) {
	t.Helper()
	a, b := canbus.NewLoopbackPair()
	opts := isotp.Options{SourceID: 0x7E0, DestID: 0x7E8, Timeout: time.Second}
	tx := isotp.New(a, opts, nil)
	client := uds.New(tx, nil)
	return client, b
}

func ecuReply(t *testing.T, ecuPort canbus.Port, ecuID, clientID uint16, payload []byte) {
	t.Helper()
	opts := isotp.Options{SourceID: ecuID, DestID: clientID, Timeout: time.Second}
	rx := isotp.New(ecuPort, opts, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := rx.Recv(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, req)
	require.NoError(t, rx.Send(ctx, payload))
}

func TestRequestSuccessSkeleton(t *testing.T) {
	client, ecuPort := newClientPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ecuReply(t, ecuPort, 0x7E8, 0x7E0, []byte{0x10 + 0x40, 0x01})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.DiagnosticSessionControl(ctx, 0x01)
	<-done
	require.NoError(t, err)
	assert.Empty(t, resp)
}

func TestRequestRetriesOnResponsePending(t *testing.T) {
	client, ecuPort := newClientPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		opts := isotp.Options{SourceID: 0x7E8, DestID: 0x7E0, Timeout: time.Second}
		rx := isotp.New(ecuPort, opts, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		req, err := rx.Recv(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, req)

		require.NoError(t, rx.Send(ctx, []byte{0x7F, 0x22, 0x78}))
		require.NoError(t, rx.Send(ctx, []byte{0x22 + 0x40, 0x01, 0x0A, 0x2A}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := client.ReadDataByIdentifier(ctx, 0x010A)
	<-done
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2A}, resp)
}

func TestRequestNegativeResponse(t *testing.T) {
	client, ecuPort := newClientPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ecuReply(t, ecuPort, 0x7E8, 0x7E0, []byte{0x7F, 0x27, 0x33})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.RequestSeed(ctx)
	<-done
	require.Error(t, err)
	var nre *uds.NegativeResponseError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, byte(0x33), nre.NRC)
}

func TestReadDataByIdentifierStripsEchoedDID(t *testing.T) {
	client, ecuPort := newClientPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ecuReply(t, ecuPort, 0x7E8, 0x7E0, []byte{0x62, 0x01, 0x0A, 0x01, 0x02, 0x03})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.ReadDataByIdentifier(ctx, 0x010A)
	<-done
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, resp)
}

func TestReadMemoryByAddressEncodesAddressAndLength(t *testing.T) {
	client, ecuPort := newClientPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		opts := isotp.Options{SourceID: 0x7E8, DestID: 0x7E0, Timeout: time.Second}
		rx := isotp.New(ecuPort, opts, nil)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		req, err := rx.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, []byte{0x23, 0x00, 0x01, 0x00, 0x00, 0x00, 0x04}, req)

		require.NoError(t, rx.Send(ctx, []byte{0x63, 0xDE, 0xAD, 0xBE, 0xEF}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.ReadMemoryByAddress(ctx, 0x00010000, 4)
	<-done
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, resp)
}

func TestRequestErrorsOnMismatchedSID(t *testing.T) {
	client, ecuPort := newClientPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ecuReply(t, ecuPort, 0x7E8, 0x7E0, []byte{0x99})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.DiagnosticSessionControl(ctx, 0x01)
	<-done
	assert.ErrorIs(t, err, uds.ErrInvalidPacket)
}
