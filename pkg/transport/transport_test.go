package transport

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenAcceptDialRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "bat_socket")
	l, err := Listen(sock)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan *Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		conn, err := Accept(ctx, l)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	client, err := Dial(sock, 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	var server *Conn
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close()

	require.NotEmpty(t, server.SessionID)
	require.NotEqual(t, server.SessionID, client.SessionID)

	require.NoError(t, client.Send([]byte(`{"hello":"scheduler"}`)))
	got, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, `{"hello":"scheduler"}`, string(got))
}

func TestRequestReply(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "bat_socket")
	l, err := Listen(sock)
	require.NoError(t, err)
	defer l.Close()

	serverReady := make(chan *Conn, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		conn, err := Accept(ctx, l)
		require.NoError(t, err)
		serverReady <- conn
	}()

	client, err := Dial(sock, 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	server := <-serverReady
	defer server.Close()

	go func() {
		req, err := server.Receive()
		require.NoError(t, err)
		require.NoError(t, server.Send(append([]byte("reply:"), req...)))
	}()

	reply, err := client.RequestReply([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, "reply:ping", string(reply))
}

func TestListenRemovesStaleSocketFile(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "bat_socket")
	l1, err := Listen(sock)
	require.NoError(t, err)
	// Keep the socket file on close so the second Listen finds a stale one.
	l1.(*net.UnixListener).SetUnlinkOnClose(false)
	l1.Close()

	l2, err := Listen(sock)
	require.NoError(t, err)
	defer l2.Close()
}

func TestReceiveRejectsOversizedFrame(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "bat_socket")
	l, err := Listen(sock)
	require.NoError(t, err)
	defer l.Close()

	serverReady := make(chan *Conn, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		conn, err := Accept(ctx, l)
		require.NoError(t, err)
		serverReady <- conn
	}()

	client, err := Dial(sock, 2*time.Second)
	require.NoError(t, err)
	defer client.Close()
	server := <-serverReady
	defer server.Close()

	header := []byte{0, 0, 0, 0}
	header[3] = 0xFF // length prefix far beyond maxFrameBytes
	_, err = client.raw.Write(header)
	require.NoError(t, err)

	_, err = server.Receive()
	require.Error(t, err)
}
