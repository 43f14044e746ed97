package jetstream

import (
	"net"
	"testing"
	"time"
)

func TestStream_ReadExactly_ByteAccuracy(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewStream(server)
	defer s.Close()

	want := []byte("hello, jetstream")
	chunks := [][]byte{want[:3], want[3:8], want[8:]}
	go func() {
		for _, c := range chunks {
			client.Write(c)
		}
	}()

	got, err := s.ReadExactly(len(want))
	if err != nil {
		t.Fatalf("ReadExactly: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStream_ReadExactly_RejectsConcurrentCalls(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewStream(server)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadExactly(4)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the first read claim readInFlight

	if _, err := s.ReadExactly(4); err != ErrReadInFlight {
		t.Errorf("expected ErrReadInFlight, got %v", err)
	}

	client.Write([]byte("abcd"))
	if err := <-errCh; err != nil {
		t.Fatalf("first ReadExactly: %v", err)
	}
}

func TestStream_WriteDeliversBytesAndCompletion(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewStream(server)
	defer s.Close()

	done := make(chan struct{})
	if err := s.Write([]byte("pong"), func() { close(done) }); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf) != "pong" {
		t.Errorf("got %q, want %q", buf, "pong")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write completion")
	}
}

func TestStream_WriteVectoredCombinesPieces(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewStream(server)
	defer s.Close()

	if err := s.WriteVectored([][]byte{[]byte("foo"), []byte("bar"), []byte("baz")}, nil); err != nil {
		t.Fatalf("WriteVectored: %v", err)
	}

	buf := make([]byte, 9)
	n := 0
	for n < len(buf) {
		m, err := client.Read(buf[n:])
		if err != nil {
			t.Fatalf("client read: %v", err)
		}
		n += m
	}
	if string(buf) != "foobarbaz" {
		t.Errorf("got %q, want %q", buf, "foobarbaz")
	}
}

func TestStream_CloseCallbackFiresOnce(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer client.Close()

	s := NewStream(server)
	count := 0
	s.SetCloseCallback(func() { count++ })

	s.Close()
	s.Close()

	if count != 1 {
		t.Errorf("expected close callback to fire exactly once, got %d", count)
	}
	if !s.Closed() {
		t.Error("expected stream to report closed")
	}
}

func TestStream_ClosesOnPeerEOF(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer server.Close()

	s := NewStream(server)
	done := make(chan struct{})
	s.SetCloseCallback(func() { close(done) })

	client.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close callback after peer EOF")
	}
}

func TestStream_OverflowClosesStream(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// max_buffer_size isn't a multiple of read_chunk_size so the post-append
	// overflow check (not the pre-read "already full" pause) is what fires:
	// three 300-byte chunks land at 900 (< 1000, read proceeds), the fourth
	// pushes the total to 1200 and trips the cap.
	s := NewStream(server, WithMaxBufferSize(1000), WithReadChunkSize(300))
	done := make(chan struct{})
	s.SetCloseCallback(func() { close(done) })

	go func() {
		payload := make([]byte, 300)
		for i := 0; i < 4; i++ {
			if _, err := client.Write(payload); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected stream to close after exceeding max buffer size")
	}
	if !s.Closed() {
		t.Error("expected stream to be closed")
	}
}
