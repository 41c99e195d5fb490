package chat

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Zereker/chat/wire"
)

func TestConn_Send(t *testing.T) {
	conn, peer := newTestConnPair(t)

	go func() {
		_ = conn.Send(wire.OpRecvMessage, map[string]string{
			"sender":  "kevin01",
			"message": "hello",
		})
	}()

	var decoder wire.Decoder
	buf := make([]byte, wire.MaxPacketSize)
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	messages, err := decoder.Feed(buf[:n])
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].Op != wire.OpRecvMessage {
		t.Errorf("op = %v, want %v", messages[0].Op, wire.OpRecvMessage)
	}
	args := wire.ParseData(messages[0].Op, messages[0].Body)
	if args["sender"] != "kevin01" || args["message"] != "hello" {
		t.Errorf("args = %v", args)
	}
}

func TestConn_SendClosed(t *testing.T) {
	conn, _ := newTestConnPair(t)
	conn.Close()

	err := conn.Send(wire.OpLogOffResponse, map[string]string{"status": StatusSuccess})
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestConn_SendEncodingError(t *testing.T) {
	conn, _ := newTestConnPair(t)

	err := conn.Send(wire.OpCreateAccountResponse, nil)
	if !errors.Is(err, wire.ErrMissingArgument) {
		t.Errorf("err = %v, want ErrMissingArgument", err)
	}
}

// TestConn_ExclusiveSend writes large multi-packet messages from two
// goroutines and verifies the packets of one logical message are never
// interleaved with the other's on the stream.
func TestConn_ExclusiveSend(t *testing.T) {
	conn, peer := newTestConnPair(t)

	bodyA := strings.Repeat("a", 3*wire.MaxChunkSize)
	bodyB := strings.Repeat("b", 3*wire.MaxChunkSize)

	var wg sync.WaitGroup
	for _, body := range []string{bodyA, bodyB} {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			if err := conn.Send(wire.OpRecvMessage, map[string]string{
				"sender":  "kevin01",
				"message": body,
			}); err != nil {
				t.Errorf("Send failed: %v", err)
			}
		}(body)
	}

	received := make(chan wire.Message, 2)
	go func() {
		var decoder wire.Decoder
		buf := make([]byte, wire.MaxPacketSize)
		for {
			_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := peer.Read(buf)
			if err != nil {
				return
			}
			messages, err := decoder.Feed(buf[:n])
			if err != nil {
				return
			}
			for _, message := range messages {
				received <- message
			}
		}
	}()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case message := <-received:
			args := wire.ParseData(message.Op, message.Body)
			got[args["message"]] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for messages")
		}
	}
	wg.Wait()

	if !got[bodyA] || !got[bodyB] {
		t.Error("a logical message arrived corrupted or interleaved")
	}
}

func TestConn_MessageIDsIncrease(t *testing.T) {
	conn, peer := newTestConnPair(t)

	go func() {
		for i := 0; i < 3; i++ {
			_ = conn.Send(wire.OpLogOffResponse, map[string]string{"status": StatusSuccess})
		}
	}()

	var headers []wire.Header
	buf := make([]byte, wire.MaxPacketSize)
	pending := []byte{}
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(headers) < 3 {
		n, err := peer.Read(buf)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		pending = append(pending, buf[:n]...)
		for len(pending) >= wire.MetadataSize {
			header := wire.ParseHeader(pending)
			if len(pending) < wire.MetadataSize+header.PayloadSize {
				break
			}
			headers = append(headers, header)
			pending = pending[wire.MetadataSize+header.PayloadSize:]
		}
	}

	for i := 1; i < len(headers); i++ {
		if headers[i].MessageID != headers[i-1].MessageID+1 {
			t.Errorf("message ids not increasing: %d then %d",
				headers[i-1].MessageID, headers[i].MessageID)
		}
	}
}

func TestConn_ID(t *testing.T) {
	a, _ := net.Pipe()
	b, _ := net.Pipe()
	connA := newConn(a, nopLogger{}, 0)
	connB := newConn(b, nopLogger{}, 0)
	defer connA.Close()
	defer connB.Close()

	if connA.ID() == "" || connA.ID() == connB.ID() {
		t.Errorf("connection tokens not unique: %q vs %q", connA.ID(), connB.ID())
	}
}
