package jobcentre

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func newTestSessionPair(t *testing.T, store *Store) (client net.Conn, sess *ClientSession, done <-chan struct{}) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess = NewClientSession(serverConn, store, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		defer func() { _ = serverConn.Close() }()
		sess.Serve(ctx)
	}()

	return clientConn, sess, doneCh
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestClientSessionPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore()
	client, _, _ := newTestSessionPair(t, store)
	reader := bufio.NewReader(client)

	sendLine(t, client, `{"request":"put","queue":"q","pri":1,"job":{"x":1}}`)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var putResp jobResponse
	if err := json.Unmarshal([]byte(line), &putResp); err != nil {
		t.Fatalf("Unmarshal(%q): %v", line, err)
	}
	if putResp.Status != statusOK || putResp.ID == 0 {
		t.Fatalf("put response = %+v, want ok with a nonzero id", putResp)
	}

	sendLine(t, client, `{"request":"get","queues":["q"]}`)
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var getResp jobResponse
	if err := json.Unmarshal([]byte(line), &getResp); err != nil {
		t.Fatalf("Unmarshal(%q): %v", line, err)
	}
	if getResp.Status != statusOK || getResp.ID != putResp.ID || getResp.Queue != "q" || getResp.Pri != 1 {
		t.Errorf("get response = %+v, want ok id=%d queue=q pri=1", getResp, putResp.ID)
	}

	sendLine(t, client, `{"request":"get","queues":["q"]}`)
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var emptyResp jobResponse
	if err := json.Unmarshal([]byte(line), &emptyResp); err != nil {
		t.Fatalf("Unmarshal(%q): %v", line, err)
	}
	if emptyResp.Status != statusNoJob {
		t.Errorf("second get response = %+v, want no-job", emptyResp)
	}
}

func TestClientSessionMalformedLineKeepsConnectionOpen(t *testing.T) {
	t.Parallel()

	store := NewStore()
	client, _, _ := newTestSessionPair(t, store)
	reader := bufio.NewReader(client)

	sendLine(t, client, `{nope`)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var resp jobResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Unmarshal(%q): %v", line, err)
	}
	if resp.Status != statusError {
		t.Errorf("response = %+v, want error", resp)
	}

	// The connection must still be usable for the next line (spec §8
	// Job-5).
	sendLine(t, client, `{"request":"abort","id":999}`)
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString after malformed line: %v", err)
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Unmarshal(%q): %v", line, err)
	}
	if resp.Status != statusNoJob {
		t.Errorf("abort of unowned id response = %+v, want no-job", resp)
	}
}

func TestClientSessionDisconnectReclaimsOwnedJobs(t *testing.T) {
	t.Parallel()

	store := NewStore()
	id := store.Put("q", 1, json.RawMessage(`1`))

	client, _, done := newTestSessionPair(t, store)
	reader := bufio.NewReader(client)

	sendLine(t, client, `{"request":"get","queues":["q"]}`)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var resp jobResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Unmarshal(%q): %v", line, err)
	}
	if resp.Status != statusOK || resp.ID != id {
		t.Fatalf("get response = %+v, want ok id=%d", resp, id)
	}

	_ = client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session never finished after client disconnect")
	}

	job, ok := store.Get(context.Background(), []string{"q"}, false, new(int))
	if !ok || job.ID != id {
		t.Errorf("job should be reclaimed and retrievable again, got %+v ok=%v", job, ok)
	}
}

func TestClientSessionDisconnectDuringBlockingGetUnregistersWaiter(t *testing.T) {
	t.Parallel()

	store := NewStore()
	client, _, done := newTestSessionPair(t, store)

	sendLine(t, client, `{"request":"get","queues":["q"],"wait":true}`)

	// Give the session a moment to actually park inside store.Get as a
	// registered waiter before disconnecting.
	waitForWaiterCount(t, store, "q", 1)

	_ = client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session never finished after client disconnect during blocking get")
	}

	waitForWaiterCount(t, store, "q", 0)

	// A job put after the disconnect must not be silently handed to the
	// dead session; it must remain available to a fresh Get.
	id := store.Put("q", 1, json.RawMessage(`1`))
	job, ok := store.Get(context.Background(), []string{"q"}, false, new(int))
	if !ok || job.ID != id {
		t.Errorf("job put after disconnect should be retrievable, got %+v ok=%v", job, ok)
	}
}

func waitForWaiterCount(t *testing.T, store *Store, queue string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.WaiterCount(queue) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waiter count for queue %q never reached %d", queue, want)
}
