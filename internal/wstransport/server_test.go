package wstransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

func testServer(t *testing.T, bcryptHash string) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{BcryptHash: bcryptHash}, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(w, r)
	})
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(httpSrv.Close)
	return s, httpSrv
}

func dial(t *testing.T, httpSrv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_AcceptPublishesConnectionOpen(t *testing.T) {
	s, httpSrv := testServer(t, "")
	dial(t, httpSrv, nil)

	select {
	case ev := <-s.Connections():
		if !ev.Open {
			t.Errorf("expected an open event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection open event")
	}
}

func TestServer_IngressReceivesBinaryFrames(t *testing.T) {
	s, httpSrv := testServer(t, "")
	conn := dial(t, httpSrv, nil)
	<-s.Connections()

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("hello")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case in := <-s.Ingress():
		if string(in.Bytes) != "hello" {
			t.Errorf("Bytes = %q, want hello", in.Bytes)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ingress frame")
	}
}

func TestServer_SendWritesToConnection(t *testing.T) {
	s, httpSrv := testServer(t, "")
	conn := dial(t, httpSrv, nil)
	ev := <-s.Connections()

	if err := s.Send(ev.Connection, []byte("world")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(data) != "world" {
		t.Errorf("data = %q, want world", data)
	}
}

func TestServer_SendToUnknownConnectionErrors(t *testing.T) {
	s, _ := testServer(t, "")
	if err := s.Send(999, []byte("x")); err == nil {
		t.Error("expected an error sending to an unknown connection")
	}
}

func TestServer_CloseTriggersConnectionCloseEvent(t *testing.T) {
	s, httpSrv := testServer(t, "")
	dial(t, httpSrv, nil)
	ev := <-s.Connections()

	if err := s.Close(ev.Connection); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case closeEv := <-s.Connections():
		if closeEv.Open {
			t.Errorf("expected a close event, got %+v", closeEv)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection close event")
	}
}

func TestServer_RejectsMissingBearerToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	_, httpSrv := testServer(t, string(hash))

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the dial to fail without a bearer token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v, want 401", resp)
	}
}

func TestServer_AcceptsValidBearerToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	_, httpSrv := testServer(t, string(hash))

	header := http.Header{"Authorization": []string{"Bearer secret-token"}}
	dial(t, httpSrv, header)
}

func TestServer_ConnectionIDsAreDistinct(t *testing.T) {
	s, httpSrv := testServer(t, "")
	dial(t, httpSrv, nil)
	dial(t, httpSrv, nil)

	first := <-s.Connections()
	second := <-s.Connections()
	if first.Connection == second.Connection {
		t.Errorf("expected distinct connection ids, got %v and %v", first.Connection, second.Connection)
	}
}

func TestServer_ShutdownWithoutStartIsNoop(t *testing.T) {
	s := New(Config{}, slog.New(slog.DiscardHandler))
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on unstarted server: %v", err)
	}
}
