package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/asr"
	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
)

func testConfig() asr.Config {
	return asr.Config{
		Model:         "nova-2",
		Language:      "en-US",
		SampleRate:    16000,
		Channels:      1,
		Encoding:      "linear16",
		Diarize:       true,
		Punctuate:     true,
		SmartFormat:   true,
		InterimEvents: true,
		UtteranceEnd:  3000,
	}
}

func TestBuildURLParams(t *testing.T) {
	u, err := buildURL("wss://api.deepgram.com/v1/listen", testConfig())
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	for _, want := range []string{
		"model=nova-2",
		"diarize=true",
		"interim_results=true",
		"smart_format=true",
		"punctuate=true",
		"utterance_end_ms=3000",
		"endpointing=false",
		"encoding=linear16",
		"sample_rate=16000",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("url missing %q: %s", want, u)
		}
	}
	if strings.Contains(u, "token") {
		t.Errorf("url must not carry credentials: %s", u)
	}
}

func TestIsCleanClose(t *testing.T) {
	if !IsCleanClose(1000) || !IsCleanClose(1001) {
		t.Error("1000 and 1001 are clean closes")
	}
	if IsCleanClose(1006) || IsCleanClose(1011) {
		t.Error("abnormal codes are not clean")
	}
}

func newTestServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{
		Subprotocols: []string{"token"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collect(t *testing.T, c *Client, n int, within time.Duration) []frames.Frame {
	t.Helper()
	var got []frames.Frame
	deadline := time.After(within)
	for len(got) < n {
		select {
		case f, ok := <-c.Events():
			if !ok {
				return got
			}
			got = append(got, f)
		case <-deadline:
			t.Fatalf("timed out after %d of %d frames", len(got), n)
		}
	}
	return got
}

func TestClientEmitsTranscriptFrames(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn) {
		msgs := []string{
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"patient pres"}]}}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Patient presents with chest pain.","words":[{"word":"patient","speaker":0}]}]}}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})

	c := New(Options{APIKey: "test-key", Endpoint: wsURL(srv), ASR: testConfig()})
	if err := c.Connect(context.Background(), "s1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	got := collect(t, c, 4, 3*time.Second)

	if sys, ok := got[0].(frames.SystemFrame); !ok || sys.Name() != frames.SystemSocketOpened {
		t.Fatalf("want socket_opened first, got %#v", got[0])
	}
	interim, ok := got[1].(frames.TranscriptFrame)
	if !ok || interim.Final() {
		t.Fatalf("want interim transcript, got %#v", got[1])
	}
	final, ok := got[2].(frames.TranscriptFrame)
	if !ok || !final.Final() {
		t.Fatalf("want final transcript, got %#v", got[2])
	}
	if sp, has := final.Speaker(); !has || sp != 0 {
		t.Errorf("want speaker 0 on final, got %d (%v)", sp, has)
	}
	closed, ok := got[3].(frames.SystemFrame)
	if !ok || closed.Name() != frames.SystemSocketClosed {
		t.Fatalf("want socket_closed last, got %#v", got[3])
	}
	if closed.Meta()[frames.MetaCloseCode] != "1000" {
		t.Errorf("want close code 1000, got %q", closed.Meta()[frames.MetaCloseCode])
	}
}

func TestClientDropsMalformedMessages(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"still alive"}]}}`))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})

	c := New(Options{APIKey: "test-key", Endpoint: wsURL(srv), ASR: testConfig()})
	if err := c.Connect(context.Background(), "s1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	got := collect(t, c, 3, 3*time.Second)
	tf, ok := got[1].(frames.TranscriptFrame)
	if !ok || tf.Text() != "still alive" {
		t.Fatalf("malformed message should not kill the stream, got %#v", got[1])
	}
}

func TestClientAbnormalCloseCode(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn) {
		// Drop the TCP connection without a close handshake.
		conn.UnderlyingConn().Close()
	})

	c := New(Options{APIKey: "test-key", Endpoint: wsURL(srv), ASR: testConfig()})
	if err := c.Connect(context.Background(), "s1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	got := collect(t, c, 2, 3*time.Second)
	closed, ok := got[1].(frames.SystemFrame)
	if !ok || closed.Name() != frames.SystemSocketClosed {
		t.Fatalf("want socket_closed, got %#v", got[1])
	}
	if closed.Meta()[frames.MetaCloseCode] != "1006" {
		t.Errorf("want abnormal close code 1006, got %q", closed.Meta()[frames.MetaCloseCode])
	}
}

func TestConnectRequiresKey(t *testing.T) {
	c := New(Options{Endpoint: "ws://localhost:1", ASR: testConfig()})
	if err := c.Connect(context.Background(), "s1"); err == nil {
		t.Fatal("want error for empty api key")
	}
}
