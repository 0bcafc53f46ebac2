package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/asr"
	"github.com/itsmartinwho/foresight-scribe/pkg/errorsx"
	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
	"github.com/itsmartinwho/foresight-scribe/pkg/logging"
	"github.com/itsmartinwho/foresight-scribe/pkg/redact"
)

const (
	defaultHost      = "wss://api.deepgram.com/v1/listen"
	keepAliveEvery   = 5 * time.Second
	eventBuffer      = 256
	gracefulDeadline = 3 * time.Second
)

// Options configures a live recognition connection.
type Options struct {
	APIKey   string
	Endpoint string // override for tests; defaults to the Deepgram listen URL
	ASR      asr.Config
	Logger   *slog.Logger
	PTS      *frames.PTSGen
}

// Client streams PCM audio over a websocket to the Deepgram live API and
// yields transcript frames as recognition events arrive.
//
// The API key travels only in the websocket subprotocol header; it is never
// placed in the URL and never logged.
type Client struct {
	opts      Options
	log       *slog.Logger
	pts       *frames.PTSGen
	sessionID string

	conn    *websocket.Conn
	writeMu sync.Mutex

	out    chan frames.Frame
	closed atomic.Bool
	done   chan struct{}

	stopKeepAlive chan struct{}
}

func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultHost
	}
	if opts.PTS == nil {
		opts.PTS = frames.NewPTSGen()
	}
	return &Client{
		opts:          opts,
		log:           logging.NewComponentLogger(opts.Logger, "deepgram"),
		pts:           opts.PTS,
		out:           make(chan frames.Frame, eventBuffer),
		done:          make(chan struct{}),
		stopKeepAlive: make(chan struct{}),
	}
}

func (c *Client) Name() string { return "deepgram" }

func (c *Client) Connect(ctx context.Context, sessionID string) error {
	if c.opts.APIKey == "" {
		return errorsx.New("deepgram api key is empty", errorsx.ReasonASRConnect)
	}
	c.sessionID = sessionID

	u, err := buildURL(c.opts.Endpoint, c.opts.ASR)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonASRConnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"token", c.opts.APIKey},
	}
	conn, resp, err := dialer.DialContext(ctx, u, http.Header{})
	if err != nil {
		if resp != nil {
			return errorsx.Wrap(fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode), errorsx.ReasonASRConnect)
		}
		return errorsx.Wrap(fmt.Errorf("dial: %w", err), errorsx.ReasonASRConnect)
	}
	c.conn = conn

	c.log.Info("connected", "session_id", sessionID, "model", c.opts.ASR.Model)
	c.emit(frames.NewSystemFrame(sessionID, c.pts.Next(sessionID), frames.SystemSocketOpened, nil))

	go c.readLoop()
	go c.keepAliveLoop()
	return nil
}

func (c *Client) SendAudio(f frames.AudioFrame) error {
	if c.closed.Load() {
		return errorsx.New("send on closed connection", errorsx.ReasonASRSend)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errorsx.New("send before connect", errorsx.ReasonASRSend)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, f.RawPayload()); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonASRSend)
	}
	return nil
}

func (c *Client) Events() <-chan frames.Frame { return c.out }

// CloseGraceful asks the recognizer to flush buffered audio, then performs a
// normal websocket close and waits for the read loop to drain trailing
// results.
func (c *Client) CloseGraceful(ctx context.Context) error {
	if c.conn == nil || c.closed.Load() {
		return nil
	}
	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	if err == nil {
		deadline := time.Now().Add(gracefulDeadline)
		err = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
	}
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
	case <-time.After(gracefulDeadline):
	}
	return c.Close()
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopKeepAlive)
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.out)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			if !c.closed.Load() {
				c.log.Info("socket closed", "session_id", c.sessionID, "code", code, "reason", reason)
			}
			c.emit(frames.NewSystemFrame(c.sessionID, c.pts.Next(c.sessionID), frames.SystemSocketClosed,
				map[string]string{
					frames.MetaCloseCode:   strconv.Itoa(code),
					frames.MetaCloseReason: reason,
				}))
			return
		}
		c.handleMessage(payload)
	}
}

func (c *Client) handleMessage(payload []byte) {
	var msg resultMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warn("dropping malformed recognizer message",
			"session_id", c.sessionID,
			"reason", errorsx.ReasonASRProtocol,
			"payload", redact.Text(snippet(payload)),
			"error", err)
		return
	}
	switch msg.Type {
	case "Results":
		c.handleResults(msg)
	case "UtteranceEnd", "SpeechStarted", "Metadata":
		// lifecycle chatter, nothing to assemble
	default:
		c.log.Debug("unhandled message type", "type", msg.Type)
	}
}

func (c *Client) handleResults(msg resultMessage) {
	if len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}
	pts := c.pts.Next(c.sessionID)
	meta := map[string]string{frames.MetaIsFinal: strconv.FormatBool(msg.IsFinal)}
	if speaker, ok := firstSpeaker(alt.Words); ok {
		c.emit(frames.NewDiarizedTranscriptFrame(c.sessionID, pts, alt.Transcript, speaker, msg.IsFinal, meta))
		return
	}
	c.emit(frames.NewTranscriptFrame(c.sessionID, pts, alt.Transcript, msg.IsFinal, meta))
}

func (c *Client) keepAliveLoop() {
	t := time.NewTicker(keepAliveEvery)
	defer t.Stop()
	for {
		select {
		case <-c.stopKeepAlive:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
			c.log.Debug("keepalive sent", "session_id", c.sessionID)
		}
	}
}

func (c *Client) emit(f frames.Frame) {
	select {
	case c.out <- f:
	default:
		c.log.Warn("event channel full, dropping frame", "session_id", c.sessionID, "kind", f.Kind())
	}
}

func buildURL(endpoint string, cfg asr.Config) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimEvents))
	q.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	q.Set("diarize", strconv.FormatBool(cfg.Diarize))
	if cfg.UtteranceEnd > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEnd))
	}
	q.Set("endpointing", "false")
	q.Set("vad_events", "true")
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	if cfg.Channels > 1 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IsCleanClose reports whether a websocket close code means the recognizer
// finished normally. Anything else warrants a reconnect attempt.
func IsCleanClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}

func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

func snippet(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func firstSpeaker(words []wordInfo) (int, bool) {
	for _, w := range words {
		if w.Speaker != nil {
			return *w.Speaker, true
		}
	}
	return 0, false
}

type resultMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string     `json:"transcript"`
			Words      []wordInfo `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type wordInfo struct {
	Word    string `json:"word"`
	Speaker *int   `json:"speaker"`
}

var _ asr.StreamingASR = (*Client)(nil)
