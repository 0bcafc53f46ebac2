package mock

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/asr"
	"github.com/itsmartinwho/foresight-scribe/pkg/errorsx"
	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
)

// ScriptStep is one scripted recognizer event.
type ScriptStep struct {
	Text       string
	Speaker    int
	HasSpeaker bool
	Final      bool
	// CloseCode, when nonzero, ends the connection with this websocket
	// close code instead of emitting a transcript.
	CloseCode int
	// AfterFrames delays the step until this many audio frames arrived.
	AfterFrames int
}

// ASR replays a script of recognition events, advancing as audio frames are
// sent. It lets session tests drive interim results, finals, and socket
// failures deterministically.
type ASR struct {
	mu        sync.Mutex
	script    []ScriptStep
	step      int
	sent      int
	sessionID string
	pts       *frames.PTSGen

	out       chan frames.Frame
	connected atomic.Bool
	closed    atomic.Bool
	once      sync.Once

	ConnectErr error
	connects   atomic.Int32
}

func NewASR(script []ScriptStep) *ASR {
	return &ASR{
		script: script,
		pts:    frames.NewPTSGen(),
		out:    make(chan frames.Frame, 64),
	}
}

func (m *ASR) Name() string { return "mock" }

// Connects reports how many times Connect was called.
func (m *ASR) Connects() int { return int(m.connects.Load()) }

func (m *ASR) Connect(ctx context.Context, sessionID string) error {
	m.connects.Add(1)
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.sessionID = sessionID
	m.connected.Store(true)
	m.emit(frames.NewSystemFrame(sessionID, m.pts.Next(sessionID), frames.SystemSocketOpened, nil))
	m.advance()
	return nil
}

func (m *ASR) SendAudio(f frames.AudioFrame) error {
	if !m.connected.Load() || m.closed.Load() {
		return errorsx.New("send on closed connection", errorsx.ReasonASRSend)
	}
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
	m.advance()
	return nil
}

func (m *ASR) advance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.step < len(m.script) {
		s := m.script[m.step]
		if s.AfterFrames > m.sent {
			return
		}
		m.step++
		if s.CloseCode != 0 {
			m.closeWithCode(s.CloseCode)
			return
		}
		pts := m.pts.Next(m.sessionID)
		if s.HasSpeaker {
			m.emit(frames.NewDiarizedTranscriptFrame(m.sessionID, pts, s.Text, s.Speaker, s.Final, nil))
		} else {
			m.emit(frames.NewTranscriptFrame(m.sessionID, pts, s.Text, s.Final, nil))
		}
	}
}

func (m *ASR) closeWithCode(code int) {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.connected.Store(false)
	m.emit(frames.NewSystemFrame(m.sessionID, m.pts.Next(m.sessionID), frames.SystemSocketClosed,
		map[string]string{frames.MetaCloseCode: strconv.Itoa(code)}))
	m.once.Do(func() { close(m.out) })
}

func (m *ASR) Events() <-chan frames.Frame { return m.out }

func (m *ASR) CloseGraceful(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeWithCode(1000)
	return nil
}

func (m *ASR) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.CompareAndSwap(false, true) {
		m.connected.Store(false)
		m.once.Do(func() { close(m.out) })
	}
	return nil
}

func (m *ASR) emit(f frames.Frame) {
	select {
	case m.out <- f:
	default:
	}
}

var _ asr.StreamingASR = (*ASR)(nil)
