package gateway

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

const liveInputMIMEType = "audio/pcm;rate=16000"

func (g *Gemini) OpenLive(ctx context.Context, cfg LiveConfig, cb LiveCallbacks) (LiveSession, error) {
	sess, err := g.client.Live.Connect(ctx, g.cfg.LiveModel, &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		SystemInstruction:        genai.NewContentFromText(cfg.Instruction, genai.RoleUser),
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, classify(ctx, "live_connect", err)
	}
	l := &geminiLive{sess: sess, cb: cb}
	go l.receive()
	return l, nil
}

type geminiLive struct {
	sess *genai.Session
	cb   LiveCallbacks

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func (l *geminiLive) SendAudioFrame(pcm []byte) error {
	if l.closed.Load() {
		return &Error{Op: "live_send", Kind: ErrNetwork, Err: errors.New("session closed")}
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	err := l.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: liveInputMIMEType},
	})
	if err != nil {
		return classify(context.Background(), "live_send", err)
	}
	return nil
}

func (l *geminiLive) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		err = l.sess.Close()
	})
	return err
}

// receive pumps server messages into callbacks until the socket ends.
// Output transcription fragments are joined per model turn.
func (l *geminiLive) receive() {
	opened := false
	var said strings.Builder
	flush := func() {
		text := strings.TrimSpace(said.String())
		said.Reset()
		if text != "" && l.cb.OnTranscription != nil {
			l.cb.OnTranscription(text)
		}
	}
	defer func() {
		if l.cb.OnClose != nil {
			l.cb.OnClose()
		}
	}()

	for {
		msg, err := l.sess.Receive()
		if err != nil {
			flush()
			if l.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if l.cb.OnError != nil {
				l.cb.OnError(classify(context.Background(), "live_receive", err))
			}
			return
		}
		if !opened {
			opened = true
			if l.cb.OnOpen != nil {
				l.cb.OnOpen()
			}
		}
		if msg.GoAway != nil {
			log.Printf("gateway: live session go-away received")
		}
		sc := msg.ServerContent
		if sc == nil {
			continue
		}
		if sc.ModelTurn != nil && l.cb.OnAudioChunk != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
					l.cb.OnAudioChunk(p.InlineData.Data)
				}
			}
		}
		if sc.OutputTranscription != nil {
			said.WriteString(sc.OutputTranscription.Text)
		}
		if sc.Interrupted {
			flush()
			if l.cb.OnInterrupted != nil {
				l.cb.OnInterrupted()
			}
		}
		if sc.TurnComplete {
			flush()
		}
	}
}
