// Command sahayak-voice runs one assistant session against the local
// microphone and speaker. Lines typed on stdin are sent as text messages;
// lines starting with a slash are commands (see /help).
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ent0n29/sahayak/internal/app"
	"github.com/ent0n29/sahayak/internal/assistant"
	"github.com/ent0n29/sahayak/internal/audio"
	"github.com/ent0n29/sahayak/internal/config"
	"github.com/ent0n29/sahayak/internal/language"
	"github.com/ent0n29/sahayak/internal/transcript"
	"github.com/ent0n29/sahayak/internal/voice"
)

const helpText = `commands:
  /voice               switch to a live voice conversation
  /text                return to text mode
  /record              start recording a voice message
  /stop                stop recording and send the clip
  /cancel              discard the current recording
  /lang <code>         change the response language (EN, HI, TA, ...)
  /guide <title> | <procedure>
                       explain a procedure from the current page
  /dismiss             clear the guidance context
  /export [dir]        write the transcript to a text file
  /status              print the session state
  /quit                end the session`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("sahayak-voice: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	gw, info, err := app.NewGateway(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := gw.(io.Closer); ok {
		defer c.Close()
	}
	log.Printf("assistant gateway: %s", info.Detail)

	mic, err := voice.NewMalgoMicrophone()
	if err != nil {
		return err
	}
	defer mic.Close()

	var speaker audio.OutputDevice
	if sp, err := voice.NewOtoSpeaker(); err != nil {
		log.Printf("speaker unavailable, voice replies will be silent: %v", err)
	} else {
		speaker = sp
	}

	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}

	sess := assistant.New(assistant.Config{
		Gateway:        gw,
		Capture:        audio.NewCapture(mic),
		Speaker:        speaker,
		Language:       cfg.DefaultLanguage,
		OneShotTimeout: cfg.GatewayOneShotTimeout,
		Location:       loc,
		Hooks:          consoleHooks(out),
	})
	defer sess.Close()
	sess.Open()

	fmt.Fprintln(out, "type a message, or /help for commands")
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(sess, line, out, loc)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(sess *assistant.Session, line string, out io.Writer, loc *time.Location) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, sess.SendText(line)
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, helpText)
	case "voice":
		return false, sess.SwitchToVoice()
	case "text":
		return false, sess.SwitchToText()
	case "record":
		return false, sess.StartTextRecording()
	case "stop":
		return false, sess.StopTextRecording()
	case "cancel":
		return false, sess.CancelTextRecording()
	case "lang":
		code, ok := language.Parse(arg)
		if !ok {
			return false, fmt.Errorf("unknown language %q", arg)
		}
		sess.UpdateLanguage(code)
	case "guide":
		title, procedure, _ := strings.Cut(arg, "|")
		return false, sess.ExternalGuidanceTrigger(strings.TrimSpace(title), strings.TrimSpace(procedure))
	case "dismiss":
		sess.DismissGuidance()
	case "export":
		path, err := exportTranscript(sess, arg, time.Now().In(loc))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "transcript written to %s\n", path)
	case "status":
		snap := sess.Snapshot()
		fmt.Fprintf(out, "state=%s mode=%s connection=%s language=%s entries=%d\n",
			snap.State, snap.Mode, snap.Connection, snap.LanguageLabel, snap.Entries)
	default:
		return false, fmt.Errorf("unknown command /%s", cmd)
	}
	return false, nil
}

func exportTranscript(sess *assistant.Session, dir string, now time.Time) (string, error) {
	if len(sess.Transcript()) == 0 {
		return "", errors.New("transcript is empty")
	}
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, transcript.Filename(now))
	if err := os.WriteFile(path, []byte(sess.Export(now)), 0o644); err != nil {
		return "", fmt.Errorf("export transcript: %w", err)
	}
	return path, nil
}

func consoleHooks(out io.Writer) assistant.Hooks {
	var last assistant.State
	return assistant.Hooks{
		OnState: func(snap assistant.Snapshot) {
			if snap.State == last {
				return
			}
			last = snap.State
			fmt.Fprintf(out, "[%s]\n", snap.State)
		},
		OnEntry: func(e transcript.Entry) {
			fmt.Fprintf(out, "%s: %s\n", e.Speaker, e.Content())
		},
		OnNotice: func(n assistant.Notice) {
			fmt.Fprintf(out, "! %s: %s\n", n.Kind, n.Message)
		},
		OnInterrupted: func(stopped int) {
			fmt.Fprintf(out, "(playback interrupted, %d chunks dropped)\n", stopped)
		},
		OnGatewayReply: func(op string, latency time.Duration, err error) {
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("gateway %s failed after %s: %v", op, latency.Round(time.Millisecond), err)
			}
		},
	}
}
