// Command webai-client drives a webai server from the terminal, the way the
// browser demos do: it lists workers, sends images and recordings, and holds
// live voice calls from the microphone.
//
// Usage:
//
//	webai-client [-server URL] workers
//	webai-client [-server URL] vlm -image photo.jpg [-prompt "Describe."]
//	webai-client [-server URL] detect -image photo.jpg [-threshold 0.5]
//	webai-client [-server URL] transcribe -wav speech.wav [-language en]
//	webai-client [-server URL] call [-voice af_heart] [-out reply.wav]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/pkg/audio"
	"github.com/MrWong99/webai/pkg/audio/capture"
	"github.com/MrWong99/webai/pkg/client"
	"github.com/MrWong99/webai/pkg/types"
)

// callSampleRate is the rate the conversation worker expects.
const callSampleRate = 16000

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("webai-client", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "base URL of the webai server")
	verbose := fs.Bool("v", false, "log protocol details")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "webai-client: missing command (workers, vlm, detect, transcribe, call)")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "workers":
		err = listWorkers(ctx, *server)
	case "vlm":
		err = runVLM(ctx, *server, rest)
	case "detect":
		err = runDetect(ctx, *server, rest)
	case "transcribe":
		err = runTranscribe(ctx, *server, rest)
	case "call":
		err = runCall(ctx, *server, rest)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintf(os.Stderr, "webai-client: %v\n", err)
		return 1
	}
	return 0
}

func listWorkers(ctx context.Context, server string) error {
	kinds, err := client.ListWorkers(ctx, server)
	if err != nil {
		return err
	}
	for _, k := range kinds {
		fmt.Println(k)
	}
	return nil
}

// connect dials kind and loads it, drawing a progress line on stderr.
func connect(ctx context.Context, server, kind string, opts protocol.LoadOptions) (*client.Client, protocol.StatusData, error) {
	c, err := client.Dial(ctx, server, kind)
	if err != nil {
		return nil, protocol.StatusData{}, err
	}
	ready, err := c.Load(ctx, opts, func(info protocol.ProgressInfo, overall float64) {
		fmt.Fprintf(os.Stderr, "\rloading %-32s %5.1f%%", info.File, overall)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		_ = c.Close()
		return nil, protocol.StatusData{}, err
	}
	slog.Debug("worker ready", "kind", kind, "session_id", c.SessionID())
	return c, ready, nil
}

func readImage(path string) (*protocol.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	pi := protocol.ImageFrom(img)
	return &pi, nil
}

func runVLM(ctx context.Context, server string, args []string) error {
	fs := flag.NewFlagSet("vlm", flag.ContinueOnError)
	imagePath := fs.String("image", "", "image file (png or jpeg)")
	prompt := fs.String("prompt", "Describe this image.", "instruction for the model")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *imagePath == "" {
		return errors.New("vlm: -image is required")
	}
	img, err := readImage(*imagePath)
	if err != nil {
		return err
	}

	c, _, err := connect(ctx, server, "vlm", protocol.LoadOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	msg, err := c.Process(ctx, protocol.ProcessData{Instruction: *prompt, Image: img}, nil)
	if err != nil {
		return err
	}
	var answer string
	if err := client.ResultData(msg, &answer); err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func runDetect(ctx context.Context, server string, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	imagePath := fs.String("image", "", "image file (png or jpeg)")
	threshold := fs.Float64("threshold", 0, "minimum score; 0 keeps the worker default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *imagePath == "" {
		return errors.New("detect: -image is required")
	}
	img, err := readImage(*imagePath)
	if err != nil {
		return err
	}

	c, _, err := connect(ctx, server, "detect", protocol.LoadOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	req := protocol.ProcessData{Image: img}
	if *threshold > 0 {
		req.Threshold = threshold
	}
	msg, err := c.Process(ctx, req, nil)
	if err != nil {
		return err
	}
	var dets []types.Detection
	if err := client.ResultData(msg, &dets); err != nil {
		return err
	}
	for _, d := range dets {
		fmt.Printf("%-16s %.3f  [%.1f %.1f %.1f %.1f]\n", d.Label, d.Score, d.Box.XMin, d.Box.YMin, d.Box.XMax, d.Box.YMax)
	}
	return nil
}

func runTranscribe(ctx context.Context, server string, args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	wavPath := fs.String("wav", "", "WAV recording")
	language := fs.String("language", "", "spoken language, empty for the worker default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *wavPath == "" {
		return errors.New("transcribe: -wav is required")
	}
	raw, err := os.ReadFile(*wavPath)
	if err != nil {
		return err
	}
	samples, rate, err := audio.DecodeWAVMono(raw)
	if err != nil {
		return err
	}
	if rate != callSampleRate {
		samples = audio.Resample(samples, rate, callSampleRate)
	}

	c, _, err := connect(ctx, server, "transcribe", protocol.LoadOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	msg, err := c.Process(ctx, protocol.ProcessData{Audio: samples, Language: *language}, func(od protocol.OutputData) {
		fmt.Fprintf(os.Stderr, "\r%s (%.1f tok/s)", od.Text, od.TPS)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	var text string
	if err := client.ResultData(msg, &text); err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// runCall streams the microphone to the conversation worker until
// interrupted. Replies are printed and, with -out, collected into a WAV file.
func runCall(ctx context.Context, server string, args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	voice := fs.String("voice", "", "TTS voice id")
	out := fs.String("out", "", "write the synthesized replies to this WAV file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, ready, err := connect(ctx, server, "conversation", protocol.LoadOptions{Voice: *voice})
	if err != nil {
		return err
	}
	defer c.Close()
	if len(ready.Voices) > 0 && *voice == "" {
		fmt.Fprintf(os.Stderr, "%d voices available, using the worker default\n", len(ready.Voices))
	}

	mic := capture.New(capture.WithSampleRate(callSampleRate))
	chunks, err := mic.Start(ctx)
	if err != nil {
		return err
	}
	defer mic.Stop()

	if err := c.Send(ctx, protocol.TypeStartCall, nil); err != nil {
		return err
	}

	recvErr := make(chan error, 1)
	recvDone := make(chan struct{})
	var reply []float32
	replyRate := 0
	go func() {
		defer close(recvDone)
		for {
			msg, err := c.Recv(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			switch msg.Type {
			case protocol.TypeOutput:
				var od protocol.OutputData
				if err := msg.Decode(&od); err != nil {
					recvErr <- err
					return
				}
				fmt.Println("assistant:", od.Text)
				reply = append(reply, od.Result...)
				if od.SampleRate > 0 {
					replyRate = od.SampleRate
				}
				// Playback is not rendered locally, so it ends at once.
				_ = c.Send(ctx, protocol.TypePlaybackEnded, nil)
			case protocol.TypeStatus, protocol.TypeInfo:
				var sd protocol.StatusData
				if msg.Decode(&sd) == nil && sd.Message != "" {
					fmt.Fprintln(os.Stderr, "…", sd.Message)
				}
			case protocol.TypeError:
				var ed protocol.ErrorData
				_ = msg.Decode(&ed)
				fmt.Fprintln(os.Stderr, "error:", ed.Message)
			default:
				slog.Debug("ignoring message", "type", msg.Type)
			}
		}
	}()

	fmt.Fprintln(os.Stderr, "call started, press Ctrl+C to hang up")
	var callErr error
loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			if err := c.Send(ctx, protocol.TypeAudio, protocol.AudioData{Buffer: chunk}); err != nil {
				callErr = err
				break loop
			}
		case err := <-recvErr:
			callErr = err
			break loop
		}
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Send(endCtx, protocol.TypeEndCall, nil)
	_ = c.Close()
	<-recvDone

	if *out != "" && len(reply) > 0 && replyRate > 0 {
		if err := os.WriteFile(*out, audio.EncodeWAVFloat32(reply, replyRate), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
	}
	if callErr != nil && ctx.Err() == nil {
		return callErr
	}
	return nil
}
