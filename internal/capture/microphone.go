package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/stt"
	"github.com/mattn/go-shellwords"
)

const chunkDuration = 30 * time.Millisecond

// Microphone records one utterance per Listen call from an ffmpeg PCM
// stream. Each call samples ambient noise first to set the speech threshold.
type Microphone struct {
	cfg  config.CaptureConfig
	log  *slog.Logger
	open func(ctx context.Context) (io.ReadCloser, error)
}

func NewMicrophone(cfg config.CaptureConfig, log *slog.Logger) (*Microphone, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	command, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(command) == 0 {
		command = []string{"ffmpeg"}
	}

	m := &Microphone{cfg: cfg, log: log.With(slog.String("component", "microphone"))}
	m.open = func(ctx context.Context) (io.ReadCloser, error) {
		return startFFmpeg(ctx, command, cfg)
	}
	return m, nil
}

func (m *Microphone) Listen(ctx context.Context) (Utterance, error) {
	stream, err := m.open(ctx)
	if err != nil {
		return Utterance{}, fmt.Errorf("%w: %v", stt.ErrUnavailable, err)
	}
	defer stream.Close()

	frameBytes := 2 * m.cfg.Channels
	chunk := make([]byte, int(chunkDuration.Seconds()*float64(m.cfg.SampleRate))*frameBytes)

	threshold, err := m.calibrate(stream, chunk)
	if err != nil {
		return Utterance{}, err
	}

	seg := &segmenter{
		threshold:   threshold,
		minSpeech:   ms(m.cfg.MinSpeechMS),
		maxPhrase:   ms(m.cfg.MaxPhraseMS),
		silence:     ms(m.cfg.SilenceMS),
		listenLimit: ms(m.cfg.ListenTimeoutMS),
	}
	var phrase bytes.Buffer
	for {
		if err := ctx.Err(); err != nil {
			return Utterance{}, err
		}
		n, readErr := io.ReadFull(stream, chunk)
		if n > 0 {
			data := chunk[:n-n%frameBytes]
			switch seg.push(rmsS16LE(data), m.durationOf(len(data))) {
			case segWaiting:
				phrase.Reset()
			case segSpeaking:
				phrase.Write(data)
			case segDone:
				phrase.Write(data)
				return m.utterance(phrase.Bytes()), nil
			case segTimedOut:
				return Utterance{}, fmt.Errorf("%w: no speech within %s", stt.ErrNoSpeech, seg.listenLimit)
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return Utterance{}, ctx.Err()
			}
			if seg.inSpeech && seg.speech >= seg.minSpeech {
				return m.utterance(phrase.Bytes()), nil
			}
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return Utterance{}, fmt.Errorf("%w: capture stream ended", stt.ErrUnavailable)
			}
			return Utterance{}, fmt.Errorf("%w: read capture stream: %v", stt.ErrUnavailable, readErr)
		}
	}
}

// calibrate reads CalibrateMS of ambient audio. A configured energy
// threshold acts as the floor.
func (m *Microphone) calibrate(stream io.Reader, chunk []byte) (float64, error) {
	floor := m.cfg.EnergyThreshold
	if floor <= 0 {
		floor = minEnergyThreshold
	}
	want := ms(m.cfg.CalibrateMS)
	if want <= 0 {
		return floor, nil
	}
	var sum float64
	var count int
	for elapsed := time.Duration(0); elapsed < want; {
		n, err := io.ReadFull(stream, chunk)
		if err != nil {
			return 0, fmt.Errorf("%w: calibrate: %v", stt.ErrUnavailable, err)
		}
		sum += rmsS16LE(chunk[:n])
		count++
		elapsed += m.durationOf(n)
	}
	threshold := ambientThreshold(sum/float64(count), floor)
	m.log.Debug("calibrated", slog.Float64("threshold", threshold))
	return threshold, nil
}

func (m *Microphone) durationOf(n int) time.Duration {
	frames := n / (2 * m.cfg.Channels)
	return time.Duration(frames) * time.Second / time.Duration(m.cfg.SampleRate)
}

func (m *Microphone) utterance(pcm []byte) Utterance {
	return Utterance{
		PCM:        append([]byte(nil), pcm...),
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func startFFmpeg(ctx context.Context, command []string, cfg config.CaptureConfig) (io.ReadCloser, error) {
	args := append([]string{}, command[1:]...)
	args = append(args,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	)

	// ffmpeg writes into a pipe we own, so Wait never closes the read end
	// while audio is still buffered in it.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	_ = pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()
	return &ffmpegStream{stdout: pr, process: cmd.Process, waitErr: waitErr}, nil
}

type ffmpegStream struct {
	stdout  io.ReadCloser
	process *os.Process
	waitErr <-chan error

	closeOnce sync.Once
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close interrupts ffmpeg and kills it if it does not exit promptly.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)
		select {
		case <-s.waitErr:
		case <-time.After(1200 * time.Millisecond):
			_ = s.process.Kill()
			<-s.waitErr
		}
		_ = s.stdout.Close()
	})
	return nil
}
