package audioio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// command describes an external recorder or player reading/writing raw
// PCM16 little-endian on stdio.
type command struct {
	name string
	args []string
}

func captureCommand(backend Backend, cfg Config) command {
	rate, ch := strconv.Itoa(cfg.SampleRate), strconv.Itoa(cfg.Channels)
	if backend == BackendCoreAudio {
		args := []string{"-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", ch, "-"}
		return command{name: "rec", args: args}
	}
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return command{name: "arecord", args: args}
}

func playbackCommand(backend Backend, cfg Config) command {
	rate, ch := strconv.Itoa(cfg.SampleRate), strconv.Itoa(cfg.Channels)
	if backend == BackendCoreAudio {
		args := []string{"-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", ch, "-"}
		return command{name: "play", args: args}
	}
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return command{name: "aplay", args: args}
}

// ExecSource captures audio by reading the stdout of arecord (Linux) or
// sox rec (macOS).
type ExecSource struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newExecSource(backend Backend, cfg Config, logger *slog.Logger) (*ExecSource, error) {
	c := captureCommand(backend, cfg)
	if _, err := exec.LookPath(c.name); err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrDeviceUnavailable, c.name)
	}
	return &ExecSource{
		cfg:      cfg,
		backend:  backend,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

// Start launches the recorder process.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	c := captureCommand(s.backend, s.cfg)
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.name, err)
	}

	s.cmd = cmd
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)
	go s.readLoop(stdout, s.streamCh)

	s.logger.Info("exec audio source started", "command", c.name, "device", s.cfg.Device)
	return nil
}

func (s *ExecSource) readLoop(r io.Reader, out chan AudioChunk) {
	defer close(out)

	br := bufio.NewReaderSize(r, s.cfg.BufferBytes()*4)
	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("exec source read ended", "error", err)
			}
			return
		}

		var chunk AudioChunk
		chunk.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop kills the recorder process.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil

	s.logger.Info("exec audio source stopped")
	return nil
}

// Read reads the next audio chunk.
func (s *ExecSource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *ExecSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *ExecSource) Config() Config { return s.cfg }

// Name returns the backend name.
func (s *ExecSource) Name() string { return string(s.backend) }

// Close releases resources.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(s.backend),
	}
}

var _ SourceWithStats = (*ExecSource)(nil)

// ExecSink plays audio by writing to the stdin of aplay (Linux) or
// sox play (macOS). Clear restarts the process to drop buffered audio.
type ExecSink struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

func newExecSink(backend Backend, cfg Config, logger *slog.Logger) (*ExecSink, error) {
	c := playbackCommand(backend, cfg)
	if _, err := exec.LookPath(c.name); err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrDeviceUnavailable, c.name)
	}
	return &ExecSink{cfg: cfg, backend: backend, logger: logger}, nil
}

// Start marks the sink ready. The player process is launched lazily on
// the first write.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.running = true
	return nil
}

func (s *ExecSink) spawnLocked() error {
	c := playbackCommand(s.backend, s.cfg)
	cmd := exec.Command(c.name, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.name, err)
	}
	s.cmd, s.stdin = cmd, stdin
	return nil
}

func (s *ExecSink) killLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
}

// Write sends a chunk to the player process.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return io.ErrClosedPipe
	}
	if s.stdin == nil {
		if err := s.spawnLocked(); err != nil {
			return err
		}
	}

	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		s.killLocked()
		return fmt.Errorf("write to player: %w", err)
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush closes stdin and waits for the player to finish.
func (s *ExecSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if stdin == nil {
		return nil
	}
	_ = stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Clear drops buffered audio by killing the player process.
func (s *ExecSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	return nil
}

// Stop halts playback.
func (s *ExecSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.killLocked()
	return nil
}

// Config returns the audio configuration.
func (s *ExecSink) Config() Config { return s.cfg }

// Name returns the backend name.
func (s *ExecSink) Name() string { return string(s.backend) }

// Close releases resources.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *ExecSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        running,
		Backend:        string(s.backend),
	}
}

var _ SinkWithStats = (*ExecSink)(nil)
