package encoder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// FFmpeg returns a Factory that encodes through an ffmpeg libmp3lame
// subprocess at a constant bitrate.
func FFmpeg(path string) Factory {
	return func(ctx context.Context, p Params) (Routine, error) {
		cmd := exec.CommandContext(ctx, path,
			"-f", "s16le",
			"-ar", strconv.Itoa(p.SampleRate),
			"-ac", strconv.Itoa(p.Channels),
			"-i", "pipe:0",
			"-codec:a", "libmp3lame",
			"-b:a", fmt.Sprintf("%dk", p.BitrateKbps),
			"-f", "mp3",
			"-loglevel", "error",
			"pipe:1",
		)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
		}
		f := &ffmpegRoutine{
			cmd:      cmd,
			stdin:    stdin,
			readDone: make(chan struct{}),
		}
		cmd.Stderr = &f.stderr

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("ffmpeg start: %w", err)
		}
		go f.drain(stdout)
		return f, nil
	}
}

type ffmpegRoutine struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	mu       sync.Mutex
	out      bytes.Buffer
	readErr  error
	readDone chan struct{}
	waited   bool
}

func (f *ffmpegRoutine) drain(r io.Reader) {
	defer close(f.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			f.mu.Lock()
			f.out.Write(buf[:n])
			f.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				f.mu.Lock()
				f.readErr = err
				f.mu.Unlock()
			}
			return
		}
	}
}

func (f *ffmpegRoutine) take() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out.Len() == 0 {
		return nil
	}
	b := bytes.Clone(f.out.Bytes())
	f.out.Reset()
	return b
}

func (f *ffmpegRoutine) Encode(pcm []byte) ([]byte, error) {
	if _, err := f.stdin.Write(pcm); err != nil {
		return nil, fmt.Errorf("ffmpeg write: %w", err)
	}
	return f.take(), nil
}

func (f *ffmpegRoutine) Flush() ([]byte, error) {
	f.stdin.Close()
	<-f.readDone
	if err := f.wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(f.stderr.Bytes()))
	}
	f.mu.Lock()
	readErr := f.readErr
	f.mu.Unlock()
	if readErr != nil {
		return nil, fmt.Errorf("ffmpeg read: %w", readErr)
	}
	return f.take(), nil
}

func (f *ffmpegRoutine) Close() error {
	f.stdin.Close()
	if f.waited {
		return nil
	}
	if f.cmd.Process != nil {
		f.cmd.Process.Kill()
	}
	<-f.readDone
	f.wait()
	return nil
}

// wait reaps the process once; it must follow the end of stdout reads.
func (f *ffmpegRoutine) wait() error {
	if f.waited {
		return nil
	}
	f.waited = true
	return f.cmd.Wait()
}
