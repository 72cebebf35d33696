package player

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/satindergrewal/narrator/internal/audio"
)

// WAV returns the arrived audio as a canonical PCM16 WAV file.
func (c *Controller) WAV() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.store.Len() == 0 {
		err := fmt.Errorf("%w: no audio loaded", audio.ErrExport)
		c.record(err)
		return nil, err
	}
	data, err := audio.SynthesizeWAV(c.sess.store.RawChunks(), c.cfg.Format)
	if err != nil {
		c.record(err)
		return nil, err
	}
	return data, nil
}

// MP3 returns the session encoded as MP3, waiting at most FinalizeTimeout for
// the background encoder. It fails while a gap in the chunk sequence is
// still pending, since the encoder only sees the contiguous prefix. The result is cached until another chunk arrives.
// The returned slice is shared and must not be modified.
func (c *Controller) MP3(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		s := c.sess
		if s == nil || s.store.Len() == 0 {
			err := fmt.Errorf("%w: no audio loaded", audio.ErrExport)
			c.record(err)
			c.mu.Unlock()
			return nil, err
		}
		if end := s.store.ContiguousEnd(0); end < s.store.Span() {
			err := fmt.Errorf("%w: chunk %d pending", audio.ErrExport, end)
			c.record(err)
			c.mu.Unlock()
			return nil, err
		}
		if s.mp3 != nil {
			data := s.mp3
			c.mu.Unlock()
			return data, nil
		}
		if s.enc == nil {
			if err := c.startEncoder(); err != nil {
				c.record(err)
				c.mu.Unlock()
				c.notify()
				return nil, err
			}
		}
		enc := s.enc
		s.encoding = true
		c.mu.Unlock()
		c.notify()

		started := time.Now()
		fctx, cancel := context.WithTimeout(ctx, c.cfg.FinalizeTimeout)
		data, err := enc.Finalize(fctx)
		cancel()

		c.mu.Lock()
		if c.sess != s {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: session unloaded during encode", audio.ErrEncode)
		}
		s.encoding = false
		if s.enc != enc {
			// new chunks replaced the encoder mid-flight; encode again
			c.mu.Unlock()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", audio.ErrEncode, ctx.Err())
			}
			continue
		}
		c.cfg.Metrics.Finalized(time.Since(started), err)
		if err != nil {
			s.closeEncoder()
			c.record(err)
			c.mu.Unlock()
			c.notify()
			return nil, err
		}
		s.mp3 = data
		c.log.Info().Str("session", s.id).Int("bytes", len(data)).Msg("mp3 ready")
		c.mu.Unlock()
		c.notify()
		return data, nil
	}
}

// DownloadWav writes the WAV export to path.
func (c *Controller) DownloadWav(path string) error {
	data, err := c.WAV()
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// DownloadMp3 writes the MP3 export to path.
func (c *Controller) DownloadMp3(ctx context.Context, path string) error {
	data, err := c.MP3(ctx)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// writeFile replaces path atomically via a temp file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".narrator-*")
	if err != nil {
		return fmt.Errorf("%w: %v", audio.ErrExport, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", audio.ErrExport, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", audio.ErrExport, path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrExport, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", audio.ErrExport, path, err)
	}
	return nil
}
