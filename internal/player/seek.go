package player

// Seek moves playback to target seconds. It is valid in Ready, Playing and
// Paused and preserves the play/pause state. Targets past the arrived audio
// fail with audio.ErrSeekOutOfRange and leave playback untouched.
func (c *Controller) Seek(target float64) error {
	return c.do(func() error {
		switch c.status {
		case Ready, Playing, Paused:
		default:
			return c.invalid("seek")
		}
		s := c.sess

		pos, err := s.store.Locate(target)
		if err != nil {
			c.record(err)
			return err
		}

		s.startRun(pos, target)
		c.log.Info().
			Str("session", s.id).
			Float64("target", target).
			Int("index", pos.Index).
			Float64("offset", pos.Offset).
			Msg("seek")

		if c.status == Playing {
			if err := c.schedule(); err != nil {
				return c.failPlayback(err)
			}
		}
		return nil
	})
}
