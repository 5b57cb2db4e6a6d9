package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/thermal-receipt-server/adapter"
)

// Session is the printer connection a Printer writes through
type Session interface {
	IsConnected() bool
	Write(ctx context.Context, data []byte) error
}

// Printer sends composed jobs through the session one command at a time.
// Each call is one job and jobs never interleave; a byte stream only stays
// in one piece when it goes through Stream rather than several Raw calls.
// Once started, a job runs to completion or to the first write failure:
// cancelling the caller's context does not cut a receipt short, only
// Disconnect stops it.
type Printer struct {
	session  Session
	composer *Composer
	logger   zerolog.Logger
	now      func() time.Time
	mu       sync.Mutex
}

// NewPrinter creates a printer bound to the session
func NewPrinter(session Session, composer *Composer, logger zerolog.Logger) *Printer {
	return &Printer{
		session:  session,
		composer: composer,
		logger:   logger,
		now:      time.Now,
	}
}

// PrintReceipt prints the customer receipt for job
func (p *Printer) PrintReceipt(ctx context.Context, job PrintJob) error {
	if !p.session.IsConnected() {
		return adapter.ErrNotConnected
	}
	return p.run(ctx, "receipt", func() [][]byte { return p.composer.Compose(job) })
}

// TestPrint prints the diagnostic page
func (p *Printer) TestPrint(ctx context.Context) error {
	if !p.session.IsConnected() {
		return adapter.ErrNotConnected
	}
	return p.run(ctx, "test", func() [][]byte { return p.composer.ComposeTest(p.now()) })
}

// OpenDrawer kicks the cash drawer connected to the printer
func (p *Printer) OpenDrawer(ctx context.Context) error {
	if !p.session.IsConnected() {
		return adapter.ErrNotConnected
	}
	return p.run(ctx, "drawer", p.composer.ComposeDrawer)
}

// Raw forwards an already encoded byte stream
func (p *Printer) Raw(ctx context.Context, data []byte) error {
	if !p.session.IsConnected() {
		return adapter.ErrNotConnected
	}
	return p.run(ctx, "raw", func() [][]byte { return [][]byte{data} })
}

const streamChunk = 4096

// Stream forwards everything read from src as one job. The job begins with
// the first chunk and holds off other jobs until src ends or a write fails.
func (p *Printer) Stream(ctx context.Context, src io.Reader) error {
	buf := make([]byte, streamChunk)
	n, err := src.Read(buf)
	for n == 0 && err == nil {
		n, err = src.Read(buf)
	}
	if n == 0 {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if !p.session.IsConnected() {
		return adapter.ErrNotConnected
	}
	ctx = context.WithoutCancel(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	sent := 0
	for {
		if n > 0 {
			if werr := p.session.Write(ctx, buf[:n]); werr != nil {
				p.logger.Error().Err(werr).Str("job", "stream").Int("bytes", sent).Msg("Print failed")
				return fmt.Errorf("stream print: %w", werr)
			}
			sent += n
		}
		if err != nil {
			p.logger.Debug().Str("job", "stream").Int("bytes", sent).Msg("Print job sent")
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		n, err = src.Read(buf)
	}
}

func (p *Printer) run(ctx context.Context, job string, compose func() [][]byte) error {
	ctx = context.WithoutCancel(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	cmds := compose()
	sent := 0
	for _, cmd := range cmds {
		if err := p.session.Write(ctx, cmd); err != nil {
			p.logger.Error().Err(err).Str("job", job).Int("sent", sent).Int("total", len(cmds)).Msg("Print failed")
			return fmt.Errorf("%s print: %w", job, err)
		}
		sent++
	}

	p.logger.Debug().Str("job", job).Int("commands", len(cmds)).Msg("Print job sent")
	return nil
}
