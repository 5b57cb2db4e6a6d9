package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/thermal-receipt-server/adapter"
	"github.com/nixxel-company-limited/thermal-receipt-server/escpos"
)

// MockSession records writes like a connected printer
type MockSession struct {
	mu        sync.Mutex
	connected bool
	failAt    int
	writes    [][]byte
	onWrite   func(n int)
}

func (m *MockSession) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockSession) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return adapter.ErrNotConnected
	}
	if m.failAt > 0 && len(m.writes)+1 == m.failAt {
		return adapter.ErrWriteFailed
	}
	// real channels refuse to start a transfer on a done context
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrWriteFailed, err)
	}
	m.writes = append(m.writes, append([]byte(nil), data...))
	if m.onWrite != nil {
		m.onWrite(len(m.writes))
	}
	return nil
}

func (m *MockSession) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Join(m.writes, nil)
}

func newTestPrinter(t *testing.T, s *MockSession) *Printer {
	t.Helper()
	p := NewPrinter(s, newTestComposer(t, nil), zerolog.Nop())
	p.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }
	return p
}

func TestPrinterRequiresConnection(t *testing.T) {
	s := &MockSession{}
	p := newTestPrinter(t, s)
	ctx := context.Background()

	assert.ErrorIs(t, p.PrintReceipt(ctx, sampleJob()), adapter.ErrNotConnected)
	assert.ErrorIs(t, p.TestPrint(ctx), adapter.ErrNotConnected)
	assert.ErrorIs(t, p.OpenDrawer(ctx), adapter.ErrNotConnected)
	assert.ErrorIs(t, p.Raw(ctx, []byte{0x1B, 0x40}), adapter.ErrNotConnected)
	assert.Empty(t, s.writes)
}

func TestPrinterReceiptWritesEachCommand(t *testing.T) {
	s := &MockSession{connected: true}
	p := newTestPrinter(t, s)

	require.NoError(t, p.PrintReceipt(context.Background(), sampleJob()))

	cmds := p.composer.Compose(sampleJob())
	assert.Equal(t, cmds, s.writes)
}

func TestPrinterTestPrint(t *testing.T) {
	s := &MockSession{connected: true}
	p := newTestPrinter(t, s)

	require.NoError(t, p.TestPrint(context.Background()))
	assert.Contains(t, string(s.bytes()), "10/19/2026, 9:00:00 AM\n")
	assert.Contains(t, string(s.bytes()), "Print test successful!\n")
}

func TestPrinterOpenDrawer(t *testing.T) {
	s := &MockSession{connected: true}
	p := newTestPrinter(t, s)

	require.NoError(t, p.OpenDrawer(context.Background()))
	assert.Equal(t, escpos.DrawerKick(), s.bytes())
}

func TestPrinterStopsAtWriteFailure(t *testing.T) {
	s := &MockSession{connected: true, failAt: 4}
	p := newTestPrinter(t, s)

	err := p.PrintReceipt(context.Background(), sampleJob())
	assert.ErrorIs(t, err, adapter.ErrWriteFailed)
	assert.Len(t, s.writes, 3)
	assert.True(t, s.IsConnected())
}

func TestPrinterSerializesJobs(t *testing.T) {
	s := &MockSession{connected: true}
	p := newTestPrinter(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.PrintReceipt(context.Background(), sampleJob()))
		}()
	}
	wg.Wait()

	one := bytes.Join(p.composer.Compose(sampleJob()), nil)
	assert.Equal(t, bytes.Repeat(one, 4), s.bytes())
}

func TestPrinterRaw(t *testing.T) {
	s := &MockSession{connected: true}
	p := newTestPrinter(t, s)

	require.NoError(t, p.Raw(context.Background(), []byte("Hello, Printer!")))
	assert.Equal(t, []byte("Hello, Printer!"), s.bytes())

	s.failAt = 2
	assert.True(t, errors.Is(p.Raw(context.Background(), []byte("x")), adapter.ErrWriteFailed))
}

func TestPrinterStreamHoldsOffOtherJobs(t *testing.T) {
	s := &MockSession{connected: true}
	p := newTestPrinter(t, s)

	r, w := io.Pipe()
	streamed := make(chan error, 1)
	go func() { streamed <- p.Stream(context.Background(), r) }()

	_, err := w.Write([]byte("first half,"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return string(s.bytes()) == "first half," }, time.Second, 5*time.Millisecond)

	drawer := make(chan error, 1)
	go func() { drawer <- p.OpenDrawer(context.Background()) }()

	_, err = w.Write([]byte("second half"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, <-streamed)
	require.NoError(t, <-drawer)

	kick := bytes.Join(p.composer.ComposeDrawer(), nil)
	assert.Equal(t, append([]byte("first half,second half"), kick...), s.bytes())
}

func TestPrinterStreamEmptyAndDisconnected(t *testing.T) {
	s := &MockSession{}
	p := newTestPrinter(t, s)

	assert.NoError(t, p.Stream(context.Background(), bytes.NewReader(nil)))
	assert.ErrorIs(t, p.Stream(context.Background(), bytes.NewReader([]byte{0x1B, 0x40})), adapter.ErrNotConnected)
	assert.Empty(t, s.writes)
}

func TestPrinterJobOutlivesCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &MockSession{connected: true}
	s.onWrite = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	p := newTestPrinter(t, s)

	require.NoError(t, p.PrintReceipt(ctx, sampleJob()))
	assert.Equal(t, p.composer.Compose(sampleJob()), s.writes)

	// A context cancelled before the call still prints the whole page
	s.writes = nil
	s.onWrite = nil
	require.NoError(t, p.TestPrint(ctx))
	assert.Contains(t, string(s.bytes()), "Print test successful!\n")
}
