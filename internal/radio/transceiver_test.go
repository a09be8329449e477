package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks, adapted from the teacher's queued-response mock-SPI style but
// targeting this driver's own portable Pin/SPI interfaces rather than
// periph.io's concrete gpio/spi types. ---

type mockPin struct {
	mode     string
	level    Level
	pullUp   bool
	unwatch  int
	watchErr error
}

func (m *mockPin) Out(l Level) error {
	m.mode = "output"
	m.level = l
	return nil
}

func (m *mockPin) In(pull Pull) error {
	m.mode = "input"
	if pull == PullUp {
		m.pullUp = true
	}
	return nil
}

func (m *mockPin) Read() Level { return m.level }

func (m *mockPin) Watch(edge Edge, handler func()) error { return m.watchErr }
func (m *mockPin) Unwatch() error {
	m.unwatch++
	return nil
}

type mockSPI struct {
	tx      []byte
	rxQueue [][]byte
}

func (m *mockSPI) Tx(w, r []byte) error {
	m.tx = append(m.tx, w...)
	if len(m.rxQueue) > 0 {
		next := m.rxQueue[0]
		m.rxQueue = m.rxQueue[1:]
		n := len(r)
		if len(next) < n {
			n = len(next)
		}
		copy(r, next[:n])
	}
	return nil
}

func (m *mockSPI) queueRx(data []byte) { m.rxQueue = append(m.rxQueue, data) }

func (m *mockSPI) queueEmpty(n int) {
	for i := 0; i < n; i++ {
		m.queueRx(nil)
	}
}

func TestNew_RequiresCEPin(t *testing.T) {
	_, err := New(Config{}, &mockSPI{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestNew_RejectsChannelOutOfRange(t *testing.T) {
	_, err := New(Config{ChannelNumber: 200}, &mockSPI{}, &mockPin{}, nil, nil)
	assert.Error(t, err)
}

func TestNew_ProgramsRegistersAndVerifiesChannel(t *testing.T) {
	spi := &mockSPI{}
	ce := &mockPin{}

	// New() issues 14 SPI transfers (12 register writes and 2 FIFO flushes)
	// before reading back _RF_CH to verify
	// the radio is actually responding; only the 15th Tx call's response
	// matters for this test.
	spi.queueEmpty(14)
	spi.queueRx([]byte{0, 76})

	dev, err := New(Config{ChannelNumber: 76}, spi, ce, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "output", ce.mode)
	assert.Equal(t, High, ce.level, "CE must be asserted high once initialization succeeds")
}

func TestNew_FailsWhenChannelReadbackMismatches(t *testing.T) {
	spi := &mockSPI{}
	spi.queueEmpty(14)
	spi.queueRx([]byte{0, 99}) // doesn't match the configured channel

	_, err := New(Config{ChannelNumber: 76}, spi, &mockPin{}, nil, nil)
	assert.Error(t, err)
}

func newBareTransceiver(spi SPI, ce Pin) *Transceiver {
	cfg := Config{}
	cfg.setDefaults()
	return &Transceiver{config: cfg, conn: spi, ce: ce, logger: nopLogger{}}
}

func TestSendFrame_ReportsAckOnTxDS(t *testing.T) {
	spi := &mockSPI{}
	spi.queueEmpty(3) // setMode, RX_ADDR_P0 swap, payload write
	spi.queueRx([]byte{0, _TX_DS})
	tr := newBareTransceiver(spi, &mockPin{})

	ok, err := tr.SendFrame(Frame{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSendFrame_ReportsNoAckOnMaxRetries(t *testing.T) {
	spi := &mockSPI{}
	spi.queueEmpty(3)
	spi.queueRx([]byte{0, _MAX_RT})
	tr := newBareTransceiver(spi, &mockPin{})

	ok, err := tr.SendFrame(Frame{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, ok, "MAX_RT without TX_DS means the peer never acked")
}

func TestGetRetransmissionCounters(t *testing.T) {
	spi := &mockSPI{}
	spi.queueRx([]byte{0, 0x23}) // lost=2, retries=3
	tr := newBareTransceiver(spi, &mockPin{})

	lost, retries := tr.GetRetransmissionCounters()
	assert.Equal(t, byte(2), lost)
	assert.Equal(t, byte(3), retries)
}

func TestIsCarrierDetected(t *testing.T) {
	spi := &mockSPI{}
	spi.queueRx([]byte{0, 0x01})
	tr := newBareTransceiver(spi, &mockPin{})

	assert.True(t, tr.IsCarrierDetected())
}

func TestGetStatus(t *testing.T) {
	spi := &mockSPI{}
	spi.queueRx([]byte{0, 0x07})
	tr := newBareTransceiver(spi, &mockPin{})

	assert.Equal(t, byte(0x07), tr.GetStatus())
}

type mockCloser struct{ closed bool }

func (c *mockCloser) Close() error {
	c.closed = true
	return nil
}

func TestCleanup_PowersDownAndUnwatchesIRQ(t *testing.T) {
	spi := &mockSPI{}
	ce := &mockPin{}
	irq := &mockPin{}
	closer := &mockCloser{}
	tr := newBareTransceiver(spi, ce)
	tr.irq = irq
	tr.closer = closer

	err := tr.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, Low, ce.level)
	assert.Equal(t, 1, irq.unwatch)
	assert.True(t, closer.closed)
}
