package datachannel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sonicbridge/voicewire/logger"
)

// Assembly failure modes.
var (
	// ErrUnknownTransfer is returned when no matching Begin was seen, or the
	// transfer was already finished or reclaimed.
	ErrUnknownTransfer = errors.New("datachannel: unknown transfer")

	// ErrDuplicateTransfer is returned by Begin for an id already pending.
	ErrDuplicateTransfer = errors.New("datachannel: transfer already pending")

	// ErrIncompleteTransfer is returned by Finish before every chunk arrived.
	ErrIncompleteTransfer = errors.New("datachannel: transfer incomplete")

	// ErrChunkOutOfRange is returned when a chunk index falls outside the
	// declared total.
	ErrChunkOutOfRange = errors.New("datachannel: chunk index out of range")

	// ErrChunkTooLarge is returned when a chunk payload exceeds the maximum
	// chunk size.
	ErrChunkTooLarge = errors.New("datachannel: chunk payload too large")

	// ErrAssemblerClosed is returned after Close.
	ErrAssemblerClosed = errors.New("datachannel: assembler closed")
)

// Assembler defaults.
const (
	// DefaultMaxChunkBytes bounds a single chunk payload.
	DefaultMaxChunkBytes = 16 * 1024

	// DefaultIdleTimeout reclaims a transfer whose end marker never arrives.
	// Matches typical turn latency so a healthy transfer is never cut off.
	DefaultIdleTimeout = 5 * time.Second
)

// Chunk is one indexed fragment of a transfer.
type Chunk struct {
	Index   int
	Total   int
	Payload []byte
}

// Meta describes the transfer a frame was assembled from.
type Meta struct {
	Filename string
	MimeType string
	Size     int
}

// Frame is a contiguous audio buffer reassembled from a chunk set.
type Frame struct {
	Data []byte
	Meta Meta
}

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	// MaxChunkBytes bounds a single chunk payload.
	// Defaults to DefaultMaxChunkBytes.
	MaxChunkBytes int

	// IdleTimeout reclaims transfers with no chunk activity. Zero means
	// DefaultIdleTimeout; negative disables reclamation.
	IdleTimeout time.Duration

	// OnTimeout is called (without the assembler lock held) when a transfer
	// is reclaimed. Optional.
	OnTimeout func(transferID string, meta Meta)
}

type pendingAssembly struct {
	meta   Meta
	total  int
	slots  [][]byte
	filled int
	timer  *time.Timer
}

// Assembler reconstructs contiguous byte buffers from indexed chunks that may
// arrive out of order over an unreliable message transport. Each logical
// transfer is keyed by an opaque id from its start marker; a transfer whose
// end never arrives is reclaimed after the idle timeout, which is the only
// thing keeping assembly buffers bounded.
type Assembler struct {
	cfg AssemblerConfig

	mu      sync.Mutex
	pending map[string]*pendingAssembly
	closed  bool
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Assembler{
		cfg:     cfg,
		pending: make(map[string]*pendingAssembly),
	}
}

// Begin allocates a pending assembly for a transfer of declaredTotal chunks.
// A transfer with zero declared total is complete immediately and Finish
// returns an empty frame.
func (a *Assembler) Begin(transferID string, declaredTotal int, meta Meta) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAssemblerClosed
	}
	if _, ok := a.pending[transferID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTransfer, transferID)
	}
	if declaredTotal < 0 {
		return fmt.Errorf("%w: negative total %d", ErrChunkOutOfRange, declaredTotal)
	}

	p := &pendingAssembly{
		meta:  meta,
		total: declaredTotal,
		slots: make([][]byte, declaredTotal),
	}
	if a.cfg.IdleTimeout > 0 {
		p.timer = time.AfterFunc(a.cfg.IdleTimeout, func() {
			a.expire(transferID)
		})
	}
	a.pending[transferID] = p
	return nil
}

// Accept stores a chunk payload at its index. Out-of-order arrival is
// expected; a duplicate index overwrites since the wire path may retransmit.
func (a *Assembler) Accept(transferID string, chunk Chunk) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAssemblerClosed
	}
	p, ok := a.pending[transferID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	if chunk.Index < 0 || chunk.Index >= p.total {
		return fmt.Errorf("%w: index %d of %d", ErrChunkOutOfRange, chunk.Index, p.total)
	}
	if len(chunk.Payload) > a.cfg.MaxChunkBytes {
		return fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(chunk.Payload))
	}

	if p.slots[chunk.Index] == nil {
		p.filled++
	}
	p.slots[chunk.Index] = chunk.Payload

	if p.timer != nil {
		p.timer.Reset(a.cfg.IdleTimeout)
	}
	return nil
}

// Complete reports whether every index in [0, declaredTotal) is populated.
func (a *Assembler) Complete(transferID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[transferID]
	return ok && p.filled == p.total
}

// Finish concatenates the chunk slots in index order and discards the
// pending assembly. Calling before completion fails with
// ErrIncompleteTransfer and leaves the assembly intact.
func (a *Assembler) Finish(transferID string) (*Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[transferID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	if p.filled != p.total {
		return nil, fmt.Errorf("%w: %d/%d chunks", ErrIncompleteTransfer, p.filled, p.total)
	}

	size := 0
	for _, slot := range p.slots {
		size += len(slot)
	}
	data := make([]byte, 0, size)
	for _, slot := range p.slots {
		data = append(data, slot...)
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	delete(a.pending, transferID)

	return &Frame{Data: data, Meta: p.meta}, nil
}

// Abandon discards a pending transfer without assembling it, releasing its
// buffers. Used on barge-in and session teardown.
func (a *Assembler) Abandon(transferID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropLocked(transferID)
}

// Pending returns the number of in-flight transfers.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close reclaims every pending assembly. Subsequent calls on the assembler
// fail with ErrAssemblerClosed.
func (a *Assembler) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id := range a.pending {
		a.dropLocked(id)
	}
	a.closed = true
}

func (a *Assembler) dropLocked(transferID string) {
	if p, ok := a.pending[transferID]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(a.pending, transferID)
	}
}

// expire reclaims a transfer whose end marker never arrived.
func (a *Assembler) expire(transferID string) {
	a.mu.Lock()
	p, ok := a.pending[transferID]
	if !ok {
		a.mu.Unlock()
		return
	}
	meta := p.meta
	a.dropLocked(transferID)
	a.mu.Unlock()

	logger.Warn("reclaimed idle transfer", "transfer_id", transferID, "filename", meta.Filename)
	if a.cfg.OnTimeout != nil {
		a.cfg.OnTimeout(transferID, meta)
	}
}

// Split slices a frame into chunks of at most maxChunkBytes each,
// left-to-right; the last chunk may be shorter. It is a pure function.
func Split(data []byte, maxChunkBytes int) []Chunk {
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkBytes
	}
	if len(data) == 0 {
		return nil
	}

	total := (len(data) + maxChunkBytes - 1) / maxChunkBytes
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkBytes
		end := start + maxChunkBytes
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, Chunk{Index: i, Total: total, Payload: data[start:end]})
	}
	return chunks
}
