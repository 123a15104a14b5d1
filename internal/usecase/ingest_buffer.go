package usecase

import (
	"sync"

	"github.com/qfzcxdl/tranlater/internal/domain"
	"github.com/qfzcxdl/tranlater/internal/ports"
)

// audioIngestBuffer holds outbound audio while no stream is writable and
// replays it in FIFO order on reconnect. Stale audio has negative value for
// live captioning, so overflow drops from the oldest end.
type audioIngestBuffer struct {
	mu        sync.Mutex
	chunks    []domain.AudioChunk
	nextSeq   uint64
	maxChunks int
}

func newAudioIngestBuffer(maxChunks int) *audioIngestBuffer {
	if maxChunks <= 0 {
		maxChunks = 100
	}
	return &audioIngestBuffer{maxChunks: maxChunks}
}

// Push enqueues a copy of the chunk and returns how many chunks were dropped
// to stay within the bound.
func (b *audioIngestBuffer) Push(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	copied := append([]byte(nil), data...)
	b.chunks = append(b.chunks, domain.AudioChunk{Seq: b.nextSeq, Data: copied})
	b.nextSeq++

	if len(b.chunks) <= b.maxChunks {
		return 0
	}

	// Keep the most recent half.
	keep := b.maxChunks / 2
	dropped := len(b.chunks) - keep
	b.chunks = append(b.chunks[:0:0], b.chunks[len(b.chunks)-keep:]...)
	return dropped
}

// DrainInto replays all buffered chunks into the stream in push order, then
// clears the buffer. Chunks not yet sent when a send fails are kept at the
// front of the buffer so ordering survives the failure.
func (b *audioIngestBuffer) DrainInto(stream ports.RecognitionStream) (int, error) {
	b.mu.Lock()
	pending := b.chunks
	b.chunks = nil
	b.mu.Unlock()

	for i, chunk := range pending {
		if err := stream.SendAudio(chunk.Data); err != nil {
			b.mu.Lock()
			b.chunks = append(append([]domain.AudioChunk(nil), pending[i:]...), b.chunks...)
			b.mu.Unlock()
			return i, err
		}
	}
	return len(pending), nil
}

func (b *audioIngestBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

func (b *audioIngestBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
}
