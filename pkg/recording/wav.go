package recording

import (
	"bytes"
	"encoding/binary"

	"github.com/teslashibe/go-parley/pkg/audioio"
)

const wavHeaderSize = 44

// wavEncoder writes PCM16 little-endian samples. The RIFF header is
// produced once the final size is known.
type wavEncoder struct {
	buf        bytes.Buffer
	sampleRate int
	channels   int
}

func newWAVEncoder() (Encoder, error) {
	return &wavEncoder{}, nil
}

func (e *wavEncoder) Encode(chunk audioio.AudioChunk) error {
	if e.sampleRate == 0 {
		e.sampleRate = chunk.SampleRate
		e.channels = chunk.Channels
	}
	samples := chunk.Samples
	if chunk.Channels != e.channels {
		samples = audioio.Downmix(samples, chunk.Channels)
	}
	if chunk.SampleRate != e.sampleRate {
		samples = audioio.Resample(samples, chunk.SampleRate, e.sampleRate)
	}
	return binary.Write(&e.buf, binary.LittleEndian, samples)
}

func (e *wavEncoder) Cut() []byte {
	out := bytes.Clone(e.buf.Bytes())
	e.buf.Reset()
	return out
}

func (e *wavEncoder) Close() ([]byte, error) {
	return e.Cut(), nil
}

func (e *wavEncoder) Header(dataLen int) []byte {
	rate, channels := e.sampleRate, e.channels
	if rate == 0 {
		rate, channels = 24000, 1
	}
	if channels == 0 {
		channels = 1
	}
	blockAlign := channels * 2

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(rate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}
