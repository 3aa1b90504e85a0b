package recording

import (
	"bytes"
	"fmt"
	"math/rand/v2"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-parley/pkg/audioio"
)

const (
	opusRate        = 48000
	opusFrame       = 960 // 20ms at 48kHz
	opusPayloadType = 111
	maxOpusPacket   = 1275
)

// oggEncoder encodes mono Opus frames and packs them into Ogg pages.
// Frames are wrapped in RTP packets for the Ogg writer; the RTP timestamp
// drives the granule position.
type oggEncoder struct {
	enc    *opus.Encoder
	writer *oggwriter.OggWriter
	buf    bytes.Buffer

	pending []int16
	packet  []byte
	seq     uint16
	ts      uint32
	ssrc    uint32
}

func newOggEncoder() (Encoder, error) {
	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	e := &oggEncoder{
		enc:    enc,
		packet: make([]byte, maxOpusPacket),
		ssrc:   rand.Uint32(),
	}
	w, err := oggwriter.NewWith(&e.buf, opusRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}
	e.writer = w
	return e, nil
}

func (e *oggEncoder) Encode(chunk audioio.AudioChunk) error {
	mono := audioio.Downmix(chunk.Samples, chunk.Channels)
	e.pending = append(e.pending, audioio.Resample(mono, chunk.SampleRate, opusRate)...)

	for len(e.pending) >= opusFrame {
		if err := e.writeFrame(e.pending[:opusFrame]); err != nil {
			return err
		}
		e.pending = e.pending[opusFrame:]
	}
	return nil
}

func (e *oggEncoder) writeFrame(frame []int16) error {
	n, err := e.enc.Encode(frame, e.packet)
	if err != nil {
		return fmt.Errorf("encode opus frame: %w", err)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: e.seq,
			Timestamp:      e.ts,
			SSRC:           e.ssrc,
		},
		Payload: bytes.Clone(e.packet[:n]),
	}
	e.seq++
	e.ts += opusFrame

	if err := e.writer.WriteRTP(pkt); err != nil {
		return fmt.Errorf("write ogg page: %w", err)
	}
	return nil
}

func (e *oggEncoder) Cut() []byte {
	out := bytes.Clone(e.buf.Bytes())
	e.buf.Reset()
	return out
}

func (e *oggEncoder) Close() ([]byte, error) {
	if len(e.pending) > 0 {
		frame := make([]int16, opusFrame)
		copy(frame, e.pending)
		e.pending = nil
		if err := e.writeFrame(frame); err != nil {
			return e.Cut(), err
		}
	}
	if err := e.writer.Close(); err != nil {
		return e.Cut(), fmt.Errorf("close ogg writer: %w", err)
	}
	return e.Cut(), nil
}
