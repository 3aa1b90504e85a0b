package protocol

import (
	"encoding/base64"
	"fmt"
)

// EncodeAudio base64-encodes raw PCM16 bytes for an append event.
func EncodeAudio(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeAudio decodes a base64 audio delta into raw PCM16 bytes.
func DecodeAudio(delta string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		return nil, fmt.Errorf("decode audio delta: %w", err)
	}
	return pcm, nil
}
