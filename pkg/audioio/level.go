package audioio

import "math"

// Level returns the normalized RMS amplitude of samples in [0, 1].
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		return 1
	}
	return rms
}

// Level returns the chunk's normalized RMS amplitude.
func (c *AudioChunk) Level() float64 {
	return Level(c.Samples)
}

// Clone returns a deep copy of the chunk.
func (c AudioChunk) Clone() AudioChunk {
	out := c
	out.Samples = make([]int16, len(c.Samples))
	copy(out.Samples, c.Samples)
	return out
}

// ToneChunk builds a square-wave chunk whose Level is approximately level.
// It is used by the mock backend and tests to script loudness.
func ToneChunk(level float64, samples, sampleRate int) AudioChunk {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	amp := int16(level * 32767)

	out := make([]int16, samples)
	for i := range out {
		if (i/24)%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return AudioChunk{Samples: out, SampleRate: sampleRate, Channels: 1}
}
