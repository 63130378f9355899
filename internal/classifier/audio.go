package classifier

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/birdnet-walker/internal/segment"
)

// ModelSampleRate is the sample rate the BirdNET model expects.
const ModelSampleRate = 48000

// pcmBufferFrames is the number of frames decoded per PCMBuffer call
const pcmBufferFrames = 48000 * 8

// sampleDivisor returns the scale that maps integer PCM to [-1, 1).
func sampleDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// readMono48k decodes a WAV file into mono float32 samples at ModelSampleRate.
func readMono48k(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("input is not a valid WAV audio file")
	}
	divisor, err := sampleDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, err
	}
	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, pcmBufferFrames*channels),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
	}
	var mono []float32
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("decoding PCM: %w", err)
		}
		if n == 0 {
			break
		}
		mono = appendDownmixed(mono, buf.Data[:n], channels, divisor)
	}

	return resample(mono, int(decoder.SampleRate), ModelSampleRate), nil
}

// appendDownmixed averages interleaved channels into mono samples.
func appendDownmixed(dst []float32, interleaved []int, channels int, divisor float32) []float32 {
	if channels == 1 {
		for _, s := range interleaved {
			dst = append(dst, float32(s)/divisor)
		}
		return dst
	}
	scale := divisor * float32(channels)
	for i := 0; i+channels <= len(interleaved); i += channels {
		var sum int
		for c := range channels {
			sum += interleaved[i+c]
		}
		dst = append(dst, float32(sum)/scale)
	}
	return dst
}

// windows cuts samples into one model input per segment. Windows reaching past
// the end of the audio are zero padded.
func windows(samples []float32, segments []segment.Segment, length float64) [][]float32 {
	size := int(length * ModelSampleRate)
	out := make([][]float32, len(segments))
	for i, seg := range segments {
		start := int(seg.Start*ModelSampleRate + 0.5)
		w := make([]float32, size)
		if start < len(samples) {
			copy(w, samples[start:min(start+size, len(samples))])
		}
		out[i] = w
	}
	return out
}

// durationOf returns the length of samples in seconds.
func durationOf(samples []float32) float64 {
	return float64(len(samples)) / ModelSampleRate
}
