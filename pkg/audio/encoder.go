package audio

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// OpusEncoder encodes PCM audio to Opus
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel per frame
}

// NewOpusEncoder creates a new Opus encoder
func NewOpusEncoder(sampleRate, channels, frameSize int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}

	// Set bitrate for voice
	enc.SetBitrate(64000)

	return &OpusEncoder{
		encoder:    enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
	}, nil
}

// Encode encodes PCM int16 samples to Opus
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	data := make([]byte, 1024)
	n, err := e.encoder.Encode(pcm, data)
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

// EncodeBytes encodes PCM bytes (little-endian int16) to Opus
func (e *OpusEncoder) EncodeBytes(pcmBytes []byte) ([]byte, error) {
	numSamples := len(pcmBytes) / 2
	pcm := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(pcmBytes[i*2:]))
	}
	return e.Encode(pcm)
}

// FrameSize returns the frame size in samples per channel
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// ResampleMono resamples mono PCM from one sample rate to another
// Uses linear interpolation
func ResampleMono(input []byte, inputRate, outputRate int) []byte {
	if inputRate == outputRate {
		return input
	}

	inputSamples := len(input) / 2
	ratio := float64(outputRate) / float64(inputRate)
	outputSamples := int(float64(inputSamples) * ratio)

	output := make([]byte, outputSamples*2)

	for i := 0; i < outputSamples; i++ {
		// Calculate source position
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		// Clamp indices
		idx1 := srcIdx
		idx2 := srcIdx + 1
		if idx1 >= inputSamples {
			idx1 = inputSamples - 1
		}
		if idx2 >= inputSamples {
			idx2 = inputSamples - 1
		}

		// Get samples
		s1 := int16(binary.LittleEndian.Uint16(input[idx1*2:]))
		s2 := int16(binary.LittleEndian.Uint16(input[idx2*2:]))

		// Linear interpolation
		sample := int16(float64(s1)*(1-frac) + float64(s2)*frac)

		binary.LittleEndian.PutUint16(output[i*2:], uint16(sample))
	}

	return output
}

// StereoToMono downmixes interleaved stereo PCM to mono by averaging the
// channels. Used before feeding room audio into speech-to-text.
func StereoToMono(stereo []byte) []byte {
	frames := len(stereo) / 4
	mono := make([]byte, frames*2)

	for i := 0; i < frames; i++ {
		left := int32(int16(binary.LittleEndian.Uint16(stereo[i*4:])))
		right := int32(int16(binary.LittleEndian.Uint16(stereo[i*4+2:])))
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16((left+right)/2)))
	}

	return mono
}

const (
	// publishSampleRate is the Opus sample rate used on the published track.
	publishSampleRate = 48000
	// publishFrameSamples is 20ms at 48kHz.
	publishFrameSamples = 960
	// ttsSampleRate is the PCM rate ElevenLabs returns (pcm_22050).
	ttsSampleRate = 22050
)

// SpeechPipeline converts TTS output into Opus frames ready to publish on a
// room audio track: 22050Hz mono PCM in, 48kHz mono 20ms Opus frames out.
type SpeechPipeline struct {
	encoder *OpusEncoder
	buffer  []byte // accumulates 48kHz PCM awaiting a full frame
}

// NewSpeechPipeline creates a pipeline for the published agent voice track.
func NewSpeechPipeline() (*SpeechPipeline, error) {
	encoder, err := NewOpusEncoder(publishSampleRate, 1, publishFrameSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	return &SpeechPipeline{
		encoder: encoder,
		buffer:  make([]byte, 0),
	}, nil
}

// ProcessChunk converts ElevenLabs PCM (22050Hz mono) into complete Opus
// frames. Partial frame data stays buffered for the next chunk.
func (p *SpeechPipeline) ProcessChunk(pcm22kMono []byte) ([][]byte, error) {
	if len(pcm22kMono) == 0 {
		return nil, nil
	}

	pcm48k := ResampleMono(pcm22kMono, ttsSampleRate, publishSampleRate)
	p.buffer = append(p.buffer, pcm48k...)

	// 960 samples * 2 bytes, mono
	frameBytes := publishFrameSamples * 2
	var opusFrames [][]byte

	for len(p.buffer) >= frameBytes {
		frame := p.buffer[:frameBytes]
		p.buffer = p.buffer[frameBytes:]

		opusData, err := p.encoder.EncodeBytes(frame)
		if err != nil {
			continue
		}
		opusFrames = append(opusFrames, opusData)
	}

	return opusFrames, nil
}

// Flush pads and encodes any remaining buffered samples.
func (p *SpeechPipeline) Flush() ([][]byte, error) {
	frameBytes := publishFrameSamples * 2

	if len(p.buffer) == 0 {
		return nil, nil
	}

	padding := make([]byte, frameBytes-len(p.buffer)%frameBytes)
	p.buffer = append(p.buffer, padding...)

	var opusFrames [][]byte
	for len(p.buffer) >= frameBytes {
		frame := p.buffer[:frameBytes]
		p.buffer = p.buffer[frameBytes:]

		opusData, err := p.encoder.EncodeBytes(frame)
		if err != nil {
			continue
		}
		opusFrames = append(opusFrames, opusData)
	}
	return opusFrames, nil
}

// Reset clears the internal buffer
func (p *SpeechPipeline) Reset() {
	p.buffer = p.buffer[:0]
}
