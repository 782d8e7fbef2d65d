package avatar

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

const toneSampleRate = 22050

// Tone describes the reveal beep: a sine wave whose volume decays from
// Volume to VolumeEnd over Duration.
type Tone struct {
	FrequencyHz float64
	Duration    time.Duration
	Volume      float64
	VolumeEnd   float64
}

// DefaultTone is a short, quiet 800 Hz blip.
var DefaultTone = Tone{FrequencyHz: 800, Duration: 50 * time.Millisecond, Volume: 0.05, VolumeEnd: 0.01}

// WAV renders the tone as 16-bit mono PCM.
func (t Tone) WAV() []byte {
	samples := int(t.Duration.Seconds() * toneSampleRate)
	if samples < 0 {
		samples = 0
	}
	dataLen := uint32(samples * 2)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataLen))
	buf.WriteString("RIFF")
	writeLE(&buf, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeLE(&buf, uint32(16))
	writeLE(&buf, uint16(1)) // PCM
	writeLE(&buf, uint16(1)) // mono
	writeLE(&buf, uint32(toneSampleRate))
	writeLE(&buf, uint32(toneSampleRate*2))
	writeLE(&buf, uint16(2))
	writeLE(&buf, uint16(16))
	buf.WriteString("data")
	writeLE(&buf, dataLen)

	for i := range samples {
		progress := float64(i) / float64(samples)
		v := math.Sin(2*math.Pi*t.FrequencyHz*float64(i)/toneSampleRate) * t.gain(progress)
		v = math.Max(-1, math.Min(1, v))
		writeLE(&buf, int16(v*math.MaxInt16))
	}
	return buf.Bytes()
}

// gain ramps exponentially when both ends are positive, linearly otherwise.
func (t Tone) gain(progress float64) float64 {
	if t.Volume > 0 && t.VolumeEnd > 0 {
		return t.Volume * math.Pow(t.VolumeEnd/t.Volume, progress)
	}
	return t.Volume + (t.VolumeEnd-t.Volume)*progress
}

func writeLE(buf *bytes.Buffer, v any) {
	// writes to a bytes.Buffer never fail
	_ = binary.Write(buf, binary.LittleEndian, v)
}
