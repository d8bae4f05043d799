package alert

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	ToneSampleRate = 44100
	toneBitDepth   = 16
	toneGain       = 0.1
	toneStepSec    = 0.2
)

// ToneSteps is the three-note sweep: A5, C#6, A5.
var ToneSteps = []float64{880, 1108.73, 880}

// ToneSamples synthesizes the square-wave alarm as 16-bit PCM.
func ToneSamples() []int {
	perStep := int(ToneSampleRate * toneStepSec)
	amp := toneGain * float64(int(1)<<(toneBitDepth-1)-1)
	out := make([]int, 0, perStep*len(ToneSteps))
	for _, freq := range ToneSteps {
		period := float64(ToneSampleRate) / freq
		for i := 0; i < perStep; i++ {
			phase := float64(len(out)) / period
			phase -= float64(int(phase))
			v := amp
			if phase >= 0.5 {
				v = -amp
			}
			out = append(out, int(v))
		}
	}
	return out
}

// EncodeToneWAV writes the alarm tone as a mono WAV file.
func EncodeToneWAV(w io.WriteSeeker) error {
	enc := wav.NewEncoder(w, ToneSampleRate, toneBitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: ToneSampleRate},
		Data:           ToneSamples(),
		SourceBitDepth: toneBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode tone: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize tone: %w", err)
	}
	return nil
}

// WriteToneFile renders the tone into a temp file and returns its path.
func WriteToneFile(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "singrar-alarm-*.wav")
	if err != nil {
		return "", err
	}
	if err := EncodeToneWAV(f); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
