package capture

import (
	"encoding/binary"
	"math"
	"time"
)

// segmenter finds one utterance in a stream of fixed-size chunks. Durations
// are measured in audio time, so results do not depend on read latency.
type segmenter struct {
	threshold   float64
	minSpeech   time.Duration
	maxPhrase   time.Duration
	silence     time.Duration
	listenLimit time.Duration

	elapsed  time.Duration
	inSpeech bool
	speech   time.Duration
	quiet    time.Duration
}

type segment int

const (
	segWaiting segment = iota
	segSpeaking
	segDone
	segTimedOut
)

// push consumes one chunk and reports where the segmenter stands.
func (s *segmenter) push(rms float64, dur time.Duration) segment {
	s.elapsed += dur
	loud := rms > s.threshold

	if !s.inSpeech {
		if !loud {
			if s.listenLimit > 0 && s.elapsed >= s.listenLimit {
				return segTimedOut
			}
			return segWaiting
		}
		s.inSpeech = true
	}

	s.speech += dur
	if loud {
		s.quiet = 0
	} else {
		s.quiet += dur
	}

	if s.quiet >= s.silence {
		if s.speech-s.quiet < s.minSpeech {
			// A click or cough; keep waiting for real speech.
			s.inSpeech = false
			s.speech = 0
			s.quiet = 0
			return segWaiting
		}
		return segDone
	}
	if s.maxPhrase > 0 && s.speech >= s.maxPhrase {
		return segDone
	}
	return segSpeaking
}

// ambientThreshold derives the speech threshold from calibration noise.
func ambientThreshold(ambientRMS float64, floor float64) float64 {
	return math.Max(ambientRMS*dynamicEnergyRatio, floor)
}

const (
	dynamicEnergyRatio = 1.5
	minEnergyThreshold = 0.01
)

// rmsS16LE is the normalized root mean square of little-endian 16-bit PCM.
func rmsS16LE(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
