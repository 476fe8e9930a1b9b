package material

import (
	"math/rand"
	"sync"
	"time"
)

// Confidence ranges, inclusive.
const (
	lowConfidenceMin  = 40
	lowConfidenceMax  = 70
	highConfidenceMin = 85
	highConfidenceMax = 99
)

// Outcome is one simulated classification.
type Outcome struct {
	Material       Kind   `json:"material"`
	Confidence     int    `json:"confidence"` // 0–100
	DetectorResult string `json:"detector_result"`
}

// Classifier produces randomized outcomes. It is safe for concurrent use.
type Classifier struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewClassifier returns a Classifier drawing from rng. A nil rng seeds a new
// source from the clock.
func NewClassifier(rng *rand.Rand) *Classifier {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Classifier{rng: rng}
}

// Simulate picks a kind uniformly at random. Unknown and e-waste draw a low
// confidence, every other kind a high one. The detector result comes from the
// static profile, so low-confidence unknowns still read "Inorganic".
func (c *Classifier) Simulate() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := Kinds[c.rng.Intn(len(Kinds))]

	var conf int
	if k == Unknown || k == EWaste {
		conf = lowConfidenceMin + c.rng.Intn(lowConfidenceMax-lowConfidenceMin+1)
	} else {
		conf = highConfidenceMin + c.rng.Intn(highConfidenceMax-highConfidenceMin+1)
	}

	return Outcome{
		Material:       k,
		Confidence:     conf,
		DetectorResult: k.Profile().Detector,
	}
}
