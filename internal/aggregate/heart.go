package aggregate

import (
	"math"

	"example.com/healthassistant/internal/events"
)

// heartAccumulator averages per-event averages; it does not weight by sample count.
type heartAccumulator struct {
	averages []float64
	max      int
	resting  *int
}

func (h *heartAccumulator) addReading(p events.HeartRate) {
	if p.AvgBPM > 0 {
		h.averages = append(h.averages, p.AvgBPM)
	}
	h.addMax(p.MaxBPM)
	if p.RestingBPM != nil && *p.RestingBPM > 0 {
		if h.resting == nil || *p.RestingBPM < *h.resting {
			r := *p.RestingBPM
			h.resting = &r
		}
	}
}

func (h *heartAccumulator) addMax(bpm int) {
	if bpm > h.max {
		h.max = bpm
	}
}

func (h heartAccumulator) summary() HeartSummary {
	var out HeartSummary
	if len(h.averages) > 0 {
		sum := 0.0
		for _, v := range h.averages {
			sum += v
		}
		avg := int(math.Round(sum / float64(len(h.averages))))
		out.AvgBPM = &avg
	}
	out.MaxBPM = presentInt(h.max)
	out.RestingBPM = h.resting
	return out
}
