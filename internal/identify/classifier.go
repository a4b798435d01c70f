package identify

import (
	"math"

	"github.com/facegate/facegate/internal/vecstore"
)

// voteEpsilon avoids division by zero on an exact match (distance 0).
const voteEpsilon = 1e-8

// Classify converts the k nearest neighbors of a face embedding into a
// single identity decision via distance-weighted voting: each valid
// neighbor contributes 1/(distance+ε) to its label's score, and the
// winning label's share of the total score is the confidence. Score ties
// break toward the lexicographically smaller label.
func Classify(neighbors []vecstore.Neighbor, labels []string, voteThreshold float64) FaceResult {
	// Discard stale indices that fall outside the label list.
	valid := neighbors[:0:0]
	for _, n := range neighbors {
		if n.Index >= 0 && n.Index < len(labels) {
			valid = append(valid, n)
		}
	}

	if len(valid) == 0 {
		return FaceResult{
			Status:     StatusNoMatch,
			Label:      unknownLabel,
			Confidence: 0.0,
		}
	}

	scores := make(map[string]float64)
	var total float64
	for _, n := range valid {
		score := 1 / (n.Distance + voteEpsilon)
		scores[labels[n.Index]] += score
		total += score
	}

	var winner string
	var best float64
	for label, score := range scores {
		if score > best || (score == best && (winner == "" || label < winner)) {
			winner = label
			best = score
		}
	}

	voteRatio := best / total
	status := StatusOK
	if voteRatio < voteThreshold {
		// The label is still surfaced below threshold; the status alone
		// marks it unreliable.
		status = StatusUnconfident
	}

	return FaceResult{
		Status:     status,
		Label:      DisplayLabel(winner),
		Confidence: round3(voteRatio),
	}
}

// round3 rounds a confidence to three decimal places.
func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
