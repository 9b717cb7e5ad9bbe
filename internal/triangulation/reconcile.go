package triangulation

import "github.com/cogtri/pipeline/internal/model"

// Verdict is the terminal state reconciliation assigns a relationship.
type Verdict string

const (
	VerdictValidated Verdict = "validated"
	VerdictRejected  Verdict = "rejected"
)

// Result is the output of one reconciliation pass over a sealed evidence
// bundle.
type Result struct {
	FinalConfidence float64
	Verdict         Verdict
}

// Params bundles the configurable knobs of the reconciliation algorithm
// (spec.md §6 triangulation.*).
type Params struct {
	PassWeights map[model.Pass]float64
	Boost       float64 // agreement boost α
	Penalty     float64 // disagreement penalty β
	Threshold   float64 // τ
}

// defaultPassWeight is used when a pass present in the evidence has no
// configured weight (spec.md Open Question 1: the weight table is
// configuration, not a hard-coded constant).
const defaultPassWeight = 1.0

// Reconcile folds a sealed evidence bundle into a single final confidence
// and validate/reject decision.
//
// Algorithm (spec.md §4.6):
//
//  1. Partition evidence into agreers (agrees=true) grouped by
//     originating pass, and disagreers (agrees=false: a pass expected to
//     emit the candidate that did not, or that emitted a contradiction).
//  2. The initial score is the weighted mean, by pass weight, of one
//     representative confidence per distinct agreeing pass (the
//     strongest confidence reported by that pass — using the maximum
//     rather than a per-pass average keeps the aggregate from being
//     pulled down by a later, weaker repeat of the same pass, which
//     would otherwise break the monotonicity invariant below).
//  3. Each evidence item beyond the first for an already-represented
//     pass — i.e. the same pass independently reconfirming the same
//     candidate, which spec.md §4 explicitly allows ("each relationship
//     candidate may be seen zero or more times per pass") — applies one
//     agreement boost: s ← s + (1−s)·α.
//  4. Each disagreer applies one disagreement penalty: s ← s·β.
//  5. s is clamped to [0,1] after every step.
//
// Boosts are always applied before penalties, regardless of the order
// evidence arrived in, which is what makes the function order-insensitive
// and idempotent: it depends only on the multiset of evidence, never on
// arrival order.
func Reconcile(evidence []model.EvidenceItem, p Params) Result {
	conf := ComputeConfidence(evidence, p.PassWeights, p.Boost, p.Penalty)
	v := VerdictRejected
	if conf >= p.Threshold {
		v = VerdictValidated
	}
	return Result{FinalConfidence: conf, Verdict: v}
}

// ComputeConfidence is the pure scoring function underlying Reconcile,
// exposed separately so it can be property-tested without the
// verdict/threshold wrapping.
func ComputeConfidence(evidence []model.EvidenceItem, passWeights map[model.Pass]float64, boost, penalty float64) float64 {
	type passEvidence struct {
		max   float64
		extra int
	}
	byPass := make(map[model.Pass]*passEvidence)
	disagreers := 0

	for _, e := range evidence {
		if !e.Agrees {
			disagreers++
			continue
		}
		pe, ok := byPass[e.Pass]
		if !ok {
			byPass[e.Pass] = &passEvidence{max: e.RawConfidence}
			continue
		}
		if e.RawConfidence > pe.max {
			pe.max = e.RawConfidence
		}
		pe.extra++
	}

	if len(byPass) == 0 {
		// No agreement at all: the only evidence is disagreement, or
		// there is no evidence. Either way there is nothing to boost
		// from, so the score is zero and any disagreement penalties
		// are no-ops (0 * β = 0).
		return 0
	}

	var weightedSum, weightSum float64
	extraBoosts := 0
	for pass, pe := range byPass {
		w := passWeights[pass]
		if w <= 0 {
			w = defaultPassWeight
		}
		weightedSum += w * pe.max
		weightSum += w
		extraBoosts += pe.extra
	}

	s := weightedSum / weightSum

	for i := 0; i < extraBoosts; i++ {
		s = clamp01(s + (1-s)*boost)
	}
	for i := 0; i < disagreers; i++ {
		s = clamp01(s * penalty)
	}
	return clamp01(s)
}

func clamp01(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
