package triangulation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogtri/pipeline/internal/model"
)

func defaultParams() Params {
	return Params{
		PassWeights: map[model.Pass]float64{
			model.PassDeterministic: 1.0,
			model.PassGlobal:        0.7,
			model.PassIntraDir:      0.6,
			model.PassIntraFile:     0.5,
		},
		Boost:     0.2,
		Penalty:   0.5,
		Threshold: 0.6,
	}
}

// Seed scenario 1: single agreer yields the raw confidence unchanged.
func TestReconcile_SingleAgreerIsRawConfidence(t *testing.T) {
	evidence := []model.EvidenceItem{
		{Pass: model.PassIntraFile, RawConfidence: 0.8, Agrees: true},
	}
	res := Reconcile(evidence, defaultParams())
	assert.InDelta(t, 0.8, res.FinalConfidence, 1e-9)
	assert.Equal(t, VerdictValidated, res.Verdict)
}

// Seed scenario 3: two distinct agreeing passes combine via the weighted
// mean; with exactly one representative confidence per pass there is no
// additional-agreer boost.
func TestReconcile_AgreementAcrossDistinctPasses(t *testing.T) {
	evidence := []model.EvidenceItem{
		{Pass: model.PassDeterministic, RawConfidence: 1.0, Agrees: true},
		{Pass: model.PassIntraDir, RawConfidence: 0.8, Agrees: true},
	}
	res := Reconcile(evidence, defaultParams())
	want := (1.0*1.0 + 0.8*0.6) / (1.0 + 0.6)
	assert.InDelta(t, want, res.FinalConfidence, 1e-9)
	assert.Equal(t, VerdictValidated, res.Verdict)
}

// Seed scenario 4: a single agreer plus one disagreer applies exactly one
// multiplicative penalty.
func TestReconcile_DisagreementPenalty(t *testing.T) {
	evidence := []model.EvidenceItem{
		{Pass: model.PassIntraFile, RawConfidence: 0.7, Agrees: true},
		{Pass: model.PassIntraDir, RawConfidence: 0, Agrees: false},
	}
	res := Reconcile(evidence, defaultParams())
	assert.InDelta(t, 0.35, res.FinalConfidence, 1e-9)
	assert.Equal(t, VerdictRejected, res.Verdict)
}

// A repeated confirmation from the same pass applies an agreement boost
// on top of the baseline.
func TestReconcile_RepeatedSamePassBoosts(t *testing.T) {
	base := []model.EvidenceItem{
		{Pass: model.PassIntraFile, RawConfidence: 0.5, Agrees: true},
	}
	repeated := []model.EvidenceItem{
		{Pass: model.PassIntraFile, RawConfidence: 0.5, Agrees: true},
		{Pass: model.PassIntraFile, RawConfidence: 0.5, Agrees: true},
	}
	baseConf := ComputeConfidence(base, defaultParams().PassWeights, 0.2, 0.5)
	repeatedConf := ComputeConfidence(repeated, defaultParams().PassWeights, 0.2, 0.5)
	want := clamp01(0.5 + (1-0.5)*0.2)
	assert.InDelta(t, want, repeatedConf, 1e-9)
	assert.Greater(t, repeatedConf, baseConf)
}

func TestReconcile_NoEvidenceIsZero(t *testing.T) {
	res := Reconcile(nil, defaultParams())
	assert.Equal(t, 0.0, res.FinalConfidence)
	assert.Equal(t, VerdictRejected, res.Verdict)
}

func TestReconcile_OnlyDisagreementIsZero(t *testing.T) {
	evidence := []model.EvidenceItem{
		{Pass: model.PassIntraFile, RawConfidence: 0, Agrees: false},
	}
	res := Reconcile(evidence, defaultParams())
	assert.Equal(t, 0.0, res.FinalConfidence)
}

// Order-insensitivity (I6/I7): permuting the evidence list never changes
// the result, since the function groups by pass before applying any
// boost/penalty arithmetic.
func TestReconcile_OrderInsensitive(t *testing.T) {
	evidence := []model.EvidenceItem{
		{Pass: model.PassDeterministic, RawConfidence: 0.9, Agrees: true},
		{Pass: model.PassIntraDir, RawConfidence: 0.6, Agrees: true},
		{Pass: model.PassIntraFile, RawConfidence: 0.4, Agrees: true},
		{Pass: model.PassGlobal, RawConfidence: 0, Agrees: false},
	}
	params := defaultParams()
	want := Reconcile(evidence, params)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.EvidenceItem(nil), evidence...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := Reconcile(shuffled, params)
		require.InDelta(t, want.FinalConfidence, got.FinalConfidence, 1e-9)
	}
}

// Idempotence (I6): reconciling the same bundle twice yields the same
// result.
func TestReconcile_Idempotent(t *testing.T) {
	evidence := []model.EvidenceItem{
		{Pass: model.PassDeterministic, RawConfidence: 0.9, Agrees: true},
		{Pass: model.PassIntraDir, RawConfidence: 0.6, Agrees: true},
	}
	params := defaultParams()
	first := Reconcile(evidence, params)
	second := Reconcile(evidence, params)
	assert.Equal(t, first, second)
}

// Boundedness (I7): across a large random sample of evidence sequences,
// the final confidence always stays within [0,1].
func TestReconcile_Bounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	params := defaultParams()
	passes := []model.Pass{model.PassDeterministic, model.PassGlobal, model.PassIntraDir, model.PassIntraFile}
	for i := 0; i < 500; i++ {
		n := rng.Intn(8)
		var evidence []model.EvidenceItem
		for j := 0; j < n; j++ {
			evidence = append(evidence, model.EvidenceItem{
				Pass:          passes[rng.Intn(len(passes))],
				RawConfidence: rng.Float64(),
				Agrees:        rng.Float64() > 0.3,
			})
		}
		res := Reconcile(evidence, params)
		require.GreaterOrEqual(t, res.FinalConfidence, 0.0)
		require.LessOrEqual(t, res.FinalConfidence, 1.0)
	}
}

// Monotonic in agreers for fixed disagreers: adding a same-pass
// reconfirmation whose confidence does not exceed the existing
// representative value for that pass never decreases the score, since it
// strictly adds one more agreement-boost application.
func TestReconcile_MonotonicInRepeatedAgreers(t *testing.T) {
	params := defaultParams()
	evidence := []model.EvidenceItem{
		{Pass: model.PassIntraDir, RawConfidence: 0.9, Agrees: true},
		{Pass: model.PassGlobal, RawConfidence: 0, Agrees: false},
	}
	prev := Reconcile(evidence, params).FinalConfidence
	for i := 0; i < 5; i++ {
		evidence = append(evidence, model.EvidenceItem{Pass: model.PassIntraDir, RawConfidence: 0.9, Agrees: true})
		next := Reconcile(evidence, params).FinalConfidence
		require.GreaterOrEqual(t, next, prev)
		prev = next
	}
}

// Disagreement only ever holds the score steady or pulls it down (β ≤ 1).
func TestReconcile_DisagreementNeverIncreases(t *testing.T) {
	params := defaultParams()
	evidence := []model.EvidenceItem{
		{Pass: model.PassIntraDir, RawConfidence: 0.9, Agrees: true},
	}
	prev := Reconcile(evidence, params).FinalConfidence
	for i := 0; i < 5; i++ {
		evidence = append(evidence, model.EvidenceItem{Pass: model.PassGlobal, RawConfidence: 0, Agrees: false})
		next := Reconcile(evidence, params).FinalConfidence
		require.LessOrEqual(t, next, prev)
		prev = next
	}
}
