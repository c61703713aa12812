package belief

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wakala/reconagent/internal/domain"
	"github.com/wakala/reconagent/internal/evidence"
)

func disc(t domain.DiscrepancyType, ids ...string) domain.Discrepancy {
	return domain.Discrepancy{Type: t, TransactionIDs: ids}
}

func alert(t domain.AlertType, score int) domain.FraudAlert {
	return domain.FraudAlert{AlertType: t, RiskScore: score}
}

func assertSumsToOne(t *testing.T, d domain.Distribution) {
	t.Helper()
	// Per-entry rounding may leave the sum off by a hundredth.
	assert.InDelta(t, 1.0, d.Sum(), 0.0101)
}

// --- weights ---

func TestNewWeights_PrefersSourceAgnosticRow(t *testing.T) {
	w := NewWeights([]domain.HypothesisWeight{
		{HypothesisType: "MISSING_DEPOSIT", SourceName: "PSP-Y", Weight: 3},
		{HypothesisType: "MISSING_DEPOSIT", SourceName: "PSP-X", Weight: 2},
		{HypothesisType: "VELOCITY_SPIKE", SourceName: "PSP-X", Weight: 5},
		{HypothesisType: "VELOCITY_SPIKE", Weight: 1.5},
		{HypothesisType: "FX_MISMATCH", Weight: 0},
	})
	assert.InDelta(t, 2.0, w.For("MISSING_DEPOSIT"), 1e-9)
	assert.InDelta(t, 1.5, w.For("VELOCITY_SPIKE"), 1e-9)
	assert.InDelta(t, 1.0, w.For("FX_MISMATCH"), 1e-9)
	assert.InDelta(t, 1.0, w.For("UNSEEDED"), 1e-9)
}

// --- initial distribution ---

func TestInitial_NoEvidenceIsEmpty(t *testing.T) {
	d := Initial(nil, nil, nil)
	assert.True(t, d.Empty())
}

func TestInitial_AccumulatesAndSorts(t *testing.T) {
	d := Initial(
		[]domain.Discrepancy{
			disc(domain.DiscrepancyMissingDeposit, "A", "B", "C", "D", "E", "F", "G", "H", "I", "J"),
			disc(domain.DiscrepancyFXMismatch, "K", "L", "M"),
		},
		[]domain.FraudAlert{
			alert(domain.AlertVelocitySpike, 30),
			alert(domain.AlertVelocitySpike, 30),
			alert(domain.AlertAmountAnomaly, 40),
		},
		nil,
	)
	require.Len(t, d, 4)
	// Scores: velocity 60, anomaly 40, missing 10, fx 3 of 113.
	assert.Equal(t, "VELOCITY_SPIKE", d[0].Type)
	assert.Equal(t, "AMOUNT_ANOMALY", d[1].Type)
	assert.Equal(t, "MISSING_DEPOSIT", d[2].Type)
	assert.Equal(t, "FX_MISMATCH", d[3].Type)
	assert.InDelta(t, 0.53, d[0].Belief, 1e-9)
	assert.InDelta(t, 0.35, d[1].Belief, 1e-9)
	assert.InDelta(t, 0.09, d[2].Belief, 1e-9)
	assert.InDelta(t, 0.03, d[3].Belief, 1e-9)
	assertSumsToOne(t, d)
}

func TestInitial_EmptyDiscrepancyCountsAsOne(t *testing.T) {
	d := Initial([]domain.Discrepancy{
		disc(domain.DiscrepancyMissingDeposit),
		disc(domain.DiscrepancyFXMismatch, "A"),
	}, nil, nil)
	require.Len(t, d, 2)
	assert.InDelta(t, 0.5, d[0].Belief, 1e-9)
	assert.InDelta(t, 0.5, d[1].Belief, 1e-9)
	// Stable on ties: insertion order is kept.
	assert.Equal(t, "MISSING_DEPOSIT", d[0].Type)
}

func TestInitial_AppliesWeights(t *testing.T) {
	w := Weights{"FX_MISMATCH": 3}
	d := Initial([]domain.Discrepancy{
		disc(domain.DiscrepancyMissingDeposit, "A", "B", "C"),
		disc(domain.DiscrepancyFXMismatch, "D", "E", "F"),
	}, nil, w)
	assert.Equal(t, "FX_MISMATCH", d[0].Type)
	assert.InDelta(t, 0.75, d[0].Belief, 1e-9)
	assert.InDelta(t, 0.25, d[1].Belief, 1e-9)
}

func TestInitial_ZeroTotalGivesZeroBeliefs(t *testing.T) {
	d := Initial(nil, []domain.FraudAlert{alert(domain.AlertVelocitySpike, 0)}, nil)
	require.Len(t, d, 1)
	assert.Zero(t, d[0].Belief)
	assert.Zero(t, d.Sum())
}

func TestNormalize_RoundsEachEntry(t *testing.T) {
	d := Initial(nil, []domain.FraudAlert{
		alert(domain.AlertVelocitySpike, 1),
		alert(domain.AlertAmountAnomaly, 1),
		alert(domain.AlertStructuringPattern, 1),
	}, nil)
	require.Len(t, d, 3)
	for _, b := range d {
		assert.Equal(t, 0.33, b.Belief)
	}
	assert.InDelta(t, 0.99, d.Sum(), 1e-9)
	assertSumsToOne(t, d)
}

func TestNormalize_LeftoverIsNotPushedOntoTop(t *testing.T) {
	d := Initial(nil, []domain.FraudAlert{
		alert(domain.AlertAmountAnomaly, 794),
		alert(domain.AlertVelocitySpike, 103),
		alert(domain.AlertStructuringPattern, 103),
	}, nil)
	require.Len(t, d, 3)
	assert.Equal(t, "AMOUNT_ANOMALY", d[0].Type)
	assert.Equal(t, 0.79, d[0].Belief)
	assert.Equal(t, 0.1, d[1].Belief)
	assert.Equal(t, 0.1, d[2].Belief)

	// 0.79 is below the stop threshold, so one reinforcing pass runs:
	// 0.94 / 1.14 = 0.82.
	reg := evidence.NewRegistry()
	tool := &stubTool{name: "analyzeAmountAnomaly", ev: evidence.Evidence{Type: "AMOUNT_ANOMALY"}}
	reg.Register("AMOUNT_ANOMALY", tool)
	logs := &mockLogs{}
	logs.On("Append", mock.Anything, mock.Anything).Return(nil)

	out, err := newInvestigator(reg, logs).Investigate(context.Background(), "run-1", d)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Iterations)
	assert.Equal(t, 1, tool.hits)
	assert.Equal(t, 0.82, out.Final[0].Belief)
}

// --- reinforcement ---

func TestReinforce(t *testing.T) {
	d := domain.Distribution{
		{Type: "MISSING_DEPOSIT", Belief: 0.6},
		{Type: "FX_MISMATCH", Belief: 0.4},
	}
	got := Reinforce(d, "FX_MISMATCH")
	// 0.6 / 1.15 and 0.55 / 1.15
	assert.Equal(t, "MISSING_DEPOSIT", got[0].Type)
	assert.InDelta(t, 0.52, got[0].Belief, 1e-9)
	assert.InDelta(t, 0.48, got[1].Belief, 1e-9)
	assertSumsToOne(t, got)

	// Unknown evidence types leave the ordering alone.
	same := Reinforce(d, "GENERIC")
	assert.Equal(t, d, same)
}

func TestReinforce_CapsAtOne(t *testing.T) {
	d := domain.Distribution{{Type: "A", Belief: 0.95}, {Type: "B", Belief: 0.05}}
	got := Reinforce(d, "A")
	// (1.0, 0.05) / 1.05
	assert.InDelta(t, 0.95, got[0].Belief, 1e-9)
	assert.InDelta(t, 0.05, got[1].Belief, 1e-9)
}

// --- investigator ---

type stubTool struct {
	name string
	ev   evidence.Evidence
	err  error
	hits int
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Analyze(context.Context, string) (*evidence.Evidence, error) {
	s.hits++
	if s.err != nil {
		return nil, s.err
	}
	ev := s.ev
	return &ev, nil
}

type mockLogs struct {
	mock.Mock
}

func (m *mockLogs) Append(ctx context.Context, e *domain.InvestigationLogEntry) error {
	return m.Called(ctx, e).Error(0)
}

func newInvestigator(reg *evidence.Registry, logs LogWriter) *Investigator {
	inv := NewInvestigator(reg, logs)
	inv.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return inv
}

func TestInvestigate_StopsAfterTwoIterations(t *testing.T) {
	reg := evidence.NewRegistry()
	missing := &stubTool{name: "analyzeMissingDeposits", ev: evidence.Evidence{Type: "MISSING_DEPOSIT", Strength: 3}}
	reg.Register("MISSING_DEPOSIT", missing)

	logs := &mockLogs{}
	logs.On("Append", mock.Anything, mock.Anything).Return(nil)

	start := domain.Distribution{
		{Type: "MISSING_DEPOSIT", Belief: 0.4},
		{Type: "FX_MISMATCH", Belief: 0.3},
		{Type: "VELOCITY_SPIKE", Belief: 0.3},
	}
	out, err := newInvestigator(reg, logs).Investigate(context.Background(), "run-1", start)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, 2, missing.hits)
	require.Len(t, out.Entries, 2)
	assert.Equal(t, 1, out.Entries[0].Iteration)
	assert.Equal(t, 2, out.Entries[1].Iteration)
	assert.Equal(t, "analyzeMissingDeposits", out.Entries[0].ToolCalled)
	assert.Contains(t, out.Entries[0].EvidenceSummary, `"evidenceStrength":3`)
	assert.Equal(t, "MISSING_DEPOSIT", out.Final[0].Type)
	assert.Greater(t, out.Final[0].Belief, start[0].Belief)
	assertSumsToOne(t, out.Final)
	logs.AssertNumberOfCalls(t, "Append", 2)
}

func TestInvestigate_StopsOnceConfident(t *testing.T) {
	reg := evidence.NewRegistry()
	tool := &stubTool{name: "analyzeVelocityRisk", ev: evidence.Evidence{Type: "VELOCITY_SPIKE"}}
	reg.Register("VELOCITY_SPIKE", tool)

	logs := &mockLogs{}
	logs.On("Append", mock.Anything, mock.Anything).Return(nil)

	start := domain.Distribution{{Type: "VELOCITY_SPIKE", Belief: 0.7}, {Type: "FX_MISMATCH", Belief: 0.3}}
	out, err := newInvestigator(reg, logs).Investigate(context.Background(), "run-1", start)
	require.NoError(t, err)

	// 0.85 / 1.15 = 0.74 after one pass, 0.89 / 1.15 = 0.77 after two.
	assert.Equal(t, 2, out.Iterations)

	confident := domain.Distribution{{Type: "VELOCITY_SPIKE", Belief: 0.8}, {Type: "FX_MISMATCH", Belief: 0.2}}
	out, err = newInvestigator(reg, logs).Investigate(context.Background(), "run-2", confident)
	require.NoError(t, err)
	assert.Zero(t, out.Iterations)
	assert.Equal(t, confident, out.Final)
}

func TestInvestigate_UnmappedUsesGeneric(t *testing.T) {
	logs := &mockLogs{}
	logs.On("Append", mock.Anything, mock.MatchedBy(func(e *domain.InvestigationLogEntry) bool {
		return e.ToolCalled == "genericInvestigation"
	})).Return(nil)

	start := domain.Distribution{{Type: "MYSTERY", Belief: 0.5}, {Type: "OTHER", Belief: 0.5}}
	out, err := newInvestigator(evidence.NewRegistry(), logs).Investigate(context.Background(), "run-1", start)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, start, out.Final)
	logs.AssertExpectations(t)
}

func TestInvestigate_SkipsEmptyAndZeroDistributions(t *testing.T) {
	logs := &mockLogs{}
	inv := newInvestigator(evidence.NewRegistry(), logs)

	out, err := inv.Investigate(context.Background(), "run-1", domain.Distribution{})
	require.NoError(t, err)
	assert.Zero(t, out.Iterations)

	out, err = inv.Investigate(context.Background(), "run-1", domain.Distribution{{Type: "A"}})
	require.NoError(t, err)
	assert.Zero(t, out.Iterations)
	logs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestInvestigate_ToolAndLogFailuresAbort(t *testing.T) {
	reg := evidence.NewRegistry()
	reg.Register("A", &stubTool{name: "broken", err: errors.New("store down")})
	start := domain.Distribution{{Type: "A", Belief: 0.5}, {Type: "B", Belief: 0.5}}

	_, err := newInvestigator(reg, &mockLogs{}).Investigate(context.Background(), "run-1", start)
	require.Error(t, err)

	logs := &mockLogs{}
	logs.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	_, err = newInvestigator(evidence.NewRegistry(), logs).Investigate(context.Background(), "run-1", start)
	require.Error(t, err)
}
