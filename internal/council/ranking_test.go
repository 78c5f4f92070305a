package council

import (
	"reflect"
	"testing"
)

func TestParseRankingNumberedAfterSentinel(t *testing.T) {
	text := "A is strong, B weaker.\n\nFINAL RANKING:\n1. Response B\n2. Response A"
	got := ParseRanking(text)
	want := []string{"Response B", "Response A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseRankingDuplicatedIndex(t *testing.T) {
	// Appearance order wins even when the model repeats an index.
	text := "A is best. B ok. C worst.\n\nFINAL RANKING:\n1. Response A\n2. Response C\n2. Response B"
	got := ParseRanking(text)
	want := []string{"Response A", "Response C", "Response B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseRankingSentinelWithoutNumbers(t *testing.T) {
	text := "FINAL RANKING:\nResponse C then Response A then Response B"
	got := ParseRanking(text)
	want := []string{"Response C", "Response A", "Response B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseRankingFallbackOverFullText(t *testing.T) {
	text := "I prefer Response B over Response A, and Response C last."
	got := ParseRanking(text)
	want := []string{"Response B", "Response A", "Response C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseRankingEmpty(t *testing.T) {
	if got := ParseRanking("no labels here at all"); len(got) != 0 {
		t.Fatalf("expected no labels, got %v", got)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	perms := [][]string{
		{"Response A"},
		{"Response B", "Response A"},
		{"Response C", "Response A", "Response D", "Response B"},
	}
	for _, labels := range perms {
		got := ParseRanking(FormatRanking(labels))
		if !reflect.DeepEqual(got, labels) {
			t.Fatalf("round trip failed: %v -> %v", labels, got)
		}
	}
}

func TestAggregateRankings(t *testing.T) {
	labelToModel := map[string]string{
		"Response A": "m1",
		"Response B": "m2",
		"Response C": "m3",
	}
	rankings := []Ranking{
		{Model: "m1", Parsed: []string{"Response A", "Response B", "Response C"}},
		{Model: "m2", Parsed: []string{"Response B", "Response A", "Response C"}},
		{Model: "m3", Parsed: []string{"Response A", "Response B", "Response C"}},
	}

	agg := AggregateRankings(rankings, labelToModel)
	if len(agg) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(agg))
	}
	// m1: positions 1,2,1 -> 1.33; m2: 2,1,2 -> 1.67; m3: 3,3,3 -> 3
	if agg[0].Model != "m1" || agg[0].AverageRank != 1.33 || agg[0].RankingsCount != 3 {
		t.Fatalf("unexpected top entry: %+v", agg[0])
	}
	if agg[1].Model != "m2" || agg[2].Model != "m3" {
		t.Fatalf("unexpected order: %+v", agg)
	}

	// Every aggregate rank stays within [1, successes].
	for _, a := range agg {
		if a.AverageRank < 1 || a.AverageRank > 3 {
			t.Fatalf("rank out of bounds: %+v", a)
		}
	}
}

func TestAggregateRankingsIgnoresUnknownLabels(t *testing.T) {
	labelToModel := map[string]string{"Response A": "m1"}
	rankings := []Ranking{
		{Model: "m1", Parsed: []string{"Response Z", "Response A"}},
	}
	agg := AggregateRankings(rankings, labelToModel)
	if len(agg) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(agg))
	}
	// Position counts the parsed slot, unknown labels still occupy one.
	if agg[0].Model != "m1" || agg[0].AverageRank != 2 {
		t.Fatalf("unexpected entry: %+v", agg[0])
	}
}

func TestAggregateRankingsSingleSuccess(t *testing.T) {
	labelToModel := map[string]string{"Response A": "m1"}
	rankings := []Ranking{
		{Model: "m1", Parsed: []string{"Response A"}},
		{Model: "m2", Parsed: []string{"Response A"}},
	}
	agg := AggregateRankings(rankings, labelToModel)
	if len(agg) != 1 || agg[0].AverageRank != 1 || agg[0].RankingsCount != 2 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestAggregateRankingsTieKeepsAppearanceOrder(t *testing.T) {
	labelToModel := map[string]string{
		"Response A": "m1",
		"Response B": "m2",
	}
	rankings := []Ranking{
		{Model: "m1", Parsed: []string{"Response A", "Response B"}},
		{Model: "m2", Parsed: []string{"Response B", "Response A"}},
	}
	agg := AggregateRankings(rankings, labelToModel)
	if len(agg) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(agg))
	}
	if agg[0].Model != "m1" || agg[1].Model != "m2" {
		t.Fatalf("tie should keep first-appearance order: %+v", agg)
	}
}

func TestConsensusConfidence(t *testing.T) {
	cases := []struct {
		name string
		agg  []AggregateRanking
		want int
	}{
		{"empty", nil, 70},
		{"single", []AggregateRanking{{Model: "m1", AverageRank: 1}}, 75},
		{"small gap", []AggregateRanking{{AverageRank: 1.5}, {AverageRank: 1.8}}, 73},
		{"large gap clamped", []AggregateRanking{{AverageRank: 1}, {AverageRank: 4}}, 90},
		{"zero gap floor", []AggregateRanking{{AverageRank: 2}, {AverageRank: 2}}, 70},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := consensusConfidence(tc.agg); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	if Label(0) != "Response A" || Label(2) != "Response C" {
		t.Fatalf("unexpected labels: %q %q", Label(0), Label(2))
	}
}
