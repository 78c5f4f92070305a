package council

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	labelPattern    = regexp.MustCompile(`Response [A-Z]`)
	numberedPattern = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	sentinel        = "FINAL RANKING:"
	sentinelRe      = regexp.MustCompile(regexp.QuoteMeta(sentinel))
)

// ParseRanking extracts an ordered label list from a member's
// free-form ranking text. Two cascaded scans: when the FINAL RANKING
// sentinel is present, the numbered list after it wins, else every
// "Response X" after it in appearance order; without the sentinel,
// every "Response X" occurrence in the whole text. Duplicate and
// unknown labels are preserved here; the aggregate step ignores
// unknown labels and counts every position of a repeated one.
func ParseRanking(text string) []string {
	if loc := sentinelRe.FindStringIndex(text); loc != nil {
		section := text[loc[1]:]
		if numbered := numberedPattern.FindAllString(section, -1); len(numbered) > 0 {
			out := make([]string, 0, len(numbered))
			for _, m := range numbered {
				out = append(out, labelPattern.FindString(m))
			}
			return out
		}
		return labelPattern.FindAllString(section, -1)
	}
	return labelPattern.FindAllString(text, -1)
}

// FormatRanking renders labels as the numbered list the ranking prompt
// asks for. Inverse of ParseRanking for any label permutation.
func FormatRanking(labels []string) string {
	var b strings.Builder
	b.WriteString(sentinel + "\n")
	for i, l := range labels {
		b.WriteString(strconv.Itoa(i+1) + ". " + l + "\n")
	}
	return b.String()
}

// AggregateRankings computes the mean 1-based position of every model
// across the parsed rankings. Labels absent from labelToModel are
// ignored; models never ranked are omitted. Ties keep first-appearance
// order (stable sort).
func AggregateRankings(rankings []Ranking, labelToModel map[string]string) []AggregateRanking {
	positions := map[string][]int{}
	var order []string

	for _, ranking := range rankings {
		for pos, label := range ranking.Parsed {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			if _, seen := positions[model]; !seen {
				order = append(order, model)
			}
			positions[model] = append(positions[model], pos+1)
		}
	}

	out := make([]AggregateRanking, 0, len(order))
	for _, model := range order {
		ps := positions[model]
		sum := 0
		for _, p := range ps {
			sum += p
		}
		avg := float64(sum) / float64(len(ps))
		out = append(out, AggregateRanking{
			Model:         model,
			AverageRank:   roundRank(avg),
			RankingsCount: len(ps),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].AverageRank < out[j].AverageRank })
	return out
}

// roundRank keeps two decimals, matching the stored artifact format.
func roundRank(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// consensusConfidence derives confidence from the aggregate spread
// when the chairman does not self-report. A clear lead between the top
// two entries raises confidence; a lone entry gives 75; no aggregate
// at all gives 70.
func consensusConfidence(aggregate []AggregateRanking) int {
	switch {
	case len(aggregate) >= 2:
		gap := aggregate[1].AverageRank - aggregate[0].AverageRank
		c := 70 + int(gap*10)
		if c > 90 {
			c = 90
		}
		if c < 60 {
			c = 60
		}
		return c
	case len(aggregate) == 1:
		return 75
	default:
		return 70
	}
}
