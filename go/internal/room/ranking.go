package room

import "sort"

type submission struct {
	value float64
	seq   uint64
}

// rankScores orders submissions ascending by value. Equal values keep
// submission order.
func rankScores(scores map[string]submission, members map[string]*Member) []RankedScore {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return scores[ids[i]].seq < scores[ids[j]].seq
	})
	sort.SliceStable(ids, func(i, j int) bool {
		return scores[ids[i]].value < scores[ids[j]].value
	})

	ranked := make([]RankedScore, len(ids))
	for i, id := range ids {
		rs := RankedScore{
			PlayerID: id,
			Score:    scores[id].value,
			Rank:     i + 1,
		}
		if m, ok := members[id]; ok {
			rs.Username = m.Username
		}
		ranked[i] = rs
	}
	return ranked
}
