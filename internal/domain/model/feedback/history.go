package feedback

// History is an ordered view over appended message records
type History []Message

// LatestByID returns the latest record for every message id, in first-seen order
func (h History) LatestByID() []Message {
	pos := make(map[string]int)
	var out []Message
	for _, m := range h {
		if i, ok := pos[m.ID]; ok {
			out[i] = m
			continue
		}
		pos[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// LatestRound returns the highest round recorded for the pair, or 0.
// Refused records carry round 0 and never count.
func (h History) LatestRound(p Pair) int {
	round := 0
	for _, m := range h {
		if m.Pair() == p && m.Round > round {
			round = m.Round
		}
	}
	return round
}

// TargetsOf returns the distinct nodes that from has sent routed feedback to,
// in log order. Refused records (round 0) are not part of any chain.
func (h History) TargetsOf(from string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range h {
		if m.FromNode != from || m.Round == 0 {
			continue
		}
		if _, ok := seen[m.ToNode]; ok {
			continue
		}
		seen[m.ToNode] = struct{}{}
		out = append(out, m.ToNode)
	}
	return out
}
