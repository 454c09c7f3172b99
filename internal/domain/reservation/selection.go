package reservation

// Rank orders open candidates for an attempt. Candidates named in
// preference come first, in preference order, matched exactly by name.
// Every other open candidate follows in the order the availability view
// presented it. Closed candidates are dropped. Ranks are reassigned 0..n-1.
//
// An empty result is not an error: nothing is open.
func Rank(presented []Candidate, preference []string) []Candidate {
	var open []Candidate
	for _, c := range presented {
		if c.Open {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		return nil
	}

	used := make([]bool, len(open))
	out := make([]Candidate, 0, len(open))
	for _, name := range preference {
		for i, c := range open {
			if used[i] || c.Name != name {
				continue
			}
			used[i] = true
			out = append(out, c)
		}
	}
	for i, c := range open {
		if !used[i] {
			out = append(out, c)
		}
	}
	for i := range out {
		out[i].Rank = i
	}
	return out
}
