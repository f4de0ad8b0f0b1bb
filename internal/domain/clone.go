package domain

import "time"

// Clone returns a structured deep copy of the state document.
// Transaction snapshots must not share references with the live state, so
// every map, slice, and pointer is copied rather than serialized.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		SchemaVersion: s.SchemaVersion,
		Checksum:      s.Checksum,
		Recovery:      s.Recovery.clone(),
		Conflicts:     s.Conflicts.clone(),
		Config:        CloneValueMap(s.Config),
	}
	out.ActiveInstance = s.ActiveInstance.clone()
	if s.CompletedSteps != nil {
		out.CompletedSteps = make([]CompletedStep, len(s.CompletedSteps))
		for i := range s.CompletedSteps {
			out.CompletedSteps[i] = s.CompletedSteps[i].clone()
		}
	}
	return out
}

func (a *ActiveInstance) clone() *ActiveInstance {
	if a == nil {
		return nil
	}
	out := *a
	out.CompletedAt = cloneTimePtr(a.CompletedAt)
	out.APIKeys = CloneValueMap(a.APIKeys)
	out.Credentials = CloneValueMap(a.Credentials)
	out.Tokens = CloneValueMap(a.Tokens)
	out.Secrets = CloneValueMap(a.Secrets)
	return &out
}

func (c CompletedStep) clone() CompletedStep {
	out := c
	if c.CommandResults != nil {
		out.CommandResults = make([]CommandResult, len(c.CommandResults))
		copy(out.CommandResults, c.CommandResults)
	}
	out.Secrets = CloneValueMap(c.Secrets)
	out.Credentials = CloneValueMap(c.Credentials)
	return out
}

func (r Recovery) clone() Recovery {
	out := r
	out.LastCorruption = cloneTimePtr(r.LastCorruption)
	out.LastWALRecovery = cloneTimePtr(r.LastWALRecovery)
	return out
}

func (c Conflicts) clone() Conflicts {
	out := c
	out.Detected = cloneTimePtr(c.Detected)
	return out
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CloneValueMap deep-copies a generic document subtree of maps, slices, and
// scalar values, as produced by YAML or JSON decoding.
func CloneValueMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single decoded document value.
func CloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return CloneValueMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = CloneValue(e)
		}
		return out
	default:
		// Scalars (string, bool, numbers, time.Time) are value types.
		return v
	}
}
