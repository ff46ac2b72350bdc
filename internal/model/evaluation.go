package model

// Measure is one key/value pair reported by an evaluator.
type Measure struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// Evaluation is the ordered list of measures of an evaluator run.
type Evaluation struct {
	Measures []Measure `yaml:"measure" json:"measures"`
}

// Project reorders the measures along the declared keys. Duplicate keys are
// served from stored measures in encounter order, unmatched keys get an
// empty value and measures not declared are dropped. An empty key list
// leaves the evaluation unchanged.
func (e Evaluation) Project(keys []string) Evaluation {
	if len(keys) == 0 {
		return e
	}

	byKey := make(map[string][]Measure, len(e.Measures))
	for _, m := range e.Measures {
		byKey[m.Key] = append(byKey[m.Key], m)
	}

	out := Evaluation{Measures: make([]Measure, 0, len(keys))}
	for _, k := range keys {
		queue := byKey[k]
		if len(queue) == 0 {
			out.Measures = append(out.Measures, Measure{Key: k})
			continue
		}
		out.Measures = append(out.Measures, queue[0])
		byKey[k] = queue[1:]
	}
	return out
}
