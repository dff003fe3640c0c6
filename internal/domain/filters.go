package domain

// Filters restricts retrieval to matching chunk metadata. Each field maps to
// its allowed values: one value is an equality constraint, several are an
// "any of" membership constraint; fields combine with logical AND.
type Filters map[string][]string

// WithSource returns filters restricted to the given sources (no-op on empty).
func (f Filters) WithSource(sources []string) Filters {
	if len(sources) == 0 {
		return f
	}
	out := f.clone()
	out["source"] = sources
	return out
}

// WithVersion returns filters restricted to the given version (no-op on empty).
func (f Filters) WithVersion(version string) Filters {
	if version == "" {
		return f
	}
	out := f.clone()
	out["version"] = []string{version}
	return out
}

func (f Filters) clone() Filters {
	out := make(Filters, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}
