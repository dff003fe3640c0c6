package domain

// Hit is a single normalized search result. ID is the corpus-stable document
// key (not the search engine's internal identifier); the same ID may appear in
// both the lexical and vector rankings for one query, which is how fusion
// joins them.
type Hit struct {
	ID      string
	Score   float64
	Rank    int
	Content string
	Snippet string
	Source  string
	Version string
	HPath   []string
	URL     string
}

// Ranking is an ordered result list from exactly one retrieval path.
// Rank 1 is best.
type Ranking []Hit
