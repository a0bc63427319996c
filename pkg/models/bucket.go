package models

// Bucket is the loaded window of rows sharing one date key. Results is a
// contiguous prefix of the server-side rows for that date in sort order and
// Count is the true server-side total, so Count >= len(Results).
type Bucket struct {
	Results []Row `json:"results"`
	Count   int   `json:"count"`
	Loading bool  `json:"-"`
}

// FullyLoaded reports whether every server-side row of the bucket is loaded.
func (b Bucket) FullyLoaded() bool {
	return len(b.Results) == b.Count
}

func (b Bucket) Clone() Bucket {
	return Bucket{Results: CloneRows(b.Results), Count: b.Count, Loading: b.Loading}
}

// IndexOf returns the position of the row with the given id, or -1.
func (b Bucket) IndexOf(rowID int64) int {
	for i := range b.Results {
		if b.Results[i].ID == rowID {
			return i
		}
	}
	return -1
}
