package document

// Change is one entry of a collection's change log. Seq values are assigned
// by the remote endpoint and increase monotonically per collection.
type Change struct {
	Seq     int64    `json:"seq"`
	ID      string   `json:"id"`
	Rev     string   `json:"rev"`
	Deleted bool     `json:"deleted,omitempty"`
	Doc     Document `json:"doc,omitempty"`
}

// ChangesPage is the response of a one-shot changes request.
type ChangesPage struct {
	Results []Change `json:"results"`
	LastSeq int64    `json:"last_seq"`
}
