package document

// EvidenceSet is an ordered collection of documents with unique URLs.
// It is owned by a single retrieval run and is not safe for concurrent use.
type EvidenceSet struct {
	docs  []Document
	index map[string]int
}

// NewEvidenceSet returns an empty set.
func NewEvidenceSet() *EvidenceSet {
	return &EvidenceSet{index: make(map[string]int)}
}

// Add appends doc unless a document with the same URL is already present.
// It reports whether doc was added.
func (s *EvidenceSet) Add(doc Document) bool {
	if _, ok := s.index[doc.URL]; ok {
		return false
	}
	s.index[doc.URL] = len(s.docs)
	s.docs = append(s.docs, doc)
	return true
}

// Len returns the number of documents.
func (s *EvidenceSet) Len() int { return len(s.docs) }

// Documents returns a copy of the documents in insertion order.
func (s *EvidenceSet) Documents() []Document {
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}
