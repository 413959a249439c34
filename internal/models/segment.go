package models

// Segment is a token-bounded slice of the uploaded text. Position is its
// index in the ordered segment sequence and in the vector index.
type Segment struct {
	Position int    `json:"position" msgpack:"position"`
	Content  string `json:"content" msgpack:"content"`
}

// Neighbor is one search hit. Distance is the squared L2 distance.
type Neighbor struct {
	Position int
	Distance float32
}

// Contents returns the text of each segment, in order.
func Contents(segments []Segment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Content
	}
	return out
}

// NewSegments numbers texts by position.
func NewSegments(texts []string) []Segment {
	out := make([]Segment, len(texts))
	for i, t := range texts {
		out[i] = Segment{Position: i, Content: t}
	}
	return out
}
