// Package classify gives downloaded images semantic names. An external
// oracle is tried first; a rule tier that always answers backs it up.
package classify

import (
	"fmt"
	"strings"
)

// SemanticType is what an image depicts on the page. The declaration order
// of Types breaks confidence ties.
type SemanticType string

const (
	Hero    SemanticType = "hero"
	Product SemanticType = "product"
	Detail  SemanticType = "detail"
	Icon    SemanticType = "icon"
	News    SemanticType = "news"
	Team    SemanticType = "team"
	Unknown SemanticType = "unknown"
)

// Types lists every semantic type in tie-break order.
var Types = []SemanticType{Hero, Product, Detail, Icon, News, Team, Unknown}

// ParseType maps free text onto a known type.
func ParseType(s string) (SemanticType, bool) {
	t := SemanticType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, true
		}
	}
	return Unknown, false
}

func (t SemanticType) rank() int {
	for i, known := range Types {
		if t == known {
			return i
		}
	}
	return len(Types)
}

// Judgement is one tier's verdict on an image. Confidence is 0 to 10.
type Judgement struct {
	Type        SemanticType `json:"semantic_type"`
	Description string       `json:"short_description"`
	Confidence  int          `json:"confidence"`
}

// better reports whether j should win over other: higher confidence first,
// then the earlier declared type.
func (j Judgement) better(other Judgement) bool {
	if j.Confidence != other.Confidence {
		return j.Confidence > other.Confidence
	}
	return j.Type.rank() < other.Type.rank()
}

// State tracks an artifact through classification.
type State int

const (
	Unclassified State = iota
	Classifying
	Classified
	Unresolved
	Failed
)

func (s State) String() string {
	switch s {
	case Unclassified:
		return "unclassified"
	case Classifying:
		return "classifying"
	case Classified:
		return "classified"
	case Unresolved:
		return "unresolved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func allowed(from, to State) bool {
	switch from {
	case Unclassified:
		return to == Classifying
	case Classifying:
		return to == Classified || to == Unresolved || to == Failed
	case Classified, Unresolved:
		// re-running a batch
		return to == Classifying
	default:
		return false
	}
}

// Input describes one artifact already on disk.
type Input struct {
	Name        string // current file name in the output directory
	Path        string
	MIME        string
	Size        int64
	Index       int // discovery order on the page
	SourceURL   string
	Alt         string
	Title       string
	PageContext string
}

// Result is the outcome for one artifact.
type Result struct {
	Input
	FinalName string
	State     State
	Judgement Judgement
	Strategy  string // tier that produced Judgement
	Rejection *RejectionError
	Err       error
}

func (r *Result) transition(to State) error {
	if !allowed(r.State, to) {
		return fmt.Errorf("invalid transition for %q: %s -> %s", r.Name, r.State, to)
	}
	r.State = to
	return nil
}
