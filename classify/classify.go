// Package classify decides whether a Wikidata entry is an acceptable link
// target for a geographic feature by walking its subclass-of ancestry.
package classify

import (
	"context"
	"fmt"

	"wikivalidator/knowledge"
)

// Category is the outcome of classifying a Wikidata entry.
type Category int

const (
	// Unrecognized means the ancestry matched no rule table; callers must
	// treat it as "insufficient taxonomy data", never as a violation.
	Unrecognized Category = iota
	// MissingData means the base entry has no taxonomy data at all.
	MissingData
	Disambiguation
	Human
	Organization
	Accepted
)

func (c Category) String() string {
	switch c {
	case Disambiguation:
		return "disambiguation"
	case Human:
		return "human"
	case Organization:
		return "organization"
	case Accepted:
		return "accepted"
	case MissingData:
		return "missing classification data"
	default:
		return "unrecognized"
	}
}

// Disallowed markers, checked before the allow list so that an entry
// reachable from both always reports as suspicious.
const (
	markerDisambiguation = "Q4167410"
	markerHuman          = "Q5"
	markerOrganization   = "Q43229"
)

// allowedTypes are concrete categories considered acceptable link targets.
var allowedTypes = map[string]string{
	"Q486972":   "human settlement",
	"Q811979":   "designed structure",
	"Q46831":    "mountain range",
	"Q11776944": "megaregion",
	"Q31855":    "research institute",
	"Q34442":    "road",
	"Q2143825":  "walking path",
	"Q11634":    "art of sculpture",
	"Q56061":    "administrative territorial entity",
	"Q473972":   "protected area",
	"Q4022":     "river",
	"Q22698":    "park",
	"Q11446":    "ship",
	"Q57607":    "christmas market",
}

// abstractConcepts are entries too broad to be informative; they are never
// expanded, which also bounds the traversal depth.
var abstractConcepts = map[string]struct{}{
	"Q1801244":  {}, "Q28732711": {}, "Q223557": {}, "Q488383": {},
	"Q16686448": {}, "Q151885": {}, "Q35120": {}, "Q37260": {},
	"Q246672":   {}, "Q5127848": {}, "Q16889133": {}, "Q386724": {},
	"Q17008256": {}, "Q11348": {}, "Q11028": {}, "Q1260632": {},
	"Q1209283":  {},
}

// Classifier resolves entry categories through the knowledge base.
type Classifier struct {
	kb knowledge.Client
}

// New builds a Classifier on top of the given (typically cached) client.
func New(kb knowledge.Client) *Classifier {
	return &Classifier{kb: kb}
}

// Classify walks subclass-of edges from baseID, visiting each entry at most
// once, and matches the full ancestor set against the rule tables.
func (c *Classifier) Classify(ctx context.Context, baseID string) (Category, error) {
	visited, hasData, err := c.ancestors(ctx, baseID)
	if err != nil {
		return Unrecognized, err
	}
	if _, ok := visited[markerDisambiguation]; ok {
		return Disambiguation, nil
	}
	if _, ok := visited[markerHuman]; ok {
		return Human, nil
	}
	if _, ok := visited[markerOrganization]; ok {
		return Organization, nil
	}
	for id := range visited {
		if _, ok := allowedTypes[id]; ok {
			return Accepted, nil
		}
	}
	if !hasData {
		return MissingData, nil
	}
	return Unrecognized, nil
}

// Ancestors returns the set of ids reachable from baseID over subclass-of
// edges, including baseID itself.
func (c *Classifier) Ancestors(ctx context.Context, baseID string) (map[string]struct{}, error) {
	visited, _, err := c.ancestors(ctx, baseID)
	return visited, err
}

func (c *Classifier) ancestors(ctx context.Context, baseID string) (map[string]struct{}, bool, error) {
	visited := make(map[string]struct{})
	worklist := []string{baseID}
	visited[baseID] = struct{}{}
	hasData := false

	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		parents, found, err := c.kb.Parents(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("parents of %s: %w", id, err)
		}
		if found {
			hasData = true
		}
		for _, parent := range parents {
			if _, seen := visited[parent]; seen {
				continue
			}
			if _, abstract := abstractConcepts[parent]; abstract {
				continue
			}
			visited[parent] = struct{}{}
			worklist = append(worklist, parent)
		}
	}
	return visited, hasData, nil
}
