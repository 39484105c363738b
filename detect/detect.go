// Package detect finds the most important problem with an element's
// wikipedia/wikidata tags, checking cheap syntactic issues before expensive
// semantic ones and returning at most one problem per element.
package detect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wikivalidator/classify"
	"wikivalidator/knowledge"
	"wikivalidator/osm"
)

// Options tune which rules may fire.
type Options struct {
	// ExpectedLanguage is the language code articles in this region are
	// expected to link to; empty disables the language checks.
	ExpectedLanguage string
	// OnlyEdits suppresses reports that can only be fixed by editing the
	// wiki side rather than the OSM side.
	OnlyEdits bool
	// AllowFalsePositives enables rules that may misfire.
	AllowFalsePositives bool
}

// Detector runs the ordered issue checks against one element at a time.
type Detector struct {
	kb         knowledge.Client
	classifier *classify.Classifier
	opts       Options
	log        *zap.Logger
}

// New builds a Detector. kb should be the memoizing cache so repeated
// classification work stays off the network.
func New(kb knowledge.Client, classifier *classify.Classifier, opts Options, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{kb: kb, classifier: classifier, opts: opts, log: log}
}

// territoryByLanguage maps an expected language code to the Wikidata id of
// the country whose territory the language region covers.
var territoryByLanguage = map[string]string{
	"pl": "Q36",
	"de": "Q183",
}

// dissolvedCountry is "Nazi Germany"; P17 statements pointing at it are
// historical leftovers, not grounds for a foreign-language allowance.
const dissolvedCountry = "Q7318"

// Detect returns the most important problem for the element, or nil when the
// element is clean. Lookup failures abort the checks with an error so the
// stored verdict stays untouched.
func (d *Detector) Detect(ctx context.Context, el osm.Element) (*Problem, error) {
	link := el.Tag("wikipedia")
	if link == "" {
		return nil, nil
	}
	language, title := ParseWikipediaLink(link)
	if language == "" || len(language) > 3 {
		return d.problem(el, link, KindMalformedTag, fmt.Sprintf("malformed wikipedia tag (%s)", link)), nil
	}

	page, found, err := d.kb.Article(ctx, language, title)
	if err != nil {
		return nil, fmt.Errorf("article %s:%s: %w", language, title, err)
	}
	if !found {
		return d.problem(el, link, KindLinksTo404, "missing article at wiki: "+WikipediaURL(language, title)), nil
	}

	itemID, err := d.kb.ItemForArticle(ctx, language, title)
	if err != nil {
		return nil, fmt.Errorf("wikidata item for %s:%s: %w", language, title, err)
	}

	if p, err := d.semanticProblem(ctx, el, link, page, language, title, itemID); err != nil || p != nil {
		return p, err
	}

	if p, err := d.languageProblem(ctx, el, link, language, title, itemID); err != nil || p != nil {
		return p, err
	}

	if !d.opts.OnlyEdits {
		if p, err := d.geotaggingProblem(ctx, el, link, page, itemID); err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}

// semanticProblem classifies the linked article's subject when the element is
// point-like and neither the article nor the Wikidata entry carries
// coordinates.
func (d *Detector) semanticProblem(ctx context.Context, el osm.Element, link, page, language, title, itemID string) (*Problem, error) {
	if !ReducibleToPoint(el) {
		return nil, nil
	}
	located, err := d.targetHasCoordinates(ctx, page, itemID)
	if err != nil {
		return nil, err
	}
	if located {
		return nil, nil
	}
	if itemID == "" {
		return d.problem(el, link, KindWikidataMissing, el.Describe()+" has no matching wikidata entry"), nil
	}

	baseType, err := d.kb.InstanceOf(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("instance of %s: %w", itemID, err)
	}
	if baseType == "" {
		if d.opts.OnlyEdits {
			return nil, nil
		}
		msg := fmt.Sprintf("instance data not present in wikidata for %s. unable to verify type of object", itemID)
		return d.problem(el, link, KindInstanceMissing, msg), nil
	}

	category, err := d.classifier.Classify(ctx, baseType)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", baseType, err)
	}
	switch category {
	case classify.Disambiguation:
		msg := WikipediaURL(language, title) + " is a disambig page - not a proper wikipedia link"
		return d.problem(el, link, KindDisambig, msg), nil
	case classify.Human:
		msg := "article linked in wikipedia tag is about a human, so it is very unlikely to be correct (subject:wikipedia=* tag would probably be better)"
		return d.problem(el, link, KindHuman, msg), nil
	case classify.Organization:
		msg := "article linked in wikipedia tag is about an organization, so it is very unlikely to be correct (brand:wikipedia=* or operator:wikipedia=* tag would probably be better)"
		return d.problem(el, link, KindOrganization, msg), nil
	case classify.Unrecognized, classify.MissingData:
		// not yet classifiable; logged so the taxonomy tables can be
		// extended, never reported as a violation
		label, _ := d.kb.Label(ctx, baseType, "en")
		d.log.Warn("unrecognized wikidata type",
			zap.String("element", el.Describe()),
			zap.String("base_type", baseType),
			zap.String("label", label),
			zap.String("outcome", category.String()))
	}
	return nil, nil
}

// languageProblem fires when the link points at an unexpected language wiki
// and the element is not allowed a foreign link.
func (d *Detector) languageProblem(ctx context.Context, el osm.Element, link, language, title, itemID string) (*Problem, error) {
	if d.opts.ExpectedLanguage == "" || language == d.opts.ExpectedLanguage {
		return nil, nil
	}
	reason, err := d.foreignLinkAllowance(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		d.log.Debug("foreign wikipedia link allowed",
			zap.String("element", el.Describe()), zap.String("reason", reason))
		return nil, nil
	}

	var target string
	if itemID != "" {
		target, err = d.kb.Sitelink(ctx, itemID, d.opts.ExpectedLanguage)
		if err != nil {
			return nil, fmt.Errorf("sitelink %s/%s: %w", itemID, d.opts.ExpectedLanguage, err)
		}
	}
	if target != "" {
		p := d.problem(el, link, KindRelinkNecessary,
			fmt.Sprintf("wikipedia page in unwanted language - %s was expected", d.opts.ExpectedLanguage))
		p.SuggestedTarget = d.opts.ExpectedLanguage + ":" + target
		return p, nil
	}
	if !d.opts.OnlyEdits && d.opts.AllowFalsePositives {
		return d.problem(el, link, KindRelinkDesirable,
			fmt.Sprintf("wikipedia page in unwanted language - %s was expected, no page in that language was found", d.opts.ExpectedLanguage)), nil
	}
	return nil, nil
}

// foreignLinkAllowance returns a human-readable reason when the element may
// keep a link in an unexpected language: its Wikidata entry places it at
// least partially in a country other than the expected language's territory.
// Dissolved country statements are skipped, and a claim placing the element
// in a no longer existing country denies the allowance outright, even when
// other foreign claims follow.
func (d *Detector) foreignLinkAllowance(ctx context.Context, itemID string) (string, error) {
	target, known := territoryByLanguage[d.opts.ExpectedLanguage]
	if !known || itemID == "" {
		return "", nil
	}
	countries, err := d.kb.Countries(ctx, itemID)
	if err != nil {
		return "", fmt.Errorf("countries of %s: %w", itemID, err)
	}
	for _, country := range countries {
		if country.ID == target || country.Dissolved {
			continue
		}
		if country.ID == dissolvedCountry {
			d.log.Info("located in a no longer existing country",
				zap.String("item", itemID))
			return "", nil
		}
		name, _ := d.kb.Label(ctx, country.ID, "en")
		if name == "" {
			name = country.ID
		}
		return "it is at least partially in " + name, nil
	}
	return "", nil
}

// geotaggingProblem reports point-like elements whose link target carries no
// coordinates anywhere.
func (d *Detector) geotaggingProblem(ctx context.Context, el osm.Element, link, page, itemID string) (*Problem, error) {
	if !ReducibleToPoint(el) {
		return nil, nil
	}
	located, err := d.targetHasCoordinates(ctx, page, itemID)
	if err != nil {
		return nil, err
	}
	if located {
		return nil, nil
	}
	msg := "missing coordinates at wiki, or the wikipedia tag should be replaced by something like operator:wikipedia or subject:wikipedia"
	return d.problem(el, link, KindNoCoordinates, msg), nil
}

func (d *Detector) targetHasCoordinates(ctx context.Context, page, itemID string) (bool, error) {
	if PageGeotagged(page) {
		return true, nil
	}
	if itemID == "" {
		return false, nil
	}
	_, _, found, err := d.kb.Coordinates(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("coordinates of %s: %w", itemID, err)
	}
	return found, nil
}

func (d *Detector) problem(el osm.Element, link, kind, message string) *Problem {
	p := &Problem{
		ErrorKind:          kind,
		Message:            message,
		ElementDescription: el.Describe(),
		ElementURL:         el.URL(),
		CurrentTarget:      link,
	}
	if el.Lat != 0 || el.Lon != 0 {
		language, _ := ParseWikipediaLink(link)
		p.CoordinatesHint = CoordinateHint(el.Lat, el.Lon, language)
	}
	return p
}

// ReducibleToPoint reports whether the element's geometry is meaningfully
// representable as a single point of interest. Rivers and route/person
// relations span areas and are exempt from point-based coordinate checks.
func ReducibleToPoint(el osm.Element) bool {
	if el.Type == osm.TypeRelation {
		relType := el.Tag("type")
		if relType == "person" || relType == "route" {
			return false
		}
	}
	return el.Tag("waterway") != "river"
}
