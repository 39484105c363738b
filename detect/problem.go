package detect

// Error kinds reported by the detector. The strings are stable: they key the
// per-region ignore lists, the task export, and the stored verdicts.
const (
	KindMalformedTag    = "malformed wikipedia tag"
	KindLinksTo404      = "wikipedia tag links to 404"
	KindWikidataMissing = "wikidata entry missing"
	KindInstanceMissing = "wikidata data missing - instance"
	KindDisambig        = "link to disambig"
	KindHuman           = "link to human"
	KindOrganization    = "link to organization"
	KindRelinkNecessary = "wikipedia tag relinking necessary"
	KindRelinkDesirable = "wikipedia tag relinking desirable, article missing"
	KindNoCoordinates   = "target of linking is without coordinates"
)

// Problem describes the most important issue found on one element.
type Problem struct {
	ErrorKind          string `json:"error_id"`
	Message            string `json:"error_message"`
	ElementDescription string `json:"osm_object_description"`
	ElementURL         string `json:"osm_object_url"`
	CurrentTarget      string `json:"current_wikipedia_target,omitempty"`
	SuggestedTarget    string `json:"desired_wikipedia_target,omitempty"`
	CoordinatesHint    string `json:"coords_for_wikipedia,omitempty"`
}
