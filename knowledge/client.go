// Package knowledge provides access to Wikidata and Wikipedia lookups used by
// the classification engine and the issue detector, with a memoizing cache in
// front of the live client.
package knowledge

import "context"

// CountryClaim is one P17 (country) statement on a Wikidata item. Dissolved
// is set when the statement carries an end-time qualifier (P582), meaning the
// item no longer belongs to that country.
type CountryClaim struct {
	ID        string
	Dissolved bool
}

// Client is the lookup surface the validator needs from the knowledge base.
// Implementations must treat "no data" as a non-error outcome: Parents
// reports it through its found result, the string-returning lookups through
// an empty string.
type Client interface {
	// Parents returns the ids the entry is a direct subclass of (P279).
	// found is false when the knowledge base has no data for the entry,
	// which is distinct from an empty parent set (a taxonomy root).
	Parents(ctx context.Context, entryID string) (parents []string, found bool, err error)

	// Article returns the raw article text for the given language wiki, or
	// found=false when the article does not exist.
	Article(ctx context.Context, language, title string) (text string, found bool, err error)

	// ItemForArticle resolves an article to its Wikidata item id, "" when
	// the article has no item.
	ItemForArticle(ctx context.Context, language, title string) (string, error)

	// InstanceOf returns the entry's base type (first P31 claim), "" when
	// instance data is missing.
	InstanceOf(ctx context.Context, entryID string) (string, error)

	// Coordinates returns the entry's coordinate property (P625) when set.
	Coordinates(ctx context.Context, entryID string) (lat, lon float64, found bool, err error)

	// Countries returns the entry's country statements (P17).
	Countries(ctx context.Context, entryID string) ([]CountryClaim, error)

	// Sitelink returns the title of the equivalent article on the given
	// language wiki, "" when none is linked.
	Sitelink(ctx context.Context, entryID, language string) (string, error)

	// Label returns the entry's label in the given language, "" when
	// undocumented.
	Label(ctx context.Context, entryID, language string) (string, error)
}
