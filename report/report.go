// Package report renders the per-region HTML reports, the index over all
// published regions, and the Overpass query exports used to hand flagged
// elements to external editors.
package report

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"wikivalidator/config"
	"wikivalidator/detect"
	"wikivalidator/internal/store"
)

// QueryFormat selects the Overpass export flavor.
type QueryFormat string

const (
	// FormatJOSM produces an XML query suitable for loading into JOSM.
	FormatJOSM QueryFormat = "josm"
	// FormatMapRoulette produces a JSON query with geometry, matching what
	// MapRoulette's challenge importer expects. Relations are skipped in
	// this format; the importer cannot handle them.
	FormatMapRoulette QueryFormat = "maproulette"
)

// Generator writes report files derived from the stored verdicts.
type Generator struct {
	store *store.Store
	cfg   config.Config
	log   *zap.Logger
}

func New(st *store.Store, cfg config.Config, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{store: st, cfg: cfg, log: log}
}

// WriteRegion renders one region's report page and its query exports.
func (g *Generator) WriteRegion(ctx context.Context, region config.Region) error {
	flagged, err := g.store.FlaggedEntities(ctx, region.InternalName)
	if err != nil {
		return fmt.Errorf("flagged entities for %s: %w", region.InternalName, err)
	}
	problems := visibleProblems(flagged, region)

	page := renderPage(region.Title(), problems)
	base := filepath.Join(g.cfg.ReportDir, region.Title())
	if err := writeFile(base+".html", page); err != nil {
		return err
	}
	if err := writeFile(base+".query", Query(problems, nil, FormatJOSM)); err != nil {
		return err
	}
	g.log.Info("report written",
		zap.String("region", region.InternalName), zap.Int("problems", len(problems)))
	return nil
}

// WriteIndex renders index.html over all non-hidden regions and one combined
// page per merged-output group.
func (g *Generator) WriteIndex(ctx context.Context) error {
	var b strings.Builder
	b.WriteString(pageHeader("OSM wikipedia/wikidata tag reports"))
	b.WriteString("<ul>\n")
	for _, region := range g.cfg.Regions {
		if region.Hidden {
			continue
		}
		title := region.Title()
		fmt.Fprintf(&b, "<li><a href=\"%s.html\">%s</a></li>\n",
			html.EscapeString(title), Htmlify(title))
	}
	b.WriteString("</ul>\n")
	for _, group := range g.mergedGroups() {
		fmt.Fprintf(&b, "<p><a href=\"%s.html\">%s</a> (combined)</p>\n",
			html.EscapeString(group), Htmlify(group))
	}
	b.WriteString(pageFooter())
	if err := writeFile(filepath.Join(g.cfg.ReportDir, "index.html"), b.String()); err != nil {
		return err
	}
	return g.writeMergedPages(ctx)
}

func (g *Generator) mergedGroups() []string {
	seen := map[string]bool{}
	var groups []string
	for _, region := range g.cfg.Regions {
		if region.MergedOutput == "" || seen[region.MergedOutput] {
			continue
		}
		seen[region.MergedOutput] = true
		groups = append(groups, region.MergedOutput)
	}
	sort.Strings(groups)
	return groups
}

func (g *Generator) writeMergedPages(ctx context.Context) error {
	for _, group := range g.mergedGroups() {
		var problems []detect.Problem
		for _, region := range g.cfg.Regions {
			if region.MergedOutput != group {
				continue
			}
			flagged, err := g.store.FlaggedEntities(ctx, region.InternalName)
			if err != nil {
				return fmt.Errorf("flagged entities for %s: %w", region.InternalName, err)
			}
			problems = append(problems, visibleProblems(flagged, region)...)
		}
		page := renderPage(group, problems)
		if err := writeFile(filepath.Join(g.cfg.ReportDir, group+".html"), page); err != nil {
			return err
		}
	}
	return nil
}

// TasksByKind groups every stored problem URL by its error kind, for
// downstream task publishing.
func (g *Generator) TasksByKind(ctx context.Context) (map[string][]string, error) {
	return g.store.ProblemURLsByKind(ctx)
}

// WriteTasks emits the per-kind task files under <ReportDir>/tasks: the
// affected element URLs and a MapRoulette-format query for each error kind
// with at least one flagged element.
func (g *Generator) WriteTasks(ctx context.Context) error {
	tasks, err := g.TasksByKind(ctx)
	if err != nil {
		return fmt.Errorf("tasks by kind: %w", err)
	}
	dir := filepath.Join(g.cfg.ReportDir, "tasks")
	for kind, urls := range tasks {
		name := taskFileName(kind)
		if err := writeFile(filepath.Join(dir, name+".urls"), strings.Join(urls, "\n")+"\n"); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dir, name+".maproulette.query"), QueryFromURLs(urls, FormatMapRoulette)); err != nil {
			return err
		}
		g.log.Info("task export written", zap.String("kind", kind), zap.Int("elements", len(urls)))
	}
	return nil
}

// taskFileName flattens an error kind into a safe file name.
func taskFileName(kind string) string {
	var b strings.Builder
	for _, r := range kind {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func visibleProblems(entities []store.Entity, region config.Region) []detect.Problem {
	var problems []detect.Problem
	for _, e := range entities {
		p := e.Verdict.Problem
		if p == nil || region.IgnoresProblem(p.ErrorKind) {
			continue
		}
		problems = append(problems, *p)
	}
	return problems
}

func renderPage(title string, problems []detect.Problem) string {
	var b strings.Builder
	b.WriteString(pageHeader(title))
	if len(problems) == 0 {
		b.WriteString("<p>No problems found. Congratulations!</p>\n")
	}
	for _, p := range problems {
		fmt.Fprintf(&b, "<h3><a href=\"%s\">%s</a></h3>\n",
			html.EscapeString(p.ElementURL), Htmlify(p.ElementDescription))
		fmt.Fprintf(&b, "<p>%s</p>\n", Htmlify(p.Message))
		if p.SuggestedTarget != "" {
			fmt.Fprintf(&b, "<p>Suggested target: %s</p>\n", Htmlify(p.SuggestedTarget))
		}
		if p.CoordinatesHint != "" {
			fmt.Fprintf(&b, "<p>Location template: <code>%s</code></p>\n", Htmlify(p.CoordinatesHint))
		}
	}
	b.WriteString(pageFooter())
	return b.String()
}

func pageHeader(title string) string {
	return "<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n" +
		"<title>" + Htmlify(title) + "</title>\n</head>\n<body>\n" +
		"<h1>" + Htmlify(title) + "</h1>\n"
}

func pageFooter() string {
	return "</body>\n</html>\n"
}

// Htmlify escapes text for embedding in a report page. Non-ASCII runes become
// numeric character references so the output stays pure ASCII, and newlines
// become explicit breaks.
func Htmlify(s string) string {
	escaped := html.EscapeString(s)
	var b strings.Builder
	b.Grow(len(escaped))
	for _, r := range escaped {
		if r < 128 {
			b.WriteRune(r)
		} else {
			fmt.Fprintf(&b, "&#%d;", r)
		}
	}
	return strings.ReplaceAll(b.String(), "\n", "<br />")
}

// Query builds an Overpass query selecting the elements behind the given
// problems. kinds filters by error kind; nil means every kind.
func Query(problems []detect.Problem, kinds []string, format QueryFormat) string {
	var urls []string
	for _, p := range problems {
		if len(kinds) > 0 && !containsKind(kinds, p.ErrorKind) {
			continue
		}
		urls = append(urls, p.ElementURL)
	}
	return QueryFromURLs(urls, format)
}

// QueryFromURLs builds an Overpass query from bare element URLs, as stored
// in the per-kind task mapping.
func QueryFromURLs(urls []string, format QueryFormat) string {
	var b strings.Builder
	switch format {
	case FormatMapRoulette:
		b.WriteString("[out:json];\n(\n")
	default:
		b.WriteString("[out:xml];\n(\n")
	}
	for _, url := range urls {
		elementType, id, ok := splitElementURL(url)
		if !ok {
			continue
		}
		if elementType == "relation" && format == FormatMapRoulette {
			continue
		}
		fmt.Fprintf(&b, "%s(%s);\n", elementType, id)
	}
	switch format {
	case FormatMapRoulette:
		b.WriteString("); out body geom qt;")
	default:
		b.WriteString("); (._;>;); out meta qt;")
	}
	return b.String()
}

func containsKind(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// splitElementURL extracts the element type and id from an element URL of
// the form https://openstreetmap.org/<type>/<id>.
func splitElementURL(url string) (elementType, id string, ok bool) {
	parts := strings.Split(url, "/")
	if len(parts) < 5 {
		return "", "", false
	}
	return parts[3], parts[4], true
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
