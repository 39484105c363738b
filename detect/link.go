package detect

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseWikipediaLink splits a wikipedia tag value ("lang:Article title")
// into its language code and article title. A missing separator yields an
// empty language code.
func ParseWikipediaLink(link string) (language, title string) {
	idx := strings.Index(link, ":")
	if idx < 0 {
		return "", link
	}
	return link[:idx], link[idx+1:]
}

// WikipediaURL returns the article URL for a lang:title pair.
func WikipediaURL(language, title string) string {
	return "https://" + language + ".wikipedia.org/wiki/" + url.PathEscape(title)
}

// PageGeotagged detects coordinates in raw article HTML. Inline coordinates
// (mentions inside the article body) do not count; a route-map KML link does,
// since such articles link an area rather than a point.
func PageGeotagged(page string) bool {
	index := strings.Index(page, `<span class="latitude">`)
	inline := strings.Index(page, "coordinates inline plainlinks")
	if inline != -1 && index > inline {
		index = -1
	}
	if index != -1 {
		return true
	}
	kml := `><span id="coordinates"><b>Route map</b>: <a rel="nofollow" class="external text"`
	return strings.Contains(page, kml)
}

// CoordinateHint renders the element position in the formats wiki editors
// paste into articles of the given language.
func CoordinateHint(lat, lon float64, language string) string {
	latStr := fmt.Sprintf("%.4f", lat)
	lonStr := fmt.Sprintf("%.4f", lon)

	var b strings.Builder
	b.WriteString(latStr + "\n")
	b.WriteString(lonStr + "\n")
	switch language {
	case "it":
		b.WriteString("{{coord|" + latStr + "|" + lonStr + "|display=title}}\n")
	case "pl":
		b.WriteString("{{współrzędne|" + latStr + " " + lonStr + "|umieść=na górze}}\n")
		b.WriteString("\n")
		b.WriteString(latStr + " " + lonStr + "\n")
		b.WriteString("\n")
		b.WriteString(plInfoboxCoordinates(lat, lon))
	default:
		b.WriteString("{{coord|" + latStr + "|" + lonStr + "}}\n")
	}
	return b.String()
}

// plInfoboxCoordinates emits the old-style DMS parameters still used by some
// Polish wikipedia infoboxes.
func plInfoboxCoordinates(lat, lon float64) string {
	latSign := "N"
	if lat < 0 {
		lat = -lat
		latSign = "S"
	}
	lonSign := "E"
	if lon < 0 {
		lon = -lon
		lonSign = "W"
	}
	latD := int(lat)
	latM := int(lat*60) - latD*60
	latS := int(lat*3600) - latD*3600 - latM*60
	lonD := int(lon)
	lonM := int(lon*60) - lonD*60
	lonS := int(lon*3600) - lonD*3600 - lonM*60

	var b strings.Builder
	fmt.Fprintf(&b, "|stopni%s = %d |minut%s = %d |sekund%s = %d\n", latSign, latD, latSign, latM, latSign, latS)
	fmt.Fprintf(&b, "|stopni%s = %d |minut%s = %d |sekund%s = %d\n", lonSign, lonD, lonSign, lonM, lonSign, lonS)
	return b.String()
}
