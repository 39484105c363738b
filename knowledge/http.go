package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Wikidata property ids used by the validator.
const (
	propSubclassOf = "P279"
	propInstanceOf = "P31"
	propCountry    = "P17"
	propCoordinate = "P625"
	propEndTime    = "P582"
)

// HTTPClient talks to the live Wikidata and Wikipedia APIs.
type HTTPClient struct {
	client  *http.Client
	apiBase string
}

// NewHTTPClient builds a live client. apiBase overrides the Wikidata API
// endpoint, primarily for tests; pass "" for the production endpoint.
func NewHTTPClient(client *http.Client, apiBase string) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if apiBase == "" {
		apiBase = "https://www.wikidata.org/w/api.php"
	}
	return &HTTPClient{client: client, apiBase: apiBase}
}

var _ Client = (*HTTPClient)(nil)

type wbEntity struct {
	Missing *string `json:"missing"`
	Claims  map[string][]struct {
		Mainsnak struct {
			Datavalue struct {
				Value json.RawMessage `json:"value"`
			} `json:"datavalue"`
		} `json:"mainsnak"`
		Qualifiers map[string]json.RawMessage `json:"qualifiers"`
	} `json:"claims"`
	Labels map[string]struct {
		Value string `json:"value"`
	} `json:"labels"`
	Sitelinks map[string]struct {
		Title string `json:"title"`
	} `json:"sitelinks"`
}

type wbResponse struct {
	Entities map[string]wbEntity `json:"entities"`
}

type itemValue struct {
	ID string `json:"id"`
}

type coordinateValue struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h *HTTPClient) entityByID(ctx context.Context, entryID string) (*wbEntity, error) {
	endpoint := fmt.Sprintf("%s?action=wbgetentities&format=json&ids=%s&props=claims|labels|sitelinks", h.apiBase, url.QueryEscape(entryID))
	return h.fetchEntity(ctx, endpoint, entryID)
}

func (h *HTTPClient) entityByArticle(ctx context.Context, language, title string) (string, *wbEntity, error) {
	endpoint := fmt.Sprintf("%s?action=wbgetentities&format=json&sites=%swiki&titles=%s&props=claims|labels|sitelinks",
		h.apiBase, url.QueryEscape(language), url.QueryEscape(title))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("wikidata status %d", resp.StatusCode)
	}
	var data wbResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", nil, err
	}
	for id, entity := range data.Entities {
		if entity.Missing != nil || strings.HasPrefix(id, "-") {
			return "", nil, nil
		}
		return id, &entity, nil
	}
	return "", nil, nil
}

func (h *HTTPClient) fetchEntity(ctx context.Context, endpoint, entryID string) (*wbEntity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("wikidata status %d", resp.StatusCode)
	}
	var data wbResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	entity, ok := data.Entities[entryID]
	if !ok || entity.Missing != nil {
		return nil, nil
	}
	return &entity, nil
}

func (h *HTTPClient) Parents(ctx context.Context, entryID string) ([]string, bool, error) {
	entity, err := h.entityByID(ctx, entryID)
	if err != nil {
		return nil, false, err
	}
	if entity == nil {
		return nil, false, nil
	}
	claims, ok := entity.Claims[propSubclassOf]
	if !ok {
		return nil, false, nil
	}
	parents := make([]string, 0, len(claims))
	for _, claim := range claims {
		var v itemValue
		if err := json.Unmarshal(claim.Mainsnak.Datavalue.Value, &v); err != nil {
			continue
		}
		if v.ID != "" {
			parents = append(parents, v.ID)
		}
	}
	return parents, true, nil
}

func (h *HTTPClient) Article(ctx context.Context, language, title string) (string, bool, error) {
	endpoint := fmt.Sprintf("https://%s.wikipedia.org/wiki/%s", url.PathEscape(language), url.PathEscape(title))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("wikipedia status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	return string(body), true, nil
}

func (h *HTTPClient) ItemForArticle(ctx context.Context, language, title string) (string, error) {
	id, _, err := h.entityByArticle(ctx, language, title)
	return id, err
}

func (h *HTTPClient) InstanceOf(ctx context.Context, entryID string) (string, error) {
	entity, err := h.entityByID(ctx, entryID)
	if err != nil || entity == nil {
		return "", err
	}
	claims := entity.Claims[propInstanceOf]
	if len(claims) == 0 {
		return "", nil
	}
	var v itemValue
	if err := json.Unmarshal(claims[0].Mainsnak.Datavalue.Value, &v); err != nil {
		return "", nil
	}
	return v.ID, nil
}

func (h *HTTPClient) Coordinates(ctx context.Context, entryID string) (float64, float64, bool, error) {
	entity, err := h.entityByID(ctx, entryID)
	if err != nil || entity == nil {
		return 0, 0, false, err
	}
	claims := entity.Claims[propCoordinate]
	if len(claims) == 0 {
		return 0, 0, false, nil
	}
	var v coordinateValue
	if err := json.Unmarshal(claims[0].Mainsnak.Datavalue.Value, &v); err != nil {
		return 0, 0, false, nil
	}
	return v.Latitude, v.Longitude, true, nil
}

func (h *HTTPClient) Countries(ctx context.Context, entryID string) ([]CountryClaim, error) {
	entity, err := h.entityByID(ctx, entryID)
	if err != nil || entity == nil {
		return nil, err
	}
	claims := entity.Claims[propCountry]
	countries := make([]CountryClaim, 0, len(claims))
	for _, claim := range claims {
		var v itemValue
		if err := json.Unmarshal(claim.Mainsnak.Datavalue.Value, &v); err != nil {
			continue
		}
		_, dissolved := claim.Qualifiers[propEndTime]
		countries = append(countries, CountryClaim{ID: v.ID, Dissolved: dissolved})
	}
	return countries, nil
}

func (h *HTTPClient) Sitelink(ctx context.Context, entryID, language string) (string, error) {
	entity, err := h.entityByID(ctx, entryID)
	if err != nil || entity == nil {
		return "", err
	}
	link, ok := entity.Sitelinks[language+"wiki"]
	if !ok {
		return "", nil
	}
	return link.Title, nil
}

func (h *HTTPClient) Label(ctx context.Context, entryID, language string) (string, error) {
	entity, err := h.entityByID(ctx, entryID)
	if err != nil || entity == nil {
		return "", err
	}
	label, ok := entity.Labels[language]
	if !ok {
		return "", nil
	}
	return label.Value, nil
}
