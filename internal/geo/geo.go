// Package geo looks up Brazilian municipalities and districts from the IBGE
// localidades API.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrInvalidUF = errors.New("invalid UF")

type Region struct {
	ID   int    `json:"id"`
	Name string `json:"nome"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      *Cache
}

func NewClient(baseURL string, cache *Cache) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		Cache:      cache,
	}
}

func validUF(uf string) bool {
	if len(uf) != 2 {
		return false
	}
	for _, r := range uf {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (c *Client) fetch(ctx context.Context, key, path string) ([]Region, error) {
	if data, ok := c.Cache.Get(key); ok {
		var cached []Region
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ibge request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ibge error: %d", resp.StatusCode)
	}

	var regions []Region
	if err := json.Unmarshal(body, &regions); err != nil {
		return nil, fmt.Errorf("decode ibge response: %w", err)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Name < regions[j].Name })
	data, _ := json.Marshal(regions)
	if err := c.Cache.Put(key, data); err != nil {
		return nil, fmt.Errorf("cache %s: %w", key, err)
	}
	return regions, nil
}

// Municipalities of a state, by UF code (e.g. "SP").
func (c *Client) Municipalities(ctx context.Context, uf string) ([]Region, error) {
	uf = strings.ToUpper(strings.TrimSpace(uf))
	if !validUF(uf) {
		return nil, fmt.Errorf("%w %q", ErrInvalidUF, uf)
	}
	return c.fetch(ctx, "municipios:"+uf, "/estados/"+url.PathEscape(uf)+"/municipios")
}

// Districts of a municipality by its IBGE code.
func (c *Client) Districts(ctx context.Context, municipalityID int) ([]Region, error) {
	return c.fetch(ctx, fmt.Sprintf("distritos:%d", municipalityID), fmt.Sprintf("/municipios/%d/distritos", municipalityID))
}

// Search filters the state's municipalities by query, ignoring case and
// accents.
func (c *Client) Search(ctx context.Context, uf, query string) ([]Region, error) {
	all, err := c.Municipalities(ctx, uf)
	if err != nil {
		return nil, err
	}
	q := Fold(query)
	if q == "" {
		return all, nil
	}
	var out []Region
	for _, r := range all {
		if strings.Contains(Fold(r.Name), q) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Fold lowercases s and strips diacritics: "São Paulo" -> "sao paulo".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
