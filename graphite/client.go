package graphite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mskcc/oncotree-api/oncotree"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultNamespacePrefix        = "http://data.mskcc.org/ontologies/oncotree#"
	DefaultVersionNamespacePrefix = "http://data.mskcc.org/ontologies/oncotree-version#"
)

type httpClient interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

type Config struct {
	URL                    string
	Username               string
	Password               string
	NamespacePrefix        string
	VersionNamespacePrefix string
	VersionListGraphID     string
}

// Client reads tumor types and versions from a Graphite SPARQL endpoint.
type Client struct {
	httpClient httpClient
	cfg        Config
}

func NewClient(client httpClient, cfg Config) *Client {
	if cfg.NamespacePrefix == "" {
		cfg.NamespacePrefix = DefaultNamespacePrefix
	}
	if cfg.VersionNamespacePrefix == "" {
		cfg.VersionNamespacePrefix = DefaultVersionNamespacePrefix
	}
	return &Client{httpClient: client, cfg: cfg}
}

type response struct {
	Results struct {
		Bindings []binding `json:"bindings"`
	} `json:"results"`
}

type binding map[string]struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (b binding) get(name string) string {
	return b[name].Value
}

func (c *Client) nodesQuery(graphURI string) string {
	return "PREFIX skos:<http://www.w3.org/2004/02/skos/core#> " +
		"PREFIX ottt:<" + c.cfg.NamespacePrefix + "> " +
		"PREFIX g:<http://schema.synaptica.com/oasis#> " +
		"SELECT DISTINCT (?s AS ?uri) ?code ?name ?mainType ?color ?parentCode ?revocations ?precursors ?clinicalCasesSubset WHERE { " +
		"?s skos:inScheme <" + graphURI + "> { " +
		"?s skos:prefLabel ?name; skos:notation ?code. " +
		"OPTIONAL{?s skos:broader ?broader. ?broader skos:notation ?parentCode}. " +
		"OPTIONAL{?s ottt:maintype ?mainType}. " +
		"OPTIONAL{?s ottt:color ?color}. " +
		"OPTIONAL{?s ottt:revocations ?revocations}. " +
		"OPTIONAL{?s ottt:precursors ?precursors}. " +
		"?s ottt:clinicalcasessubset ?clinicalCasesSubset. " +
		"OPTIONAL{?s g:conceptStatus ?concept_status.} " +
		"FILTER (?concept_status = 'Published') " +
		"}}"
}

// versionsQuery must order by release date.
func (c *Client) versionsQuery() string {
	return "PREFIX skos:<http://www.w3.org/2004/02/skos/core#> " +
		"PREFIX otvl:<" + c.cfg.VersionNamespacePrefix + "> " +
		"PREFIX g:<http://schema.synaptica.com/oasis#> " +
		"SELECT ?api_identifier ?graph_uri ?description ?release_date ?visible WHERE { " +
		"?s skos:inScheme <" + c.cfg.VersionListGraphID + "> . " +
		"?s otvl:retrievalidentifier ?graph_uri. " +
		"?s otvl:apiidentifier ?api_identifier. " +
		"?s otvl:releasedate ?release_date. " +
		"OPTIONAL{?s otvl:description ?description.} " +
		"?s otvl:visible ?visible. " +
		"OPTIONAL{?s g:conceptStatus ?concept_status.} " +
		"FILTER (?concept_status = 'Published') " +
		"} ORDER BY ASC(?release_date)"
}

// FetchNodes returns the published tumor type nodes of version.
func (c *Client) FetchNodes(ctx context.Context, version oncotree.Version) ([]oncotree.NodeRecord, error) {
	log.Debugf("Fetching oncotree nodes for version '%s' from graph '%s'", version.Key, version.GraphURI)
	resp, err := c.query(ctx, c.nodesQuery(version.GraphURI))
	if err != nil {
		return nil, err
	}
	nodes := make([]oncotree.NodeRecord, 0, len(resp.Results.Bindings))
	for _, b := range resp.Results.Bindings {
		nodes = append(nodes, oncotree.NodeRecord{
			URI:                 b.get("uri"),
			Code:                b.get("code"),
			Name:                b.get("name"),
			MainType:            b.get("mainType"),
			Color:               b.get("color"),
			ParentCode:          b.get("parentCode"),
			ClinicalCasesSubset: b.get("clinicalCasesSubset"),
			Revocations:         strings.Fields(b.get("revocations")),
			Precursors:          strings.Fields(b.get("precursors")),
		})
	}
	return nodes, nil
}

// FetchVersions returns every published version, ascending by release date.
func (c *Client) FetchVersions(ctx context.Context) ([]oncotree.Version, error) {
	resp, err := c.query(ctx, c.versionsQuery())
	if err != nil {
		return nil, err
	}
	versions := make([]oncotree.Version, 0, len(resp.Results.Bindings))
	for _, b := range resp.Results.Bindings {
		visible, _ := strconv.ParseBool(b.get("visible"))
		versions = append(versions, oncotree.Version{
			Key:         b.get("api_identifier"),
			GraphURI:    b.get("graph_uri"),
			Description: b.get("description"),
			Visible:     visible,
			ReleaseDate: b.get("release_date"),
		})
	}
	return versions, nil
}

// query runs q, trying a second time before giving up.
func (c *Client) query(ctx context.Context, q string) (*response, error) {
	resp, err := c.doQuery(ctx, q)
	if err == nil {
		return resp, nil
	}
	log.WithError(err).Debug("Graphite query failed, attempting again")
	resp, err = c.doQuery(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(oncotree.ErrSourceUnavailable, "failed to connect to Graphite: %v", err)
	}
	return resp, nil
}

func (c *Client) doQuery(ctx context.Context, q string) (*response, error) {
	form := url.Values{"query": {q}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json, application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.cfg.URL)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decoding Graphite response")
	}
	return &out, nil
}
