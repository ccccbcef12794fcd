package crosswalk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mskcc/oncotree-api/oncotree"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const vocabularyID = "ONCOTREE"

type httpClient interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

// Client queries the crosswalk concept service.
type Client struct {
	httpClient httpClient
	baseURL    string
}

func NewClient(client httpClient, baseURL string) *Client {
	return &Client{httpClient: client, baseURL: baseURL}
}

// ErrConceptNotFound is returned when the concept service answers a query
// with a 4xx status.
var ErrConceptNotFound = errors.New("crosswalk concept not found")

// MappingQuery selects concepts either by vocabulary and concept id, or by
// vocabulary, histology and site.
type MappingQuery struct {
	VocabularyID  string
	ConceptID     string
	HistologyCode string
	SiteCode      string
}

// GetByOncotreeCode returns the concept mapped to code. A 4xx answer means
// the service knows no such concept and yields an empty Concept.
func (c *Client) GetByOncotreeCode(ctx context.Context, code string) (Concept, error) {
	concept, err := c.Query(ctx, MappingQuery{VocabularyID: vocabularyID, ConceptID: code})
	if errors.Is(err, ErrConceptNotFound) {
		log.Debugf("No crosswalk concept for oncotree code %s", code)
		return Concept{}, nil
	}
	return concept, err
}

// Query asks the concept service for the concept matching q. Empty fields are
// left out of the request.
func (c *Client) Query(ctx context.Context, q MappingQuery) (Concept, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Concept{}, errors.Wrapf(err, "parsing crosswalk url %s", c.baseURL)
	}
	params := u.Query()
	for name, value := range map[string]string{
		"vocabularyId":  q.VocabularyID,
		"conceptId":     q.ConceptID,
		"histologyCode": q.HistologyCode,
		"siteCode":      q.SiteCode,
	} {
		if value != "" {
			params.Set(name, value)
		}
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Concept{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Concept{}, errors.Wrapf(oncotree.ErrSourceUnavailable, "crosswalk request for %+v: %v", q, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		io.Copy(io.Discard, resp.Body)
		return Concept{}, errors.Wrapf(ErrConceptNotFound, "crosswalk returned status %d for %+v", resp.StatusCode, q)
	default:
		io.Copy(io.Discard, resp.Body)
		return Concept{}, errors.Wrap(oncotree.ErrSourceUnavailable, fmt.Sprintf("crosswalk returned status %d for %+v", resp.StatusCode, q))
	}

	var concept Concept
	if err := json.NewDecoder(resp.Body).Decode(&concept); err != nil {
		return Concept{}, errors.Wrapf(oncotree.ErrSourceUnavailable, "decoding crosswalk concept for %+v: %v", q, err)
	}
	return concept, nil
}
