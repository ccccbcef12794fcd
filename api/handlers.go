package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mskcc/oncotree-api/backup"
	"github.com/mskcc/oncotree-api/crosswalk"
	"github.com/mskcc/oncotree-api/oncotree"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
)

const defaultSearchLevels = "1,2,3,4,5"

// defaultReloadTimeout covers a Graphite query that exhausts its attempts:
// 30s client timeout, 5 retries, 2 attempts.
const defaultReloadTimeout = 5 * time.Minute

const (
	maxVocabularyIDLength  = 24
	maxConceptIDLength     = 36
	maxHistologyCodeLength = 36
	maxSiteCodeLength      = 36
)

var (
	versionParameter    = "version"
	searchTypeVariable  = "type"
	searchQueryVariable = "query"
)

// MappingSource answers crosswalk mapping queries.
type MappingSource interface {
	Query(ctx context.Context, q crosswalk.MappingQuery) (crosswalk.Concept, error)
}

type Handler struct {
	service       Service
	mappings      MappingSource
	reloadTimeout time.Duration
}

// NewHandler returns the API handler. mappings may be nil, in which case the
// crosswalk endpoint answers 503.
func NewHandler(service Service, mappings MappingSource) *Handler {
	return &Handler{
		service:       service,
		mappings:      mappings,
		reloadTimeout: defaultReloadTimeout,
	}
}

func (h *Handler) HandleGetVersions(resp http.ResponseWriter, req *http.Request) {
	writeJSONResponse(resp, h.service.Versions())
}

func (h *Handler) HandleGetTumorTypes(resp http.ResponseWriter, req *http.Request) {
	tree, ok := h.tree(resp, req)
	if !ok {
		return
	}
	writeJSONResponse(resp, oncotree.Flatten(tree.Root))
}

func (h *Handler) HandleGetTree(resp http.ResponseWriter, req *http.Request) {
	tree, ok := h.tree(resp, req)
	if !ok {
		return
	}
	writeJSONResponse(resp, map[string]*oncotree.TumorType{tree.Root.Code: tree.Root})
}

func (h *Handler) HandleSearch(resp http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	searchType := vars[searchTypeVariable]
	query := oncotree.Query{
		Field:            oncotree.ParseField(searchType),
		Keyword:          vars[searchQueryVariable],
		ExactMatch:       true,
		IncludeAncestors: false,
	}

	params := req.URL.Query()
	var err error
	if v := params.Get("exactMatch"); v != "" {
		if query.ExactMatch, err = strconv.ParseBool(v); err != nil {
			writeJSONMessageWithStatus(resp, "'"+v+"' is not a valid value for exactMatch", http.StatusBadRequest)
			return
		}
	}
	if v := params.Get("includeParent"); v != "" {
		if query.IncludeAncestors, err = strconv.ParseBool(v); err != nil {
			writeJSONMessageWithStatus(resp, "'"+v+"' is not a valid value for includeParent", http.StatusBadRequest)
			return
		}
	}
	levels := defaultSearchLevels
	if _, ok := params["levels"]; ok {
		levels = params.Get("levels")
	}

	var levelList []int
	filterLevels := strings.ToLower(searchType) != string(oncotree.FieldLevel) && strings.TrimSpace(levels) != ""
	if filterLevels {
		for _, l := range strings.Split(levels, ",") {
			level, err := strconv.Atoi(strings.TrimSpace(l))
			if err != nil {
				writeJSONMessageWithStatus(resp, "'"+l+"' is not a valid level.  Level must be an integer.", http.StatusBadRequest)
				return
			}
			levelList = append(levelList, level)
		}
	}

	tree, ok := h.tree(resp, req)
	if !ok {
		return
	}
	matched := oncotree.Search(tree.Root, query)
	if filterLevels {
		matched = oncotree.FilterByLevel(matched, levelList)
	}
	if len(matched) == 0 {
		writeJSONMessageWithStatus(resp, "No tumor types found matching supplied query", http.StatusNotFound)
		return
	}
	writeJSONResponse(resp, matched)
}

type searchBatchRequest struct {
	Version string             `json:"version"`
	Queries []searchBatchQuery `json:"queries"`
}

type searchBatchQuery struct {
	Type       string `json:"type"`
	Query      string `json:"query"`
	ExactMatch *bool  `json:"exactMatch"`
}

// HandleSearchBatch runs every query of the body against one version and
// returns one result list per query, empty lists included.
func (h *Handler) HandleSearchBatch(resp http.ResponseWriter, req *http.Request) {
	var body searchBatchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSONMessageWithStatus(resp, "Unable to parse search queries: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Queries == nil {
		writeJSONMessageWithStatus(resp, "'queries' is required", http.StatusBadRequest)
		return
	}

	tree, err := h.service.GetTree(req.Context(), body.Version)
	if err != nil {
		writeError(resp, err)
		return
	}
	results := make([][]*oncotree.TumorType, 0, len(body.Queries))
	for _, q := range body.Queries {
		exactMatch := true
		if q.ExactMatch != nil {
			exactMatch = *q.ExactMatch
		}
		results = append(results, oncotree.Search(tree.Root, oncotree.Query{
			Field:      oncotree.ParseField(q.Type),
			Keyword:    q.Query,
			ExactMatch: exactMatch,
		}))
	}
	writeJSONResponse(resp, results)
}

func (h *Handler) HandleGetMainTypes(resp http.ResponseWriter, req *http.Request) {
	tree, ok := h.tree(resp, req)
	if !ok {
		return
	}
	writeJSONResponse(resp, oncotree.MainTypeNames(tree))
}

func (h *Handler) HandleGetTumorTypesTxt(resp http.ResponseWriter, req *http.Request) {
	tree, ok := h.tree(resp, req)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := oncotree.WriteTSV(&buf, tree.Root); err != nil {
		log.WithError(err).Errorf("Unable to export version '%s' as text", tree.Version.Key)
		writeJSONMessageWithStatus(resp, err.Error(), http.StatusInternalServerError)
		return
	}
	resp.Header().Set("Content-Type", "text/plain; charset=utf-8")
	resp.WriteHeader(http.StatusOK)
	buf.WriteTo(resp)
}

func (h *Handler) HandleTranslate(resp http.ResponseWriter, req *http.Request) {
	params := req.URL.Query()
	sourceCode := params.Get("sourceCode")
	if sourceCode == "" {
		writeJSONMessageWithStatus(resp, "'sourceCode' is a required parameter", http.StatusBadRequest)
		return
	}
	if params.Get("sourceVersion") == "" {
		writeJSONMessageWithStatus(resp, "'sourceVersion' is a required parameter", http.StatusBadRequest)
		return
	}

	source, err := h.service.GetTree(req.Context(), params.Get("sourceVersion"))
	if err != nil {
		writeError(resp, err)
		return
	}
	target, err := h.service.GetTree(req.Context(), params.Get("targetVersion"))
	if err != nil {
		writeError(resp, err)
		return
	}
	translated, err := oncotree.Translate(source, target, sourceCode)
	if err != nil {
		writeError(resp, err)
		return
	}
	writeJSONResponse(resp, translated)
}

// HandleGetMappings returns the oncotree codes the crosswalk service maps a
// concept, or a histology and site pair, to.
func (h *Handler) HandleGetMappings(resp http.ResponseWriter, req *http.Request) {
	if h.mappings == nil {
		writeJSONMessageWithStatus(resp, "Crosswalk service is not configured", http.StatusServiceUnavailable)
		return
	}
	params := req.URL.Query()
	q := crosswalk.MappingQuery{
		VocabularyID:  cleanArgument(params.Get("vocabularyId")),
		ConceptID:     cleanArgument(params.Get("conceptId")),
		HistologyCode: cleanArgument(params.Get("histologyCode")),
		SiteCode:      cleanArgument(params.Get("siteCode")),
	}
	if !mappingQueryIsValid(q) {
		writeJSONMessageWithStatus(resp, fmt.Sprintf("Your query parameters, vocabularyId: %s, conceptId: %s, histologyCode: %s, siteCode: %s are not valid. Please refer to the documentation",
			q.VocabularyID, q.ConceptID, q.HistologyCode, q.SiteCode), http.StatusBadRequest)
		return
	}

	concept, err := h.mappings.Query(req.Context(), q)
	if err != nil {
		writeError(resp, err)
		return
	}
	codes := concept.OncotreeMappings()
	if len(codes) == 0 {
		writeJSONMessageWithStatus(resp, "There is no OncoTree code mapped to the query", http.StatusNotFound)
		return
	}
	writeJSONResponse(resp, codes)
}

// mappingQueryIsValid requires a vocabulary and either a concept id alone or
// both a histology code and a site code.
func mappingQueryIsValid(q crosswalk.MappingQuery) bool {
	if !argumentIsValid(q.VocabularyID, maxVocabularyIDLength) {
		return false
	}
	if q.ConceptID != "" {
		return len(q.ConceptID) <= maxConceptIDLength && q.HistologyCode == "" && q.SiteCode == ""
	}
	return argumentIsValid(q.HistologyCode, maxHistologyCodeLength) && argumentIsValid(q.SiteCode, maxSiteCodeLength)
}

func argumentIsValid(arg string, maxLength int) bool {
	return arg != "" && len(arg) <= maxLength
}

// cleanArgument keeps printable ASCII, minus characters that could be used
// for markup or quoting.
func cleanArgument(arg string) string {
	return strings.Map(func(r rune) rune {
		if r < '!' || r > '~' || strings.ContainsRune(`<>&"'\`, r) {
			return -1
		}
		return r
	}, arg)
}

// HandleReload rebuilds one version, or everything when no version is given,
// in the background.
func (h *Handler) HandleReload(resp http.ResponseWriter, req *http.Request) {
	version := req.URL.Query().Get(versionParameter)
	jobID := "job_" + uuid.New()

	go func(version, jobID string) {
		logger := log.WithFields(log.Fields{"jobID": jobID, "version": version})
		ctx, cancel := context.WithTimeout(context.Background(), h.reloadTimeout)
		defer cancel()

		var err error
		if version == "" {
			err = h.service.Reload(ctx)
		} else {
			err = h.service.ReloadVersion(ctx, version)
		}
		if err != nil {
			logger.WithError(err).Error("Reload failed")
			return
		}
		logger.Info("Reload finished")
	}(version, jobID)

	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(http.StatusAccepted)
	json.NewEncoder(resp).Encode(map[string]interface{}{
		"jobID": jobID,
	})
}

type healthCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Output string `json:"checkOutput"`
}

func (h *Handler) HealthCheck(resp http.ResponseWriter, req *http.Request) {
	checks := []healthCheck{
		{Name: "Oncotree versions and trees have been loaded.", OK: h.service.IsDataLoaded()},
	}
	if checks[0].OK {
		checks[0].Output = "Data is loaded"
	} else {
		checks[0].Output = "Data is not loaded"
	}
	defaultCheck := healthCheck{Name: "Default oncotree version is available.", OK: true, Output: "Default version resolves"}
	if _, err := h.service.ResolveVersion(""); err != nil {
		defaultCheck.OK = false
		defaultCheck.Output = err.Error()
	}
	checks = append(checks, defaultCheck)

	ok := true
	for _, c := range checks {
		ok = ok && c.OK
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(status)
	json.NewEncoder(resp).Encode(map[string]interface{}{
		"name":   "oncotree-api",
		"ok":     ok,
		"checks": checks,
	})
}

func (h *Handler) G2GCheck(resp http.ResponseWriter, req *http.Request) {
	if !h.service.IsDataLoaded() {
		resp.WriteHeader(http.StatusServiceUnavailable)
		resp.Write([]byte("Data is not loaded"))
		return
	}
	resp.Write([]byte("OK"))
}

// tree fetches the tree for the request's version and writes the error
// response itself when that fails.
func (h *Handler) tree(resp http.ResponseWriter, req *http.Request) (*oncotree.Tree, bool) {
	tree, err := h.service.GetTree(req.Context(), req.URL.Query().Get(versionParameter))
	if err != nil {
		writeError(resp, err)
		return nil, false
	}
	return tree, true
}

func statusFor(err error) int {
	var invalid *oncotree.InvalidTreeError
	switch {
	case errors.Is(err, oncotree.ErrUnknownVersion),
		errors.Is(err, oncotree.ErrTumorTypeNotFound),
		errors.Is(err, crosswalk.ErrConceptNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusInternalServerError
	case errors.Is(err, backup.ErrFallbackExhausted),
		errors.Is(err, oncotree.ErrSourceUnavailable),
		errors.Is(err, oncotree.ErrTreeUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
	}
	writeJSONMessageWithStatus(w, err.Error(), status)
}

func writeJSONMessageWithStatus(w http.ResponseWriter, msg string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func writeJSONResponse(w http.ResponseWriter, obj interface{}) {
	body, err := json.Marshal(obj)
	if err != nil {
		log.Errorf("Error on json encoding=%v", err)
		writeJSONMessageWithStatus(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n'))
}

func Router(h *Handler) *mux.Router {
	servicesRouter := mux.NewRouter()

	versionsHandler := handlers.MethodHandler{
		"GET": h.EnforceDataLoaded(http.HandlerFunc(h.HandleGetVersions)),
	}
	tumorTypesHandler := handlers.MethodHandler{
		"GET": h.EnforceDataLoaded(h.EnforceVersion(http.HandlerFunc(h.HandleGetTumorTypes))),
	}
	treeHandler := handlers.MethodHandler{
		"GET": h.EnforceDataLoaded(h.EnforceVersion(http.HandlerFunc(h.HandleGetTree))),
	}
	searchBatchHandler := handlers.MethodHandler{
		"POST": h.EnforceDataLoaded(http.HandlerFunc(h.HandleSearchBatch)),
	}
	mappingsHandler := handlers.MethodHandler{
		"GET": http.HandlerFunc(h.HandleGetMappings),
	}
	searchHandler := handlers.MethodHandler{
		"GET": h.EnforceDataLoaded(h.EnforceVersion(http.HandlerFunc(h.HandleSearch))),
	}
	translateHandler := handlers.MethodHandler{
		"GET": h.EnforceDataLoaded(http.HandlerFunc(h.HandleTranslate)),
	}
	mainTypesHandler := handlers.MethodHandler{
		"GET": h.EnforceDataLoaded(h.EnforceVersion(http.HandlerFunc(h.HandleGetMainTypes))),
	}
	txtHandler := handlers.MethodHandler{
		"GET": h.EnforceDataLoaded(h.EnforceVersion(http.HandlerFunc(h.HandleGetTumorTypesTxt))),
	}
	reloadHandler := handlers.MethodHandler{
		"POST": h.EnforceVersion(http.HandlerFunc(h.HandleReload)),
	}

	servicesRouter.Handle("/api/versions", versionsHandler)
	servicesRouter.Handle("/api/tumorTypes", tumorTypesHandler)
	servicesRouter.Handle("/api/tumorTypes/tree", treeHandler)
	servicesRouter.Handle("/api/tumorTypes/translate", translateHandler)
	servicesRouter.Handle("/api/tumorTypes/__reload", reloadHandler)
	servicesRouter.Handle("/api/tumorTypes/search", searchBatchHandler)
	servicesRouter.Handle("/api/tumorTypes/search/{type}/{query}", searchHandler)
	servicesRouter.Handle("/api/crosswalk", mappingsHandler)
	servicesRouter.Handle("/api/mainTypes", mainTypesHandler)
	servicesRouter.Handle("/api/tumor_types.txt", txtHandler)
	servicesRouter.HandleFunc("/__health", h.HealthCheck).Methods("GET")
	servicesRouter.HandleFunc("/__gtg", h.G2GCheck).Methods("GET")
	return servicesRouter
}
