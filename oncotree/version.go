package oncotree

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultVersionAlias is the version served when a request names none.
	DefaultVersionAlias = "oncotree_latest_stable"
	// DevelopmentVersion always sorts after every dated release.
	DevelopmentVersion = "oncotree_development"
	// DefaultLiveVersion is rebuilt on every request and never cached.
	DefaultLiveVersion = "realtime"
)

const releaseDateLayout = "2006-01-02"

type Version struct {
	Key         string `json:"api_identifier"`
	GraphURI    string `json:"graph_uri,omitempty"`
	Description string `json:"description"`
	Visible     bool   `json:"visible"`
	ReleaseDate string `json:"release_date"`
}

// VersionResolver maps version names to versions. Its list is replaced as a
// whole by Refresh.
type VersionResolver struct {
	sync.RWMutex
	defaultAlias string
	versions     []Version
	byKey        map[string]Version
}

func NewVersionResolver(defaultAlias string) *VersionResolver {
	if defaultAlias == "" {
		defaultAlias = DefaultVersionAlias
	}
	return &VersionResolver{defaultAlias: defaultAlias, byKey: map[string]Version{}}
}

// Refresh installs a new version list, ordered ascending by release date with
// the development version last.
func (r *VersionResolver) Refresh(versions []Version) {
	sorted := make([]Version, len(versions))
	copy(sorted, versions)
	SortVersions(sorted)

	byKey := make(map[string]Version, len(sorted))
	for _, v := range sorted {
		byKey[v.Key] = v
	}

	r.Lock()
	r.versions = sorted
	r.byKey = byKey
	r.Unlock()
}

func (r *VersionResolver) Resolve(name string) (Version, error) {
	if name == "" {
		return Version{}, errors.Wrap(ErrUnknownVersion, "no version given")
	}
	r.RLock()
	defer r.RUnlock()
	v, ok := r.byKey[name]
	if !ok {
		return Version{}, errors.Wrapf(ErrUnknownVersion, "version '%s'", name)
	}
	return v, nil
}

// ResolveDefault resolves the configured default alias. A missing alias is a
// configuration problem and is reported as ErrUnknownVersion.
func (r *VersionResolver) ResolveDefault() (Version, error) {
	return r.Resolve(r.defaultAlias)
}

func (r *VersionResolver) DefaultAlias() string {
	return r.defaultAlias
}

func (r *VersionResolver) List() []Version {
	r.RLock()
	defer r.RUnlock()
	out := make([]Version, len(r.versions))
	copy(out, r.versions)
	return out
}

func (r *VersionResolver) Loaded() bool {
	r.RLock()
	defer r.RUnlock()
	return len(r.versions) > 0
}

// SortVersions orders versions ascending by release date, development last.
func SortVersions(versions []Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if (a.Key == DevelopmentVersion) != (b.Key == DevelopmentVersion) {
			return b.Key == DevelopmentVersion
		}
		return releasedBefore(a.ReleaseDate, b.ReleaseDate)
	})
}

// releasedBefore orders parseable release dates by date, ahead of every
// unparseable one; unparseable dates are ordered as strings.
func releasedBefore(a, b string) bool {
	ta, errA := time.Parse(releaseDateLayout, a)
	tb, errB := time.Parse(releaseDateLayout, b)
	switch {
	case errA == nil && errB == nil:
		return ta.Before(tb)
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
