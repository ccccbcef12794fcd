package oncotree

import "github.com/pkg/errors"

// Translate returns the tumor types of target that share a node URI with
// code in source. Codes get renamed between releases while the URI stays.
func Translate(source, target *Tree, code string) ([]*TumorType, error) {
	matches := Search(source.Root, Query{Field: FieldCode, Keyword: code, ExactMatch: true})
	if len(matches) == 0 {
		return nil, errors.Wrapf(ErrTumorTypeNotFound, "no tumor type matching '%s' in version '%s'", code, source.Version.Key)
	}
	from := matches[0]
	if source.Version.Key == target.Version.Key {
		return matches, nil
	}

	var translated []*TumorType
	if from.URI != "" {
		for _, tt := range Flatten(target.Root) {
			if tt.URI == from.URI {
				translated = append(translated, tt)
			}
		}
	}
	if len(translated) == 0 {
		return nil, errors.Wrapf(ErrTumorTypeNotFound, "no tumor type matching '%s' in '%s' found in version '%s'",
			code, source.Version.Key, target.Version.Key)
	}
	return translated, nil
}
