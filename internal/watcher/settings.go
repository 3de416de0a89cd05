package watcher

import (
	"maps"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/filter"
)

// AssetSetting applies stage overrides and metadata to assets whose path,
// relative to the input root, matches Files.
type AssetSetting struct {
	Files    []string       `yaml:"files"`
	Settings asset.Settings `yaml:"settings"`
	MetaData map[string]any `yaml:"metadata"`
}

type compiledSetting struct {
	match *filter.Matcher
	AssetSetting
}

func compileSettings(in []AssetSetting) ([]compiledSetting, error) {
	out := make([]compiledSetting, 0, len(in))
	for _, s := range in {
		m, err := filter.NewMatcher(s.Files)
		if err != nil {
			return nil, err
		}
		out = append(out, compiledSetting{match: m, AssetSetting: s})
	}
	return out, nil
}

// applySettings merges every matching setting into a. Later settings win;
// metadata from the file name always wins over configured metadata.
func applySettings(settings []compiledSetting, a *asset.Asset, rel string) {
	fromName := asset.ParseTags(a.Filename())
	for _, s := range settings {
		if !s.match.Match(rel) {
			continue
		}
		if len(s.Settings) > 0 {
			if a.Settings == nil {
				a.Settings = asset.Settings{}
			}
			maps.Copy(a.Settings, s.Settings)
		}
		for k, v := range s.MetaData {
			if _, own := fromName[k]; own {
				continue
			}
			a.MetaData[k] = v
		}
	}
}
