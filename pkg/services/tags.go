package services

import (
	"github.com/faultline-hq/faultline-engine/pkg/models"
)

// TagContributor derives tags from an occurrence. Contributors are supplied
// to the orchestrator as an explicit, ordered slice; later contributors
// win key conflicts.
type TagContributor interface {
	Tags(occ *models.NormalizedOccurrence) []models.Tag
}

// PlatformTagContributor tags occurrences with their reporting platform.
type PlatformTagContributor struct{}

var _ TagContributor = (*PlatformTagContributor)(nil)

// Tags implements TagContributor.
func (PlatformTagContributor) Tags(occ *models.NormalizedOccurrence) []models.Tag {
	if occ.Platform == "" {
		return nil
	}
	return []models.Tag{{Key: "platform", Value: occ.Platform}}
}

// ReleaseTagContributor tags occurrences with their release version.
type ReleaseTagContributor struct{}

var _ TagContributor = (*ReleaseTagContributor)(nil)

// Tags implements TagContributor.
func (ReleaseTagContributor) Tags(occ *models.NormalizedOccurrence) []models.Tag {
	if occ.Release == nil || occ.Release.Version == "" {
		return nil
	}
	return []models.Tag{{Key: "release", Value: occ.Release.Version}}
}

// collectTags runs every contributor in order and de-duplicates by key,
// later contributors overriding earlier ones.
func collectTags(contributors []TagContributor, occ *models.NormalizedOccurrence) []models.Tag {
	byKey := make(map[string]int)
	var tags []models.Tag

	for _, c := range contributors {
		for _, tag := range c.Tags(occ) {
			if i, ok := byKey[tag.Key]; ok {
				tags[i] = tag
				continue
			}
			byKey[tag.Key] = len(tags)
			tags = append(tags, tag)
		}
	}

	return tags
}
