// Package logging provides shared zap field constructors. Hash lists can be
// long under pathological grouping configs; truncating them keeps log lines
// bounded without losing the identifying prefix.
package logging

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/models"
)

// maxLoggedHashes bounds how many hash values appear in a single log line.
const maxLoggedHashes = 8

// Project returns a field for the project id.
func Project(id uuid.UUID) zap.Field {
	return zap.String("project_id", id.String())
}

// Group returns fields identifying a group.
func Group(g *models.Group) []zap.Field {
	return []zap.Field{
		zap.String("group_id", g.ID.String()),
		zap.Int64("short_id", g.ShortID),
	}
}

// Hashes returns a field carrying at most maxLoggedHashes hash values plus
// the total count.
func Hashes(key string, hashes []string) []zap.Field {
	logged := hashes
	if len(logged) > maxLoggedHashes {
		logged = logged[:maxLoggedHashes]
	}
	return []zap.Field{
		zap.Strings(key, logged),
		zap.Int(key+"_count", len(hashes)),
	}
}

// Occurrence returns fields summarizing an occurrence without its metadata
// blob.
func Occurrence(occ *models.NormalizedOccurrence) []zap.Field {
	fields := []zap.Field{
		Project(occ.ProjectID),
		zap.Time("occurred_at", occ.OccurredAt),
	}
	fields = append(fields, Hashes("flat_hashes", occ.FlatHashes)...)
	if len(occ.HierarchicalHashes) > 0 {
		fields = append(fields, Hashes("hierarchical_hashes", occ.HierarchicalHashes)...)
	}
	if occ.Release != nil {
		fields = append(fields, zap.String("release", occ.Release.Version))
	}
	return fields
}
