package store

// CurrentSchemaVersion is stamped on every entry at save time. Bump it
// whenever the persisted record shape changes incompatibly; older entries
// are purged on read rather than migrated.
const CurrentSchemaVersion = 3

// schemaHistory records whether entries written under each past version can
// still be read. Versions absent from the table are valid only when at or
// above the current version.
var schemaHistory = map[int]bool{
	1: false, // pre-sourceRef records, highlight mapping unusable
	2: false, // per-segment files, incompatible with single-record layout
	3: true,
}

// SchemaVersionValid reports whether an entry written under version v may be
// returned to callers.
func SchemaVersionValid(v int) bool {
	if valid, ok := schemaHistory[v]; ok {
		return valid
	}
	return v >= CurrentSchemaVersion
}
