// Package resolver maps a (dataset, attribution rule, timestamp) request onto
// the collaborator's dataset windows and computation instances.
//
// Both lookups are linear scans in the order the collaborator returns records;
// the first qualifying record wins. Instance creation is the fallback path and
// is not coordinated across processes: two concurrent resolutions for the same
// key may both create an instance.
package resolver
