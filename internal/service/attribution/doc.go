// Package attribution runs one private attribution computation end to end:
//
//   - optional input pre-check (line endings, header, per-row field formats)
//   - dataset window resolution (exact rule and timestamp match)
//   - instance reuse or creation
//   - stage flow execution from the instance's current status
//
// Every error returned after an instance is known carries its id.
package attribution
