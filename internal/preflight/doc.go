// Package preflight checks the filesystem paths the daemon writes to.
//
// The health monitor runs Directories on every self-check and reports each
// inaccessible directory as a problem, so a revoked mount or permission
// change surfaces before sessions start failing in the metadata stage.
package preflight
