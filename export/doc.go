// Package export turns a pipeline into a runnable directory tree.
//
// Every node gets <dir>/<node-id>/{parameters.json, imported/, exported/}.
// An import cache bound to an upstream export cache is wired by making
// <node>/imported/<sample>/<cache> resolve to
// <source>/exported/<sample>/<source-cache>, either immediately or when the
// generated run.sh executes. No module computation happens during export.
package export
