// Command quill is the transcript pipeline CLI. It hosts the resolver
// daemon and the operator commands for feeds, sources, shows, and
// episodes, all sharing one SQLite store.
package main
