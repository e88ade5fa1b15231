// Package resolver drives claimed episodes through the ordered fallback
// chain of transcript sources. Workers claim disjoint batches through the
// store's conditional transitions, so any number of them can run without a
// lock manager.
package resolver
