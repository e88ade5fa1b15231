// Package pathway assigns each show its primary resolution strategy using a
// deterministic first-match rule chain. Assignment runs once per show and is
// cached; re-running only changes the stored pathway when the underlying
// signals changed, and every change is audited.
package pathway
