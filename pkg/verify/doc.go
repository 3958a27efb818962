/*
Package verify implements VerificationBuffer, the rolling-window scanner
that confirms an injected message actually reached the wrapped CLI.

PtyWorker streams raw output chunks through Buffer.Feed, which strips
ANSI escape sequences and appends the visible text to a bounded tail
(default 16 KiB). The delivery engine then calls Buffer.Contains with the
exact formatted_text it injected; a match within the verification window
(default 3s) confirms the delivery, an expiry without a match triggers a
retry.

Matching is on concatenated visible text, not raw bytes, because terminal
width can wrap the injected line across multiple output chunks.
*/
package verify
