// Package monitor watches game launcher backends for version changes and
// turns each transition into a notification.
//
// A check cycle for one product runs in a fixed order:
//
//  1. The product's Adapter fetches the current main and pre-download versions.
//  2. The Engine diffs them against the StateStore and writes any change.
//  3. For each change it resolves download sizes, records history and
//     hands the event to the Dispatcher, which renders a message and sends
//     it to every configured Target.
//
// Two adapter families exist: the hyp launcher API that serves several
// products, and the kuro launcher index that serves one. Download metadata
// is memoised by a short-lived FetchCache so that repeated link requests
// and size resolution do not hammer upstream.
//
// Concurrency: at most one cycle per product runs at a time. Manual checks
// wait for the running cycle; scheduled checks are dropped.
package monitor
