// Package ratelimit decides whether a request may proceed.
//
// [Window] is the sliding-window limiter used by the api routes: a
// per-key list of accepted request times, counted over a trailing
// [Policy.Interval]. Rejected checks are never recorded, so a client
// hammering a closed window does not push its own reopening further out.
// Every accepted check also sweeps the whole map and forgets timestamps
// older than the retention ceiling (1h by default), which bounds memory
// under high key cardinality.
//
// Window state is process-local. It is lost on restart and each replica
// counts on its own, so N replicas allow up to N times the policy. [Redis]
// keeps the same contract in a shared sorted set for deployments that need
// one budget across instances.
//
// [Bucket] is a separate per-IP token bucket that sits in front of every
// route as a flood guard. It is not a substitute for the per-route policies.
package ratelimit
