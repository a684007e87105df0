// Package health provides composable readiness and liveness checks and the
// HTTP handlers that expose them on the ops server.
//
// [All] runs checks concurrently and reports every failure. [Up] and [Down]
// are static. [Ping] bounds a dependency round trip such as redis with a
// timeout.
//
// [ShutdownGate] fails readiness as soon as draining starts so the load
// balancer stops routing before in-flight requests finish.
package health
