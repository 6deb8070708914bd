// Package breaker implements the five-state circuit breaker used to gate calls
// to monitored dependencies.
//
// The package is pure: Next and Evaluate take the current state and a sample
// of call signals and return the next state without touching any store, so the
// same inputs always produce the same transition. Persistence, caching and
// event delivery live in the biz and data layers.
//
//	CLOSED ──(one condition)──▶ DEGRADED ──(calls+failures)──▶ OPEN
//	   ▲                           │                             │ 5m
//	   └────────(all clear)────────┘        HALF_OPEN ◀──────────┘
//
// FORCE_OPEN is entered and left only through Manual.
package breaker
