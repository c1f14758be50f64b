// Package queue defines the static queue catalog and per-queue execution
// policies, plus the runtime limiter that enforces them at lease time.
//
// Queues are named channels that group related jobs. Every queue is bound
// to one immutable [Policy] at registration: attempt budget, backoff,
// retention, timeout, concurrency, and rate limit. The catalog is built
// once at process start and passed by reference into every component that
// needs it. There is no global registry.
//
// # Registration
//
//	catalog, err := queue.NewRegistry(
//	    queue.Queue{
//	        Name:     "demand-forecast",
//	        Category: queue.CategoryForecast,
//	        Policy: queue.Policy{
//	            MaxAttempts: 3,
//	            Backoff:     backoff.Spec{Kind: backoff.KindExponential, Base: 2 * time.Second},
//	            Concurrency: 4,
//	            RateLimit:   queue.RateLimit{Max: 100, Window: time.Minute},
//	        },
//	    },
//	)
//
// # Manager
//
// [Manager] enforces per-queue and per-tenant limits at lease time. It uses
// a token-bucket rate limiter (golang.org/x/time/rate) configured from the
// policy's max-per-window budget, and an active-count gate for concurrency.
//
//	m := queue.NewManager(catalog)
//	if m.Acquire(queueName, tenantID) {
//	    defer m.Release(queueName, tenantID)
//	    // process the job
//	}
package queue
