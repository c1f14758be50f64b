// Package engine wires all jobcore subsystems together: queue catalog,
// job registry, middleware chain, per-queue worker pools, monitoring,
// the control plane, cluster presence, and the maintenance sweeper.
//
// This package exists to break the import cycle: the root jobcore
// package defines Entity and Config (imported by job, queue, etc.) and
// so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
//
// Typical usage:
//
//	catalog, _ := queue.NewRegistry(
//		queue.Queue{Name: "reports", Category: queue.CategoryExport},
//	)
//	c, _ := jobcore.New(jobcore.WithStore(memory.New()))
//	eng, _ := engine.Build(c, catalog)
//	engine.Register(eng, &job.Definition[ReportParams]{
//		Name:   "generate-report",
//		Handle: func(ctx context.Context, p ReportParams) error { ... },
//	})
//	eng.Start(ctx)
//	j, _ := engine.Submit(ctx, eng, "reports", "generate-report", params)
package engine
