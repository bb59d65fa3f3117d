// Package worker hosts job bodies inside isolated contexts.
//
// An isolated context is a goroutine draining a single task queue. Nothing is
// shared with the host: every message crosses the boundary as encoded bytes,
// and every asynchronous completion (timers, HTTP responses, socket frames)
// is posted back into the queue so job state is only touched by one goroutine.
//
// Jobs are described by a typed job.Descriptor. The context's dispatcher looks
// the descriptor's kind up in a Registry of factories and never evaluates code.
//
// Shutdown is two-phase: End posts a close command and arms a hard-kill timer.
// Whichever settles first wins, the close acknowledgment or the timer.
//
// Example Usage:
//
//	host := worker.Spawn(registry, worker.WithLogger(logger))
//	host.AddListener(worker.EventMessage, func(ev worker.Event) {
//	    fmt.Println(string(ev.Data))
//	})
//	_ = host.PostJob(descriptor)
//	defer host.End(0)
package worker
