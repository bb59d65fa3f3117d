// Package job defines the typed descriptors shipped into isolated contexts.
//
// A Descriptor names a job kind and carries a JSON parameter record. The
// isolated context interprets it with a fixed dispatcher compiled into the
// binary, so nothing resembling source text is ever evaluated at runtime.
//
// Example Usage:
//
//	desc, err := job.New(job.KindPollClient, settings, true)
//	if err != nil {
//		return err
//	}
//	host.PostJob(desc)
package job
