// Package mirror publishes lookup results to Redis while a run is in
// progress, so dashboards and operators can follow a long run from outside
// the process.
//
// The mirror is write-only from the fetcher's point of view: nothing is read
// back to skip or resume work.
//
// # Keys
//
// For run id R and identifier I:
//
//   - registry:R:result:I   JSON-encoded result, expires after the configured TTL
//   - registry:R:completed  list of identifiers in completion order
//   - registry:R:count      number of published results
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	m, err := mirror.New(redisClient, mirror.DefaultConfig(runID))
//	if err != nil {
//		return err
//	}
//	if err := m.Publish(ctx, result); err != nil {
//		// log and carry on; the files remain the source of truth
//	}
//
// # Metrics
//
//   - registry_mirror_published_total - results published
//   - registry_mirror_errors_total{operation} - Redis operation errors
package mirror
