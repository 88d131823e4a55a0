// Package dispatch runs one registry lookup per identifier on a fixed-size
// worker pool and feeds every result into a sink.
//
// Example usage:
//
//	d, err := dispatch.New(dispatch.DefaultConfig(), fetcher, resultSink, pacer)
//	if err != nil {
//		return err
//	}
//	err = d.Run(ctx, ids)
//
// The dispatcher:
//   - Submits exactly one task per identifier (duplicates included)
//   - Runs at most Workers lookups at once; each worker pauses after every lookup
//   - Records results in completion order
//   - Turns a crashed task into a failed result so every identifier gets a row
//   - Flushes the sink's document once all tasks are done
package dispatch
