// Package monitor supervises long-running script executions for the runtime.
//
// A Monitor tracks a population of tasks reported by an executor agent. Its
// poll loop checks every running task against its timeout budget and an
// optional health probe; direct notifications arm, settle and fail tasks
// between polls. Failures run a fixed pipeline:
//
//  1. Classify the error text into a coarse category (timeout, permission,
//     element-not-found, network, unknown) by substring matching
//  2. Attempt the category's recovery action, executing device-level effects
//     through a DeviceController collaborator
//  3. Otherwise schedule a retry under the category's backoff strategy while
//     attempts remain
//  4. Otherwise mark the task terminally failed and keep it for inspection
//
// Terminal outcomes fan out to a MetricsSink callback, Prometheus collectors
// and a bounded in-memory history. Recovery actions and retry strategies are
// stateless policy values selected per error category and can be replaced
// wholesale through the constructor options.
package monitor
