/*
Package metrics defines the Prometheus metrics ebspin records during a run.

ebspin is a one-shot command, so nothing stays up long enough to be
scraped. Instead, when a metrics file is configured, the default registry
is written once at exit in the text exposition format for the node_exporter
textfile collector:

	ebspin attach ... --metrics-file /var/lib/node_exporter/textfile/ebspin.prom

The file is written through a temporary file and renamed into place, so
the collector never reads a partial file.

# Metrics Catalog

ebspin_api_calls_total{operation, result}:
  - Type: Counter
  - One increment per provider call attempt, including retries
  - Example: ebspin_api_calls_total{operation="CreateVolume",result="success"} 1

ebspin_api_call_duration_seconds{operation}:
  - Type: Histogram
  - Latency of a single provider call attempt

ebspin_wait_duration_seconds{resource}:
  - Type: Histogram
  - Time spent polling a volume, snapshot or attachment until it settled
  - Labels: resource is one of volume, snapshot, attachment

ebspin_attach_total{path, result}:
  - Type: Counter
  - Labels: path is fresh, restore, reuse, migrate, or none when the call
    failed before a path was chosen

ebspin_attach_duration_seconds:
  - Type: Histogram
  - End to end duration of successful attach calls

ebspin_cleanup_total{resource, result}:
  - Type: Counter
  - Superseded volumes and snapshots handled by cleanup
  - Labels: result is success, error, or skipped for snapshots that carry
    foreign tags

# Usage

	timer := metrics.NewTimer()
	out, err := client.DescribeVolumes(ctx, in)
	metrics.ObserveAPICall("DescribeVolumes", timer, err)

	if err := metrics.WriteTextfile(path); err != nil {
		// log and move on
	}
*/
package metrics
