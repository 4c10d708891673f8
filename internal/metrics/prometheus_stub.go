//go:build noprom

package metrics

// enablePrometheus is a no-op when built without Prometheus support.
func enablePrometheus(string) error { return nil }
