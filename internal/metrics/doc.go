/*
Package metrics exports the node's Prometheus metrics: cache hit/miss
counters, bytes admitted and evicted, the current and maximum cache size
gauges, the rate limiter's live volume gauge, and upstream fetch
success/failure counters.

	collector := metrics.NewCollector(metrics.Config{Namespace: "hathnode"})
	collector.RecordHit()
	collector.RecordMiss()
	collector.RecordAdmitted(artifactSize)
	collector.RecordEvicted(victimSize)
	collector.SetCacheSize(mgr.CurrentSize(), maxSize)
	collector.SetLimiterVolume(volume)
	collector.RecordUpstreamAttempt(success)

The collector's Handler() is mounted on a separate admin listener, never
on the public /h/, /t/, /servercmd/ surface.
*/
package metrics
