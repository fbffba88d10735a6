// Package metrics exposes hub counters in the Prometheus text exposition
// format.
//
// Handler(src) renders a fresh ws.Stats snapshot on every scrape; nothing is
// accumulated here. Families:
//
//	fanstage_hub_connections                     gauge
//	fanstage_hub_streams                         gauge
//	fanstage_stream_viewers{stream_id}           gauge
//	fanstage_hub_messages_total{type}            counter
//	fanstage_hub_messages_rejected_total{reason} counter
//	fanstage_hub_deliveries_total{result}        counter (sent|skipped|dropped)
//
// Labelled families with no samples are omitted.
package metrics
