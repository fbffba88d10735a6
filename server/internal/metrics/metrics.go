package metrics

import (
	"log/slog"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/fanstage/fanstage/server/internal/ws"
)

// Source supplies the counters to expose.
type Source interface {
	Stats() ws.Stats
}

// Handler serves GET /metrics.
func Handler(src Source) http.Handler {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range Collect(src.Stats()) {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

// Collect converts a stats snapshot into metric families in a stable order.
func Collect(st ws.Stats) []*dto.MetricFamily {
	families := []*dto.MetricFamily{
		family("fanstage_hub_connections", "Registered WebSocket connections.", dto.MetricType_GAUGE,
			metric(dto.MetricType_GAUGE, nil, float64(st.Connections))),
		family("fanstage_hub_streams", "Streams with at least one viewer.", dto.MetricType_GAUGE,
			metric(dto.MetricType_GAUGE, nil, float64(len(st.Viewers)))),
	}

	viewers := make(map[string]float64, len(st.Viewers))
	for id, n := range st.Viewers {
		viewers[id] = float64(n)
	}
	received := make(map[string]float64, len(st.Received))
	for typ, n := range st.Received {
		received[string(typ)] = float64(n)
	}
	rejected := make(map[string]float64, len(st.Rejected))
	for reason, n := range st.Rejected {
		rejected[reason] = float64(n)
	}
	deliveries := map[string]float64{
		"sent":    float64(st.Sent),
		"skipped": float64(st.Skipped),
		"dropped": float64(st.Dropped),
	}

	for _, f := range []struct {
		name, help, label string
		typ               dto.MetricType
		values            map[string]float64
	}{
		{"fanstage_stream_viewers", "Live viewer count per stream.", "stream_id", dto.MetricType_GAUGE, viewers},
		{"fanstage_hub_messages_total", "Inbound messages accepted, by type.", "type", dto.MetricType_COUNTER, received},
		{"fanstage_hub_messages_rejected_total", "Inbound messages dropped, by reason.", "reason", dto.MetricType_COUNTER, rejected},
		{"fanstage_hub_deliveries_total", "Per-connection send outcomes.", "result", dto.MetricType_COUNTER, deliveries},
	} {
		if len(f.values) == 0 {
			continue
		}
		families = append(families, family(f.name, f.help, f.typ, labelled(f.typ, f.label, f.values)...))
	}
	return families
}

// --- helpers ----------------------------------------------------------------

func family(name, help string, typ dto.MetricType, metrics ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   typ.Enum(),
		Metric: metrics,
	}
}

func metric(typ dto.MetricType, labels []*dto.LabelPair, v float64) *dto.Metric {
	m := &dto.Metric{Label: labels}
	if typ == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: proto.Float64(v)}
	} else {
		m.Gauge = &dto.Gauge{Value: proto.Float64(v)}
	}
	return m
}

// labelled returns one sample per key of values, sorted by label value.
func labelled(typ dto.MetricType, label string, values map[string]float64) []*dto.Metric {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*dto.Metric, 0, len(keys))
	for _, k := range keys {
		labels := []*dto.LabelPair{{Name: proto.String(label), Value: proto.String(k)}}
		out = append(out, metric(typ, labels, values[k]))
	}
	return out
}
