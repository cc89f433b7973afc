package metrics

import (
	"expvar"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

type meta struct {
	typ, help string
	label     string
}

var metas = map[string]meta{
	"stategraph_supersteps_total":         {typ: "counter", help: "Number of supersteps executed"},
	"stategraph_interrupts_total":         {typ: "counter", help: "Runs paused at an interrupt boundary"},
	"stategraph_events_dropped_total":     {typ: "counter", help: "Events dropped by full event buffers"},
	"stategraph_active_runs":              {typ: "gauge", help: "Runs currently executing"},
	"stategraph_scheduler_workers":        {typ: "gauge", help: "Configured per-superstep parallelism"},
	"stategraph_node_executions_total":    {typ: "counter", help: "Node attempts started", label: "node"},
	"stategraph_node_failures_total":      {typ: "counter", help: "Node attempts that failed", label: "node"},
	"stategraph_node_retries_total":       {typ: "counter", help: "Node attempts retried", label: "node"},
	"stategraph_runs_total":               {typ: "counter", help: "Finished runs by outcome", label: "outcome"},
	"stategraph_checkpoints_saved_total":  {typ: "counter", help: "Checkpoints written", label: "kind"},
	"stategraph_checkpoints_failed_total": {typ: "counter", help: "Checkpoint writes that failed", label: "kind"},
	"stategraph_checkpoint_bytes":         {typ: "gauge", help: "Bytes held by size-tracking stores", label: "kind"},
}

// WritePrometheus renders expvar-published metrics in Prometheus text
// exposition format. Known metrics get HELP and TYPE lines; other
// integer vars are emitted as untyped gauges.
func WritePrometheus(w io.Writer) {
	names := make([]string, 0, 64)
	expvar.Do(func(kv expvar.KeyValue) {
		names = append(names, kv.Key)
	})
	sort.Strings(names)

	for _, name := range names {
		v := expvar.Get(name)
		m, known := metas[name]
		if !known {
			if iv, ok := v.(*expvar.Int); ok {
				_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
				_, _ = fmt.Fprintf(w, "%s %s\n", name, iv.String())
			}
			continue
		}
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, sanitizeHelp(m.help))
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, m.typ)
		if m.label == "" {
			_, _ = fmt.Fprintf(w, "%s %s\n", name, v.String())
			continue
		}
		mp, ok := v.(*expvar.Map)
		if !ok {
			continue
		}
		sub := make([]expvar.KeyValue, 0, 8)
		mp.Do(func(kv expvar.KeyValue) { sub = append(sub, kv) })
		sort.Slice(sub, func(i, j int) bool { return sub[i].Key < sub[j].Key })
		for _, kv := range sub {
			_, _ = fmt.Fprintf(w, "%s{%s=\"%s\"} %s\n", name, m.label, escapeLabel(kv.Key), kv.Value.String())
		}
	}
}

// Handler serves WritePrometheus.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		WritePrometheus(w)
	})
}

func sanitizeHelp(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

// escapeLabel escapes backslash, double quote and newline.
func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
