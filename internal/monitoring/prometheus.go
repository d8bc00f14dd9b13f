package monitoring

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// PrometheusExporter renders a registry in the Prometheus text exposition
// format.
type PrometheusExporter struct {
	registry *MetricsRegistry
	labels   map[string]string
}

// NewPrometheusExporter attaches labels to every sample it writes.
func NewPrometheusExporter(registry *MetricsRegistry, labels map[string]string) *PrometheusExporter {
	return &PrometheusExporter{
		registry: registry,
		labels:   labels,
	}
}

// WriteTo writes every metric, sorted by name, followed by build info.
func (pe *PrometheusExporter) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	metrics := pe.registry.GetAllMetrics()
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pe.writeMetric(&buf, metrics[name])
	}
	pe.writeBuildInfo(&buf)

	return buf.WriteTo(w)
}

func (pe *PrometheusExporter) writeMetric(buf *bytes.Buffer, metric *Metric) {
	if metric.Help != "" {
		fmt.Fprintf(buf, "# HELP %s %s\n", metric.Name, escapeHelp(metric.Help))
	}
	fmt.Fprintf(buf, "# TYPE %s %s\n", metric.Name, metric.Type)

	switch metric.Type {
	case MetricTypeCounter, MetricTypeGauge:
		fmt.Fprintf(buf, "%s%s %s\n", metric.Name, formatLabels(pe.labels), formatFloat(metric.Value))
	case MetricTypeHistogram:
		pe.writeHistogram(buf, metric)
	}
}

func (pe *PrometheusExporter) writeHistogram(buf *bytes.Buffer, metric *Metric) {
	h, ok := pe.registry.histogram(metric.Name)
	if !ok {
		return
	}
	bounds, cumulative, sum, count := h.snapshot()

	for i, bound := range bounds {
		labels := withLabel(pe.labels, "le", formatFloat(bound))
		fmt.Fprintf(buf, "%s_bucket%s %d\n", metric.Name, formatLabels(labels), cumulative[i])
	}
	fmt.Fprintf(buf, "%s_bucket%s %d\n", metric.Name, formatLabels(withLabel(pe.labels, "le", "+Inf")), count)
	fmt.Fprintf(buf, "%s_sum%s %s\n", metric.Name, formatLabels(pe.labels), formatFloat(sum))
	fmt.Fprintf(buf, "%s_count%s %d\n", metric.Name, formatLabels(pe.labels), count)
}

func (pe *PrometheusExporter) writeBuildInfo(buf *bytes.Buffer) {
	labels := withLabel(pe.labels, "go_version", runtime.Version())
	buf.WriteString("# HELP lkvs_build_info Build information\n")
	buf.WriteString("# TYPE lkvs_build_info gauge\n")
	fmt.Fprintf(buf, "lkvs_build_info%s 1\n", formatLabels(labels))
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	pairs := make([]string, 0, len(labels))
	for key, value := range labels {
		if value != "" {
			pairs = append(pairs, fmt.Sprintf("%s=\"%s\"", key, escapeLabelValue(value)))
		}
	}
	if len(pairs) == 0 {
		return ""
	}

	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	result := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		result[k] = v
	}
	result[key] = value
	return result
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "\\n")
	return value
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	return strings.ReplaceAll(help, "\n", "\\n")
}
