package statview

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
)

// seriesKey identifies one gauge or local-call series across a response's
// bucket ring.
type seriesKey struct {
	Host ident.HostAddr
	Sid  ident.StatId
}

func (k seriesKey) String() string {
	return k.Host.String() + " " + k.Sid.String()
}

// gaugeSeries is one gauge identity's value across every bucket in the
// current response, aligned by bucket index (missing buckets read 0).
type gaugeSeries struct {
	key    seriesKey
	gtype  uint8
	values []float64
	latest int64
}

// lcallSeries is one local-call identity's per-bucket throughput/latency.
type lcallSeries struct {
	key      seriesKey
	latency  []float64 // avg response time per bucket, µs (as recorded in MResult.Rsptime)
	count    []float64 // call count per bucket
	total    int64
	errRatio float64 // fraction of the most recent bucket's calls with a nonzero retcode
}

func gaugeSeriesFrom(respBuckets [][]*record.MergedGauge) []gaugeSeries {
	n := len(respBuckets)
	order := make([]seriesKey, 0, 8)
	seen := make(map[seriesKey]*gaugeSeries, 8)
	for i, bucket := range respBuckets {
		for _, g := range bucket {
			k := seriesKey{Host: g.Host, Sid: g.Sid}
			s, ok := seen[k]
			if !ok {
				s = &gaugeSeries{key: k, gtype: g.Gtype, values: make([]float64, n)}
				seen[k] = s
				order = append(order, k)
			}
			s.values[i] = float64(g.Value)
			s.latest = g.Value
		}
	}
	sort.Slice(order, func(a, b int) bool { return order[a].String() < order[b].String() })
	out := make([]gaugeSeries, len(order))
	for i, k := range order {
		out[i] = *seen[k]
	}
	return out
}

func lcallSeriesFrom(respBuckets [][]*record.MergedLcall) []lcallSeries {
	n := len(respBuckets)
	order := make([]seriesKey, 0, 8)
	seen := make(map[seriesKey]*lcallSeries, 8)
	for i, bucket := range respBuckets {
		for _, l := range bucket {
			k := seriesKey{Host: l.Host, Sid: l.Sid}
			s, ok := seen[k]
			if !ok {
				s = &lcallSeries{key: k, latency: make([]float64, n), count: make([]float64, n)}
				seen[k] = s
				order = append(order, k)
			}
			var bucketCount, bucketRsp, bucketErr int64
			for retcode, res := range l.Results {
				bucketCount += int64(res.Count)
				bucketRsp += int64(res.Rsptime) * int64(res.Count)
				if retcode != 0 {
					bucketErr += int64(res.Count)
				}
			}
			s.count[i] = float64(bucketCount)
			if bucketCount > 0 {
				s.latency[i] = float64(bucketRsp) / float64(bucketCount)
				s.errRatio = float64(bucketErr) / float64(bucketCount)
			}
			s.total += bucketCount
		}
	}
	sort.Slice(order, func(a, b int) bool { return order[a].String() < order[b].String() })
	out := make([]lcallSeries, len(order))
	for i, k := range order {
		out[i] = *seen[k]
	}
	return out
}

// renderDashboard is the top-level View for Model.
func renderDashboard(m *Model) string {
	width, height := m.width, m.height
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}

	var b strings.Builder
	b.WriteString(renderHeader(m, width))
	b.WriteByte('\n')

	if m.err != nil && m.resp == nil {
		b.WriteString(renderConnecting(m, width))
		return b.String()
	}
	if m.resp == nil {
		b.WriteString(renderConnecting(m, width))
		return b.String()
	}

	gBuckets := make([][]*record.MergedGauge, len(m.resp.Buckets))
	lBuckets := make([][]*record.MergedLcall, len(m.resp.Buckets))
	for i, bk := range m.resp.Buckets {
		gBuckets[i] = bk.Gauges
		lBuckets[i] = bk.Lcalls
	}
	gauges := gaugeSeriesFrom(gBuckets)
	lcalls := lcallSeriesFrom(lBuckets)

	b.WriteString(renderLabeledDivider("gauges", width, &m.theme))
	b.WriteByte('\n')
	if len(gauges) == 0 {
		b.WriteString(mutedStyle(&m.theme).Render("  no gauge series in range"))
		b.WriteByte('\n')
	}
	for _, s := range gauges {
		b.WriteString(renderGaugePanel(m, s, width))
		b.WriteByte('\n')
	}

	b.WriteString(renderLabeledDivider("local calls", width, &m.theme))
	b.WriteByte('\n')
	if len(lcalls) == 0 {
		b.WriteString(mutedStyle(&m.theme).Render("  no local-call series in range"))
		b.WriteByte('\n')
	}
	for _, s := range lcalls {
		b.WriteString(renderLcallPanel(m, s, width))
		b.WriteByte('\n')
	}

	b.WriteString(renderFooter(m, width))
	return b.String()
}

func renderHeader(m *Model, width int) string {
	theme := &m.theme
	status := "connected"
	color := theme.connColor(m.connected)
	if !m.connected {
		status = "disconnected"
		if m.err != nil {
			status = m.err.Error()
		}
	}
	dot := lipgloss.NewStyle().Foreground(color).Render("●")
	left := fmt.Sprintf("statview  %s %s", dot, status)
	right := fmt.Sprintf("window %s  [+/-]  q quit", windows[m.windowIdx].label)
	pad := width - len([]rune(left)) - len([]rune(right))
	if pad < 1 {
		pad = 1
	}
	return left + strings.Repeat(" ", pad) + right
}

func renderFooter(m *Model, width int) string {
	if m.lastPollAt.IsZero() {
		return ""
	}
	line := fmt.Sprintf("last update %s", m.lastPollAt.Format("15:04:05"))
	return mutedStyle(&m.theme).Render(centerText(line, width))
}

func renderConnecting(m *Model, width int) string {
	top, bot := LoadingSparkline(m.loadFrame, width, m.theme.GraphGauge)
	msg := "connecting to " + m.cfg.Address + " ..."
	if m.err != nil {
		msg = m.err.Error()
	}
	return top + "\n" + bot + "\n" + mutedStyle(&m.theme).Render(centerText(msg, width))
}

const panelGraphWidth = 40

func renderGaugePanel(m *Model, s gaugeSeries, width int) string {
	theme := &m.theme
	label := Truncate(s.key.String(), width-panelGraphWidth-14)
	top, bot := Sparkline(s.values, panelGraphWidth, theme.GraphGauge, 0)
	value := formatCount(s.latest)
	line1 := fmt.Sprintf("  %-*s %s  %s", width-panelGraphWidth-14, label, top, accentStyle(theme).Render(value))
	line2 := fmt.Sprintf("  %-*s %s", width-panelGraphWidth-14, "", bot)
	return line1 + "\n" + line2
}

func renderLcallPanel(m *Model, s lcallSeries, width int) string {
	theme := &m.theme
	label := Truncate(s.key.String(), width-panelGraphWidth-14)
	top, bot := Sparkline(s.latency, panelGraphWidth, theme.GraphLatency, 0)
	latest := 0.0
	if len(s.latency) > 0 {
		latest = s.latency[len(s.latency)-1]
	}
	valueStyle := lipgloss.NewStyle().Foreground(retcodeColor(s.errRatio, theme))
	value := valueStyle.Render(formatLatencyMs(latest / 1000))
	line1 := fmt.Sprintf("  %-*s %s  %s  (%s calls)", width-panelGraphWidth-28, label, top, value, formatCount(s.total))
	line2 := fmt.Sprintf("  %-*s %s", width-panelGraphWidth-28, "", bot)
	return line1 + "\n" + line2
}
