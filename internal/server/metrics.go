package server

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics is the set of counters one server instance reports.
// A nil *Metrics records nothing
type Metrics struct {
	set *metrics.Set

	connections    *metrics.Counter
	protocolErrors *metrics.Counter
	commandErrors  *metrics.Counter
	encodeErrors   *metrics.Counter
	panics         *metrics.Counter
}

// NewMetrics creates an isolated metric set
func NewMetrics() *Metrics {
	set := metrics.NewSet()
	return &Metrics{
		set:            set,
		connections:    set.NewCounter("moonkv_connections_total"),
		protocolErrors: set.NewCounter("moonkv_protocol_errors_total"),
		commandErrors:  set.NewCounter("moonkv_command_errors_total"),
		encodeErrors:   set.NewCounter("moonkv_encode_errors_total"),
		panics:         set.NewCounter("moonkv_connection_panics_total"),
	}
}

// WritePrometheus writes all metrics in Prometheus text format
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}

// trackActive exposes a gauge computed by f on every scrape
func (m *Metrics) trackActive(f func() float64) {
	if m == nil {
		return
	}
	m.set.GetOrCreateGauge("moonkv_active_connections", f)
}

// command counts one executed command. Only names from the command table reach it
func (m *Metrics) command(name string) {
	if m == nil {
		return
	}
	m.set.GetOrCreateCounter(fmt.Sprintf(`moonkv_commands_total{command=%q}`, name)).Inc()
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}

func (m *Metrics) commandError() {
	if m != nil {
		m.commandErrors.Inc()
	}
}

func (m *Metrics) encodeError() {
	if m != nil {
		m.encodeErrors.Inc()
	}
}

func (m *Metrics) recovered() {
	if m != nil {
		m.panics.Inc()
	}
}
