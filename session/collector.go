package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bufferedDesc = prometheus.NewDesc(
		"audio_ingest_session_buffered_bytes",
		"Input bytes queued for the transcoder of a session.",
		[]string{"stream", "recording"}, nil,
	)
	writtenDesc = prometheus.NewDesc(
		"audio_ingest_session_written_bytes",
		"Input bytes handed to the transcoder of a session.",
		[]string{"stream", "recording"}, nil,
	)
)

func (m *Manager) Describe(ch chan<- *prometheus.Desc) {
	ch <- bufferedDesc
	ch <- writtenDesc
}

// Collect reports per session input state. It goes through the manager
// loop like every other read.
func (m *Manager) Collect(ch chan<- prometheus.Metric) {
	for _, d := range m.List() {
		if d.State != StateActive {
			continue
		}
		recording := "false"
		if d.Record {
			recording = "true"
		}
		ch <- prometheus.MustNewConstMetric(bufferedDesc, prometheus.GaugeValue, float64(d.Buffered), d.ID, recording)
		ch <- prometheus.MustNewConstMetric(writtenDesc, prometheus.CounterValue, float64(d.Written), d.ID, recording)
	}
}
