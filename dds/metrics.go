package dds

import "github.com/c360/dynbus/metric"

// sessionMetrics records into the core metrics when a registry was given
type sessionMetrics struct {
	m *metric.Metrics
}

func (s sessionMetrics) published(topic string) {
	if s.m != nil {
		s.m.RecordPublished(topic)
	}
}

func (s sessionMetrics) disposed(topic string) {
	if s.m != nil {
		s.m.RecordDisposed(topic)
	}
}

func (s sessionMetrics) delivered(topic, state string) {
	if s.m != nil {
		s.m.RecordDelivered(topic, state)
	}
}

func (s sessionMetrics) callbackFailure(topic string) {
	if s.m != nil {
		s.m.RecordCallbackFailure(topic)
	}
}

func (s sessionMetrics) codecFailure(topic, op string) {
	if s.m != nil {
		s.m.RecordCodecFailure(topic, op)
	}
}

func (s sessionMetrics) topicsOpen(n int) {
	if s.m != nil {
		s.m.SetTopicsOpen(n)
	}
}

func (s sessionMetrics) discovered(outcome string) {
	if s.m != nil {
		s.m.RecordTypeDiscovered(outcome)
	}
}
