package storage

import (
	"context"
	"errors"

	"visa-instrument/internal/monitor"
	"visa-instrument/pkg/protocol"
)

// Fanout 把事件依次交给多个 sink，单个失败不影响其余
type Fanout []EventSink

func (f Fanout) Publish(ctx context.Context, event *protocol.StateEvent) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, event); err != nil {
			monitor.EventsPublished.WithLabelValues(sinkName(sink), "error").Inc()
			errs = append(errs, err)
			continue
		}
		monitor.EventsPublished.WithLabelValues(sinkName(sink), "ok").Inc()
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, sink := range f {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sinkName(s EventSink) string {
	switch s.(type) {
	case *MessageQueue:
		return "redis"
	case *MQTTPublisher:
		return "mqtt"
	case *Recorder:
		return "memory"
	}
	return "other"
}

// Recorder 保存在内存中的 sink，供测试与无外部依赖的部署使用
type Recorder struct {
	ch chan *protocol.StateEvent
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan *protocol.StateEvent, size)}
}

// Publish 缓冲区满时丢弃
func (r *Recorder) Publish(ctx context.Context, event *protocol.StateEvent) error {
	select {
	case r.ch <- event:
	default:
	}
	return nil
}

func (r *Recorder) Events() <-chan *protocol.StateEvent {
	return r.ch
}

func (r *Recorder) Close() error { return nil }
