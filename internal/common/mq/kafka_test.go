package mq

import (
	"testing"
	"time"
)

func TestKafkaMessageHeadersSurviveConversion(t *testing.T) {
	msg := NewMessage([]byte(`{"submission_id":7}`))
	msg.ID = "r3-j11"
	msg.Priority = 2
	msg.Expiration = 30 * time.Second
	msg.SetHeader("trace_id", "trace-1")

	km := toKafkaMessage("rejudge.task.high", msg)
	if string(km.Key) != "r3-j11" {
		t.Fatalf("expected message id as key, got %q", km.Key)
	}
	if km.Topic != "rejudge.task.high" {
		t.Fatalf("unexpected topic %q", km.Topic)
	}

	got := fromKafkaMessage(km)
	if got.ID != msg.ID {
		t.Fatalf("expected id %q, got %q", msg.ID, got.ID)
	}
	if got.Priority != 2 || got.MaxRetries != 3 || got.Expiration != 30*time.Second {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if got.Headers["trace_id"] != "trace-1" {
		t.Fatalf("expected custom header to survive, got %v", got.Headers)
	}
	if string(got.Body) != string(msg.Body) {
		t.Fatalf("unexpected body %q", got.Body)
	}
}

func TestSubscribeOptionsDefaults(t *testing.T) {
	var opts SubscribeOptions
	opts.SetDefaults()
	if opts.Concurrency != 1 || opts.PrefetchCount != 1 || opts.MaxRetries != 3 || opts.RetryDelay != time.Second {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}
