package events

import "testing"

func TestPublisher_NilSafe(t *testing.T) {
	// A nil publisher and a connectionless publisher both drop events
	// without panicking.
	var p *Publisher
	p.Publish("run-1", RunStarted, nil)
	p.Close()

	p = NewPublisher(nil, nil)
	p.Publish("run-1", WaveStarted, map[string]any{"wave": 0})
	p.Close()
}

func TestConnect_EmptyURLIsNoop(t *testing.T) {
	p, err := Connect("", nil)
	if err != nil {
		t.Fatalf("Connect(\"\") returned error: %v", err)
	}
	p.Publish("run-1", RunCompleted, nil)
	p.Close()
}
