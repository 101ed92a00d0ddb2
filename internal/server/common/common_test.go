package common

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
)

func TestSendBuffer_FullAndClosed(t *testing.T) {
	b := NewSendBuffer(2)

	if err := b.Send([]byte("1")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := b.Send([]byte("2")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := b.Send([]byte("3")); !errors.Is(err, domain.ErrBufferFull) {
		t.Errorf("Send() on full buffer error = %v, want ErrBufferFull", err)
	}
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}

	b.Close()
	b.Close()
	if !b.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}
	select {
	case <-b.Done():
	default:
		t.Error("Done() not closed")
	}
	if err := b.Send([]byte("4")); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Errorf("Send() after Close error = %v, want ErrConnectionClosed", err)
	}
}

func TestNewSendBuffer_DefaultCapacity(t *testing.T) {
	b := NewSendBuffer(0)
	if cap(b.ch) != SendBufferSize {
		t.Errorf("capacity = %d, want %d", cap(b.ch), SendBufferSize)
	}
}

func TestCloseCode(t *testing.T) {
	tests := []struct {
		reason ports.CloseReason
		want   int
	}{
		{ports.CloseNormal, websocket.CloseNormalClosure},
		{ports.CloseSlowConsumer, websocket.CloseTryAgainLater},
		{ports.CloseServerRestart, 1012},
		{ports.ClosePolicyViolation, 1008},
	}
	for _, tt := range tests {
		if got := CloseCode(tt.reason); got != tt.want {
			t.Errorf("CloseCode(%v) = %d, want %d", tt.reason, got, tt.want)
		}
	}
}
