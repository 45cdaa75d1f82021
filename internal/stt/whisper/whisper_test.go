package whisper

import (
	"context"
	"sync"
	"testing"
	"time"

	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

func TestPCMFloat32Scaling(t *testing.T) {
	tests := []struct {
		in   int16
		want float32
	}{
		{0, 0},
		{32767, 32767.0 / 32768.0},
		{-32768, -1},
		{16384, 0.5},
	}
	for _, tt := range tests {
		got := pcmFloat32([]int16{tt.in})[0]
		if got != tt.want {
			t.Errorf("pcmFloat32(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAwaitRunDeliversResult(t *testing.T) {
	var wg sync.WaitGroup
	text, err := awaitRun(context.Background(), &wg, func() (string, error) {
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("awaitRun() error = %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want %q", text, "hello")
	}
	wg.Wait() // must not hang after a delivered result
}

func TestAwaitRunTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	release := make(chan struct{})
	_, err := awaitRun(ctx, &wg, func() (string, error) {
		<-release
		return "late", nil
	})
	if !apperr.IsCode(err, apperr.CodeTimeout) {
		t.Fatalf("error = %v, want TIMEOUT", err)
	}
	close(release)
	wg.Wait()
}

// A run that outlives its deadline still holds the model; whatever frees it
// must block on the waitgroup until the run drains.
func TestTimedOutRunBlocksModelRelease(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	release := make(chan struct{})
	_, err := awaitRun(ctx, &wg, func() (string, error) {
		<-release
		return "", nil
	})
	if !apperr.IsCode(err, apperr.CodeTimeout) {
		t.Fatalf("error = %v, want TIMEOUT", err)
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while the run was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the run finished")
	}
}
