package s3

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/schererja/boardforge/internal/config"
)

func TestIsPermanentStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusForbidden, true},
		{http.StatusNotFound, true},
		{http.StatusBadRequest, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
		{0, false},
	}
	for _, tt := range tests {
		if got := isPermanentStatus(tt.code); got != tt.want {
			t.Errorf("isPermanentStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestProgressReader(t *testing.T) {
	var seen []int64
	p := &progressReader{fn: func(n int64) { seen = append(seen, n) }}
	p.Read(make([]byte, 10))
	p.Read(make([]byte, 5))
	if len(seen) != 2 || seen[1] != 15 {
		t.Errorf("progress = %v, want cumulative [10 15]", seen)
	}
}

func TestProgressReader_ConcurrentParts(t *testing.T) {
	const (
		workers = 8
		reads   = 2000
		chunk   = 16
	)
	var calls, maxSeen atomic.Int64
	p := &progressReader{fn: func(n int64) {
		calls.Add(1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				return
			}
		}
	}}

	var wg sync.WaitGroup
	buf := make([]byte, chunk)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range reads {
				p.Read(buf)
			}
		}()
	}
	wg.Wait()

	want := int64(workers * reads * chunk)
	if got := p.sent.Load(); got != want {
		t.Errorf("sent = %d, want %d", got, want)
	}
	if maxSeen.Load() != want || calls.Load() != workers*reads {
		t.Errorf("callback saw max %d over %d calls, want %d over %d", maxSeen.Load(), calls.Load(), want, workers*reads)
	}
}

func TestNew(t *testing.T) {
	u, err := New(config.S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Insecure: true}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := u.URL("images", "rk3588/x.img.gz"); got != "s3://images/rk3588/x.img.gz" {
		t.Errorf("URL = %s", got)
	}
}
