package layers

import (
	"testing"
	"time"
)

func TestBucketGrantsUpToCapacity(t *testing.T) {
	b := NewTokenBucket(10, time.Minute, 10)
	for i := 0; i < 10; i++ {
		if ok, _ := b.Allow(1); !ok {
			t.Fatalf("send %d denied, want granted", i+1)
		}
	}
	ok, wait := b.Allow(1)
	if ok {
		t.Fatal("send 11 granted, want denied")
	}
	if wait <= 5*time.Second || wait > 6*time.Second {
		t.Fatalf("wait = %v, want about 6s for one token at 10/min", wait)
	}
}

func TestBucketRefills(t *testing.T) {
	b := NewTokenBucket(1000, time.Second, 2)
	if ok, _ := b.Allow(2); !ok {
		t.Fatal("initial burst denied")
	}
	if ok, _ := b.Allow(1); ok {
		t.Fatal("empty bucket granted")
	}
	time.Sleep(20 * time.Millisecond)
	if ok, _ := b.Allow(2); !ok {
		t.Fatal("bucket did not refill")
	}
}

func TestBucketCapacityDefaultsToRate(t *testing.T) {
	b := NewTokenBucket(3, time.Minute, 0)
	for i := 0; i < 3; i++ {
		if ok, _ := b.Allow(1); !ok {
			t.Fatalf("send %d denied within default capacity", i+1)
		}
	}
	if ok, _ := b.Allow(1); ok {
		t.Fatal("send beyond default capacity granted")
	}
}
