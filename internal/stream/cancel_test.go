package stream

import (
	"sync"
	"testing"
)

func TestCancelFlag_ArmCancelCycle(t *testing.T) {
	var f CancelFlag
	if f.Cancelled() {
		t.Error("zero-value flag reports cancelled")
	}
	f.Cancel()
	if !f.Cancelled() {
		t.Error("flag not cancelled after Cancel")
	}
	f.Arm()
	if f.Cancelled() {
		t.Error("flag still cancelled after Arm")
	}
}

func TestCancelFlag_CrossGoroutine(t *testing.T) {
	var f CancelFlag
	f.Arm()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.Cancel()
	}()
	wg.Wait()

	if !f.Cancelled() {
		t.Error("cancel from another goroutine not observed")
	}
}
