package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMailboxRunsJobsInOrder(t *testing.T) {
	m := newMailbox()
	go m.run()
	defer m.close()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		last := i == 4
		m.submit(func() {
			order = append(order, i)
			if last {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("jobs never finished")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestMailboxCallBlocksUntilDone(t *testing.T) {
	m := newMailbox()
	go m.run()
	defer m.close()

	var ran bool
	m.call(func(done func()) {
		ran = true
		done()
	})
	assert.True(t, ran)
}

func TestMailboxSubmitAfterCloseDoesNotBlock(t *testing.T) {
	m := newMailbox()
	go m.run()
	m.close()

	done := make(chan struct{})
	go func() {
		m.submit(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submit after close should return, not block")
	}
}
