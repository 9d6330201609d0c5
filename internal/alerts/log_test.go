package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestMostRecentFirst(t *testing.T) {
	l := NewLog(0)
	l.Add(epoch, "first")
	l.Add(epoch.Add(time.Second), "second")
	l.Add(epoch.Add(2*time.Second), "third")

	got := l.Entries()
	assert.Equal(t, []Entry{
		{ReceivedAt: epoch.Add(2 * time.Second), Message: "third"},
		{ReceivedAt: epoch.Add(time.Second), Message: "second"},
		{ReceivedAt: epoch, Message: "first"},
	}, got)
}

func TestUnboundedByDefault(t *testing.T) {
	l := NewLog(0)
	for range 10_000 {
		l.Add(epoch, "x")
	}
	assert.Equal(t, 10_000, l.Len())
}

func TestCapKeepsNewest(t *testing.T) {
	l := NewLog(2)
	l.Add(epoch, "a")
	l.Add(epoch, "b")
	l.Add(epoch, "c")

	got := l.Entries()
	assert.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Message)
	assert.Equal(t, "b", got[1].Message)
}

func TestEntriesIsACopy(t *testing.T) {
	l := NewLog(0)
	l.Add(epoch, "a")
	got := l.Entries()
	got[0].Message = "changed"
	assert.Equal(t, "a", l.Entries()[0].Message)
}
