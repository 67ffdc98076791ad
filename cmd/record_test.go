package cmd

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchEnter_ClosesOnLine(t *testing.T) {
	enter := watchEnter(strings.NewReader("\n"))

	select {
	case <-enter:
	case <-time.After(time.Second):
		t.Fatal("enter was not signalled after a line")
	}
}

func TestWatchEnter_IgnoresClosedStdin(t *testing.T) {
	for name, r := range map[string]io.Reader{
		"empty":        strings.NewReader(""),
		"partial line": strings.NewReader("no newline"),
	} {
		t.Run(name, func(t *testing.T) {
			enter := watchEnter(r)

			select {
			case <-enter:
				t.Fatal("EOF on stdin stopped the recording")
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestWatchEnter_WaitsForInput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	enter := watchEnter(pr)

	select {
	case <-enter:
		t.Fatal("enter signalled before any input")
	case <-time.After(20 * time.Millisecond):
	}

	go pw.Write([]byte("\n"))
	assert.Eventually(t, func() bool {
		select {
		case <-enter:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
