package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryDelayFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"nil", nil, 0},
		{"429 with hint", errors.New("Too Many Requests: retry after 7"), 7 * time.Second},
		{"429 without hint", errors.New("Too Many Requests"), 3 * time.Second},
		{"net timeout", timeoutErr{}, 2 * time.Second},
		{"other", errors.New("bad gateway"), time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryDelayFromError(tt.err); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeUpdater struct {
	calls   int
	offsets []int
	cancel  context.CancelFunc
}

func (f *fakeUpdater) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.calls++
	f.offsets = append(f.offsets, cfg.Offset)
	switch f.calls {
	case 1:
		return []tgbotapi.Update{{UpdateID: 10}, {UpdateID: 11}}, nil
	case 2:
		return []tgbotapi.Update{{UpdateID: 12}}, nil
	default:
		f.cancel()
		return nil, nil
	}
}

func TestRunPollingAdvancesOffset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	up := &fakeUpdater{cancel: cancel}
	log := logrus.New()
	log.SetOutput(io.Discard)

	var got []int
	runPolling(ctx, up, func(u tgbotapi.Update) { got = append(got, u.UpdateID) }, log)

	if len(got) != 3 || got[2] != 12 {
		t.Fatalf("handled = %v", got)
	}
	if up.offsets[0] != 0 || up.offsets[1] != 12 || up.offsets[2] != 13 {
		t.Fatalf("offsets = %v", up.offsets)
	}
}

func TestShortHashStable(t *testing.T) {
	a, b := shortHash("123:abc"), shortHash("123:abc")
	if a != b || len(a) != 16 {
		t.Fatalf("hash = %q %q", a, b)
	}
	if shortHash("123:abd") == a {
		t.Fatalf("different tokens must give different paths")
	}
}
