package browser

import (
	"context"
	"testing"
	"time"
)

type deadlineRecorder struct {
	Surface
	deadlines []time.Time
}

func (d *deadlineRecorder) record(ctx context.Context) {
	dl, _ := ctx.Deadline()
	d.deadlines = append(d.deadlines, dl)
}

func (d *deadlineRecorder) Navigate(ctx context.Context, _ string) error {
	d.record(ctx)
	return nil
}

func (d *deadlineRecorder) ExtractTexts(ctx context.Context, _ string) ([]string, error) {
	d.record(ctx)
	return nil, nil
}

func TestWithTimeoutBoundsEachCall(t *testing.T) {
	rec := &deadlineRecorder{}
	s := WithTimeout(rec, time.Minute)

	before := time.Now()
	if err := s.Navigate(context.Background(), "https://example.test"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ExtractTexts(context.Background(), ".card"); err != nil {
		t.Fatal(err)
	}

	if len(rec.deadlines) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(rec.deadlines))
	}
	for i, dl := range rec.deadlines {
		if dl.IsZero() || dl.Before(before) || dl.After(before.Add(time.Minute+time.Second)) {
			t.Errorf("call %d deadline = %v", i, dl)
		}
	}
}

func TestWithTimeoutKeepsEarlierDeadline(t *testing.T) {
	rec := &deadlineRecorder{}
	s := WithTimeout(rec, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	want, _ := ctx.Deadline()
	_ = s.Navigate(ctx, "https://example.test")

	if got := rec.deadlines[0]; !got.Equal(want) {
		t.Errorf("deadline = %v, want %v", got, want)
	}
}

func TestWithTimeoutDisabled(t *testing.T) {
	rec := &deadlineRecorder{}
	if s := WithTimeout(rec, 0); s != Surface(rec) {
		t.Error("WithTimeout(0) wrapped the surface")
	}
}

func TestStateExpiry(t *testing.T) {
	state := []byte(`{"cookies":[
		{"name":"sid","value":"a","session":true},
		{"name":"remember","value":"b","expires":1767225600},
		{"name":"pref","value":"c","expires":1700000000}
	]}`)
	got := StateExpiry(state)
	if got == nil || got.Unix() != 1767225600 {
		t.Fatalf("StateExpiry = %v", got)
	}
	if StateExpiry([]byte(`{"cookies":[{"name":"sid","session":true}]}`)) != nil {
		t.Error("session-only cookies should have no expiry")
	}
	if StateExpiry([]byte("not json")) != nil {
		t.Error("garbage should have no expiry")
	}
}
