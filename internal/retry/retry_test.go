package retry

import (
	"errors"
	"testing"
	"time"
)

func newTestPolicy(config *Config) (*Policy, *[]time.Duration) {
	p := New(config, nil)
	slept := &[]time.Duration{}
	p.sleep = func(d time.Duration) {
		*slept = append(*slept, d)
	}
	return p, slept
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	p, slept := newTestPolicy(&Config{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0})

	calls := 0
	err := p.Execute(func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 attempt, got %d", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("Expected no sleeps, got %d", len(*slept))
	}
}

func TestExecuteAttemptCount(t *testing.T) {
	tests := []struct {
		maxRetries   int
		wantAttempts int
	}{
		{0, 1},
		{1, 2},
		{3, 4},
		{-5, 1}, // negative clamps to 0
	}

	for _, tt := range tests {
		p, _ := newTestPolicy(&Config{MaxRetries: tt.maxRetries, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0})

		calls := 0
		failure := errors.New("permanent failure")
		err := p.Execute(func() error {
			calls++
			return failure
		})

		if calls != tt.wantAttempts {
			t.Errorf("MaxRetries=%d: expected %d attempts, got %d", tt.maxRetries, tt.wantAttempts, calls)
		}
		if !errors.Is(err, failure) {
			t.Errorf("MaxRetries=%d: expected last error to be returned, got %v", tt.maxRetries, err)
		}
	}
}

func TestExecuteReturnsLastError(t *testing.T) {
	p, _ := newTestPolicy(&Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0})

	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}
	calls := 0
	err := p.Execute(func() error {
		e := errs[calls]
		calls++
		return e
	})

	if err != errs[2] {
		t.Errorf("Expected error from last attempt, got %v", err)
	}
}

func TestBackoffSequence(t *testing.T) {
	p, slept := newTestPolicy(&Config{
		MaxRetries:   4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	})

	_ = p.Execute(func() error { return errors.New("fail") })

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("Expected %d sleeps, got %d", len(want), len(*slept))
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("Sleep %d: expected %v, got %v", i, d, (*slept)[i])
		}
	}
}

func TestShouldRetryFalseHaltsImmediately(t *testing.T) {
	p, slept := newTestPolicy(&Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0})

	calls := 0
	failure := errors.New("do not retry")
	err := p.ExecuteIf(func() error {
		calls++
		return failure
	}, func(error) bool { return false })

	if calls != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("Expected no sleep before re-raising, got %d sleeps", len(*slept))
	}
	if !errors.Is(err, failure) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestShouldRetrySelective(t *testing.T) {
	p, _ := newTestPolicy(&Config{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0})

	transient := errors.New("transient")
	fatal := errors.New("fatal")

	calls := 0
	err := p.ExecuteIf(func() error {
		calls++
		if calls < 3 {
			return transient
		}
		return fatal
	}, func(err error) bool { return errors.Is(err, transient) })

	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, fatal) {
		t.Errorf("Expected fatal error, got %v", err)
	}
}

func TestConfigClamping(t *testing.T) {
	p := New(&Config{
		MaxRetries:   -1,
		InitialDelay: -time.Second,
		MaxDelay:     -time.Minute,
		Multiplier:   0.5,
	}, nil)

	if p.maxRetries != 0 {
		t.Errorf("Expected maxRetries clamped to 0, got %d", p.maxRetries)
	}
	if p.initialDelay != 0 {
		t.Errorf("Expected initialDelay clamped to 0, got %v", p.initialDelay)
	}
	if p.maxDelay != 0 {
		t.Errorf("Expected maxDelay clamped to initialDelay, got %v", p.maxDelay)
	}
	if p.multiplier != 1.0 {
		t.Errorf("Expected multiplier clamped to 1.0, got %f", p.multiplier)
	}
}

func TestNilConfigUsesDefaults(t *testing.T) {
	p := New(nil, nil)
	if p.maxRetries != 3 {
		t.Errorf("Expected default maxRetries 3, got %d", p.maxRetries)
	}
	if p.initialDelay != time.Second {
		t.Errorf("Expected default initialDelay 1s, got %v", p.initialDelay)
	}
}
