package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewBackOff(t *testing.T) {
	tests := []struct {
		name string
		cfg  RetryConfig
		want []time.Duration
	}{
		{
			name: "given fixed strategy, then every delay equals Delay",
			cfg:  RetryConfig{Delay: 100 * time.Millisecond, Strategy: StrategyFixed},
			want: []time.Duration{
				100 * time.Millisecond,
				100 * time.Millisecond,
				100 * time.Millisecond,
			},
		},
		{
			name: "given fixed strategy above max delay, then caps the delay",
			cfg:  RetryConfig{Delay: 5 * time.Second, Strategy: StrategyFixed, MaxDelay: time.Second},
			want: []time.Duration{time.Second, time.Second},
		},
		{
			name: "given linear strategy, then grows by Delay per attempt",
			cfg:  RetryConfig{Delay: 100 * time.Millisecond, Strategy: StrategyLinear},
			want: []time.Duration{
				100 * time.Millisecond,
				200 * time.Millisecond,
				300 * time.Millisecond,
				400 * time.Millisecond,
			},
		},
		{
			name: "given linear strategy with max delay, then caps at max",
			cfg:  RetryConfig{Delay: time.Second, Strategy: StrategyLinear, MaxDelay: 2500 * time.Millisecond},
			want: []time.Duration{
				1 * time.Second,
				2 * time.Second,
				2500 * time.Millisecond,
				2500 * time.Millisecond,
			},
		},
		{
			name: "given exponential strategy, then doubles each attempt",
			cfg:  RetryConfig{Delay: 100 * time.Millisecond, Strategy: StrategyExponential},
			want: []time.Duration{
				100 * time.Millisecond,
				200 * time.Millisecond,
				400 * time.Millisecond,
				800 * time.Millisecond,
			},
		},
		{
			name: "given exponential strategy with max delay, then caps at max",
			cfg:  RetryConfig{Delay: time.Second, Strategy: StrategyExponential, MaxDelay: 3 * time.Second},
			want: []time.Duration{
				1 * time.Second,
				2 * time.Second,
				3 * time.Second,
				3 * time.Second,
			},
		},
		{
			name: "given empty strategy, then defaults to exponential",
			cfg:  RetryConfig{Delay: 10 * time.Millisecond}.withDefaults(),
			want: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackOff(tt.cfg)

			for i, want := range tt.want {
				assert.Equal(t, want, b.NextBackOff(), "retry %d", i+1)
			}
		})
	}
}

func TestNewBackOff_Jitter(t *testing.T) {
	strategies := []Strategy{StrategyFixed, StrategyLinear, StrategyExponential}

	for _, s := range strategies {
		t.Run(string(s), func(t *testing.T) {
			b := newBackOff(RetryConfig{Delay: time.Second, Strategy: s, JitterFactor: 0.2})

			for range 20 {
				b.Reset()
				got := b.NextBackOff()
				assert.GreaterOrEqual(t, got, 800*time.Millisecond)
				assert.LessOrEqual(t, got, 1200*time.Millisecond)
			}
		})
	}
}

func TestLinearBackOff_Reset(t *testing.T) {
	b := &LinearBackOff{Delay: 50 * time.Millisecond}

	_ = b.NextBackOff()
	_ = b.NextBackOff()
	_ = b.NextBackOff()

	b.Reset()

	assert.Equal(t, 50*time.Millisecond, b.NextBackOff())
}

func TestLinearBackOff_Overflow(t *testing.T) {
	b := &LinearBackOff{Delay: time.Duration(1) << 62, MaxDelay: time.Hour}

	assert.Equal(t, time.Hour, b.NextBackOff())
	assert.Equal(t, time.Hour, b.NextBackOff(), "overflowed product is capped")
}

func TestApplyJitter(t *testing.T) {
	tests := []struct {
		name         string
		interval     time.Duration
		jitterFactor float64
		wantMin      time.Duration
		wantMax      time.Duration
	}{
		{
			name:         "given zero jitter, then returns exact interval",
			interval:     time.Second,
			jitterFactor: 0,
			wantMin:      time.Second,
			wantMax:      time.Second,
		},
		{
			name:         "given negative jitter, then returns exact interval",
			interval:     time.Second,
			jitterFactor: -0.5,
			wantMin:      time.Second,
			wantMax:      time.Second,
		},
		{
			name:         "given 10% jitter, then stays within ±10%",
			interval:     time.Second,
			jitterFactor: 0.1,
			wantMin:      900 * time.Millisecond,
			wantMax:      1100 * time.Millisecond,
		},
		{
			name:         "given jitter above 1, then clamps to 100%",
			interval:     time.Second,
			jitterFactor: 5,
			wantMin:      0,
			wantMax:      2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 50 {
				got := applyJitter(tt.interval, tt.jitterFactor)
				assert.GreaterOrEqual(t, got, tt.wantMin)
				assert.LessOrEqual(t, got, tt.wantMax)
			}
		})
	}
}
