package logship

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResourceGate_OK(t *testing.T) {
	tests := []struct {
		name       string
		goroutines int
		cpus       int
		threshold  float64
		want       bool
	}{
		{"idle", 4, 4, 0.85, true},
		{"at threshold", 24, 2, 1.0, true},
		{"busy", 120, 4, 0.85, false},
		{"zero cpus treated as one", 11, 0, 0.95, true},
		{"saturated", 1000, 1, 0.99, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newResourceGate(ResourceGatingConfig{Enabled: true, CPUThreshold: tt.threshold}, nil)
			g.goroutines = func() int { return tt.goroutines }
			g.cpus = func() int { return tt.cpus }
			require.Equal(t, tt.want, g.OK())
		})
	}
}

func TestWithResourceGatingConfig(t *testing.T) {
	var o options
	WithResourceGatingConfig(ResourceGatingConfig{Enabled: false})(&o)
	require.Nil(t, o.resourceGatingConfig)

	WithResourceGatingConfig(ResourceGatingConfig{Enabled: true})(&o)
	require.NotNil(t, o.resourceGatingConfig)
	require.Equal(t, 0.85, o.resourceGatingConfig.CPUThreshold)
}
