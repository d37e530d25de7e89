package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/logship/internal/domain"
)

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, JSONPolicy().Validate())
	require.NoError(t, LinePolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero message size", func(p *Policy) { p.MaxMessageSize = 0 }},
		{"zero batch bytes", func(p *Policy) { p.MaxBatchBytes = 0 }},
		{"zero max messages", func(p *Policy) { p.MaxMessages = 0 }},
		{"negative interval", func(p *Policy) { p.MinInterval = -time.Second }},
		{"negative age", func(p *Policy) { p.MaxBatchAge = -time.Second }},
		{"framing fills batch", func(p *Policy) { p.MaxBatchBytes = 18 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := JSONPolicy()
			tt.mutate(&p)
			require.ErrorIs(t, p.Validate(), domain.ErrInvalidConfig)
		})
	}
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("json")
	require.NoError(t, err)
	require.Equal(t, "json", p.Name)

	p, err = PolicyByName("lines")
	require.NoError(t, err)
	require.Empty(t, p.Header)

	_, err = PolicyByName("xml")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestPolicy_PoliciesAreIndependent(t *testing.T) {
	a := JSONPolicy()
	a.Header[0] = '['
	require.Equal(t, byte('{'), JSONPolicy().Header[0])
}

func TestPolicy_Overhead(t *testing.T) {
	p := JSONPolicy()
	require.Equal(t, 0, p.Overhead(0))
	require.Equal(t, 14+4, p.Overhead(1))
	require.Equal(t, 14+2*2+4, p.Overhead(3))
}
