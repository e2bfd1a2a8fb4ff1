package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func backends() []Backend {
	return []Backend{
		{Name: "A", Trusted: true, Weight: 1},
		{Name: "B", Trusted: false, Weight: 1},
		{Name: "C", Trusted: false, Weight: 2},
	}
}

func TestHappyPathTrustedShortcut(t *testing.T) {
	voters := map[string]*int{"A": intp(100), "B": intp(0), "C": intp(100)}
	assert.Equal(t, Malicious, Vote(backends(), voters))
}

func TestAllAbstainIsDontKnow(t *testing.T) {
	voters := map[string]*int{"A": nil, "B": nil, "C": nil}
	assert.Equal(t, DontKnow, Vote(backends(), voters))
}

func TestNearTieIsDontKnow(t *testing.T) {
	bs := []Backend{
		{Name: "A", Trusted: true, Weight: 1},
		{Name: "B", Trusted: false, Weight: 1},
		{Name: "C", Trusted: false, Weight: 1},
	}
	voters := map[string]*int{"B": intp(100), "C": intp(0)}
	assert.Equal(t, DontKnow, Vote(bs, voters))
}

func TestZeroBackendsIsDontKnow(t *testing.T) {
	assert.Equal(t, DontKnow, Vote(nil, nil))
}

func TestMajorityUntrustedMalicious(t *testing.T) {
	bs := []Backend{
		{Name: "B", Trusted: false, Weight: 1},
		{Name: "C", Trusted: false, Weight: 2},
	}
	voters := map[string]*int{"B": intp(100), "C": intp(100)}
	assert.Equal(t, Malicious, Vote(bs, voters))
}

func TestMajoritySafe(t *testing.T) {
	bs := []Backend{
		{Name: "B", Trusted: false, Weight: 1},
		{Name: "C", Trusted: false, Weight: 2},
	}
	voters := map[string]*int{"B": intp(0), "C": intp(0)}
	assert.Equal(t, Safe, Vote(bs, voters))
}

func TestAbstentionMajorityBlocksDecision(t *testing.T) {
	bs := []Backend{
		{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"},
	}
	voters := map[string]*int{"A": intp(100)}
	assert.Equal(t, DontKnow, Vote(bs, voters))
}
