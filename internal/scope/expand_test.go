package scope_test

import (
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/scope"
)

func hints() scope.Hints {
	return scope.Hints{
		RFPParticipants: map[string][]string{"r1": {"u1", "u2"}},
		RFPChannels:     map[string][]string{"r1": {"C1"}},
		RFPTenant:       map[string]string{"r1": "acme"},
		UserTenant:      map[string]string{"u1": "acme"},
		UserRFPs:        map[string][]string{"u1": {"r1", "r2"}},
		UserChannels:    map[string][]string{"u1": {"C1"}},
		ChannelMembers:  map[string][]string{"C1": {"u1", "u3"}},
		ChannelRFPs:     map[string][]string{"C1": {"r1"}},
	}
}

func assertWellFormed(t *testing.T, got []string) {
	t.Helper()
	gt.Array(t, got).Longer(0).Required()
	gt.Value(t, got[len(got)-1]).Equal("GLOBAL")
	seen := map[string]bool{}
	for _, s := range got {
		gt.Bool(t, seen[s]).False()
		seen[s] = true
	}
}

func TestExpandRFP(t *testing.T) {
	got, err := scope.Expand(scope.Input{Primary: "RFP#r1", Hints: hints()})
	gt.NoError(t, err).Required()
	assertWellFormed(t, got)
	gt.Value(t, got).Equal([]string{"RFP#r1", "USER#u1", "USER#u2", "CHANNEL#C1", "TENANT#acme", "GLOBAL"})
}

func TestExpandUser(t *testing.T) {
	got, err := scope.Expand(scope.Input{Primary: "USER#u1", Hints: hints()})
	gt.NoError(t, err).Required()
	assertWellFormed(t, got)
	gt.Value(t, got).Equal([]string{"USER#u1", "TENANT#acme", "RFP#r1", "RFP#r2", "CHANNEL#C1", "GLOBAL"})
}

func TestExpandThreadIncludesParentChannel(t *testing.T) {
	got, err := scope.Expand(scope.Input{Primary: "THREAD#C1#1700000000.000100", Hints: hints()})
	gt.NoError(t, err).Required()
	assertWellFormed(t, got)
	gt.Value(t, got).Equal([]string{
		"THREAD#C1#1700000000.000100", "CHANNEL#C1", "USER#u1", "USER#u3", "RFP#r1", "GLOBAL",
	})
}

func TestExpandChannelWithThread(t *testing.T) {
	got, err := scope.Expand(scope.Input{Primary: "CHANNEL#C1", ThreadTS: "17.5"})
	gt.NoError(t, err).Required()
	gt.Value(t, got).Equal([]string{"CHANNEL#C1", "THREAD#C1#17.5", "GLOBAL"})
}

func TestExpandWithoutPrimary(t *testing.T) {
	in := scope.Input{RFPID: "r1", UserSub: "u1", TenantID: "acme", Hints: hints()}
	got, err := scope.Expand(in)
	gt.NoError(t, err).Required()
	assertWellFormed(t, got)
	gt.Value(t, got[0]).Equal("RFP#r1")
	gt.Array(t, got).Has("RFP#r2")

	again, err := scope.Expand(in)
	gt.NoError(t, err).Required()
	gt.Value(t, again).Equal(got)

	empty, err := scope.Expand(scope.Input{})
	gt.NoError(t, err).Required()
	gt.Value(t, empty).Equal([]string{"GLOBAL"})
}

func TestExpandGlobalAndInvalid(t *testing.T) {
	got, err := scope.Expand(scope.Input{Primary: "GLOBAL", RFPID: "r1"})
	gt.NoError(t, err).Required()
	gt.Value(t, got).Equal([]string{"GLOBAL"})

	_, err = scope.Expand(scope.Input{Primary: "PLANET#mars"})
	gt.Error(t, err).Is(model.ErrValidation)
}

func TestExpandCapsMembers(t *testing.T) {
	members := make([]string, 50)
	for i := range members {
		members[i] = fmt.Sprintf("u%d", i)
	}
	got, err := scope.Expand(scope.Input{
		Primary: "CHANNEL#C9",
		Hints:   scope.Hints{ChannelMembers: map[string][]string{"C9": members}},
	})
	gt.NoError(t, err).Required()
	gt.Array(t, got).Length(1 + scope.MaxChannelMembers + 1)
}
