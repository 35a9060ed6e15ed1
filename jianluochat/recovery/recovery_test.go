package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jianluochat/jianluochat-sdk-go/jianluochat/session"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func findingKinds(findings []Finding) []string {
	kinds := make([]string, len(findings))
	for i, f := range findings {
		kinds[i] = f.Kind
	}
	return kinds
}

func TestDetectConflictSignatures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ConflictType
	}{
		{"nil", nil, ConflictNone},
		{"unrelated", errors.New("connection refused"), ConflictNone},
		{"key exists", errors.New("One time key signed_curve25519:AAAAHg already exists"), ConflictKeyExists},
		{"key exists partial", errors.New("One time key mismatch"), ConflictNone},
		{"device deleted", errors.New("unknown token: device might have been deleted"), ConflictDeviceDeleted},
		{"wasm crash", errors.New("RuntimeError: null pointer passed to rust"), ConflictMultipleInstances},
		{"wasm panic", errors.New("wasm memory access out of bounds"), ConflictMultipleInstances},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := DetectConflict(tc.err)
			assert.Equal(t, tc.want, info.Type)
			assert.Equal(t, tc.want != ConflictNone, info.HasConflict())
			if info.HasConflict() {
				assert.NotEmpty(t, info.Recommendations)
			}
		})
	}
}

func TestInspectStateExpiredToken(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	state := map[string]string{
		session.KeyToken: signedToken(t, now.Add(-time.Hour)),
	}

	findings := InspectState(state, now)
	require.Len(t, findings, 1)
	assert.Equal(t, FindingTokenExpired, findings[0].Kind)
	assert.Equal(t, []string{session.KeyToken}, findings[0].Keys)
}

func TestInspectStateValidTokenIsClean(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	state := map[string]string{
		session.KeyToken: signedToken(t, now.Add(time.Hour)),
	}
	assert.Empty(t, InspectState(state, now))
}

func TestInspectStateOpaqueTokenIsClean(t *testing.T) {
	// not a JWT at all; expiry cannot be judged, so no finding
	state := map[string]string{session.KeyToken: "syt_opaque_access_token"}
	assert.Empty(t, InspectState(state, time.Now()))
}

func TestInspectStateDeviceMismatch(t *testing.T) {
	now := time.Now()
	state := map[string]string{
		session.KeyToken:     signedToken(t, now.Add(time.Hour)),
		session.KeyLoginInfo: `{"userId":"@alice:hs","deviceId":"DEVA","accessToken":"x"}`,
		session.KeyDeviceID:  "DEVB",
	}

	findings := InspectState(state, now)
	require.Len(t, findings, 1)
	assert.Equal(t, FindingDeviceMismatch, findings[0].Kind)
	assert.ElementsMatch(t, []string{session.KeyDeviceID, session.KeyLoginInfo}, findings[0].Keys)
}

func TestInspectStateStaleGenerations(t *testing.T) {
	now := time.Now()
	state := map[string]string{
		session.KeyToken:           signedToken(t, now.Add(time.Hour)),
		session.KeyLoginInfo:       `{"userId":"@alice:hs","deviceId":"DEVA"}`,
		session.KeyV39LoginInfo:    `{"userId":"@alice:hs","deviceId":"OLD1"}`,
		session.KeyLegacyLoginInfo: `{"userId":"@alice:hs","deviceId":"OLD2"}`,
	}

	findings := InspectState(state, now)
	require.Len(t, findings, 2)
	for _, f := range findings {
		assert.Equal(t, FindingStaleGeneration, f.Kind)
	}
	plan := BuildPlan(findings)
	assert.ElementsMatch(t,
		[]string{session.KeyV39LoginInfo, session.KeyLegacyLoginInfo},
		plan.Remove)
}

func TestInspectStateOrphanedSession(t *testing.T) {
	state := map[string]string{
		session.KeyAccessToken: "mat_abc",
		session.KeyLoginInfo:   `{"userId":"@alice:hs","deviceId":"DEVA"}`,
	}

	findings := InspectState(state, time.Now())
	require.Len(t, findings, 1)
	assert.Equal(t, FindingOrphanedSession, findings[0].Kind)
	assert.ElementsMatch(t,
		[]string{session.KeyAccessToken, session.KeyLoginInfo},
		findings[0].Keys)
}

func TestInspectStateCorruptEntry(t *testing.T) {
	now := time.Now()
	state := map[string]string{
		session.KeyToken:        signedToken(t, now.Add(time.Hour)),
		session.KeyLoginInfo:    `{"userId": truncated`,
		session.KeyV39LoginInfo: `{"userId":"@alice:hs","deviceId":"DEVA"}`,
	}

	findings := InspectState(state, now)
	kinds := findingKinds(findings)
	assert.Contains(t, kinds, FindingCorruptEntry)
	// the v39 copy becomes the live generation once the primary is corrupt,
	// so no stale-generation finding points at it
	assert.NotContains(t, kinds, FindingStaleGeneration)
}

func TestBuildPlanDeduplicates(t *testing.T) {
	plan := BuildPlan([]Finding{
		{Kind: "a", Keys: []string{"k1", "k2"}, Reason: "first"},
		{Kind: "b", Keys: []string{"k2", "k3"}, Reason: "second"},
	})

	assert.Equal(t, []string{"k1", "k2", "k3"}, plan.Remove)
	assert.Equal(t, "first", plan.Reasons["k2"], "first finding wins the reason")
	assert.False(t, plan.Empty())
	assert.True(t, BuildPlan(nil).Empty())
}

func TestPlanForConflict(t *testing.T) {
	plan := PlanForConflict(ConflictInfo{Type: ConflictKeyExists})
	assert.ElementsMatch(t, []string{
		session.KeyDeviceID,
		session.KeyLoginInfo,
		session.KeyLegacyLoginInfo,
		session.KeyV39LoginInfo,
	}, plan.Remove)

	plan = PlanForConflict(ConflictInfo{Type: ConflictMultipleInstances})
	assert.Equal(t, []string{session.KeyQuickAuth}, plan.Remove)

	assert.True(t, PlanForConflict(ConflictInfo{Type: ConflictNone}).Empty())
}

type fakeDeleter struct {
	deleted []string
	failOn  string
}

func (f *fakeDeleter) Delete(key string) error {
	if key == f.failOn {
		return errors.New("locked: " + key)
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func TestApplyDeletesAllAndJoinsErrors(t *testing.T) {
	plan := BuildPlan([]Finding{{Kind: "x", Keys: []string{"k1", "k2", "k3"}, Reason: "r"}})

	d := &fakeDeleter{failOn: "k2"}
	err := Apply(plan, d)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked: k2")
	assert.Equal(t, []string{"k1", "k3"}, d.deleted, "a failed delete does not stop the rest")

	d = &fakeDeleter{}
	require.NoError(t, Apply(plan, d))
	assert.Equal(t, []string{"k1", "k2", "k3"}, d.deleted)
}
