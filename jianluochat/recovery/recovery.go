// Package recovery inspects persisted session state for the known
// device-identity and encryption-storage inconsistencies that strand a client
// in an unusable login, and produces a cleanup plan. Inspection is pure;
// only Apply mutates anything.
package recovery

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jianluochat/jianluochat-sdk-go/jianluochat/session"
)

// ConflictType classifies a known device/encryption failure signature.
type ConflictType string

const (
	ConflictNone              ConflictType = "none"
	ConflictKeyExists         ConflictType = "key_exists"
	ConflictDeviceDeleted     ConflictType = "device_deleted"
	ConflictMultipleInstances ConflictType = "multiple_instances"
)

// ConflictInfo describes a detected conflict and how to get out of it.
type ConflictInfo struct {
	Type            ConflictType
	ErrorMessage    string
	Recommendations []string
}

// HasConflict reports whether a known signature matched.
func (c ConflictInfo) HasConflict() bool { return c.Type != ConflictNone }

// DetectConflict classifies an error by the known failure signatures emitted
// by the encryption layer.
func DetectConflict(err error) ConflictInfo {
	if err == nil {
		return ConflictInfo{Type: ConflictNone}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "One time key") && strings.Contains(msg, "already exists"):
		return ConflictInfo{
			Type:         ConflictKeyExists,
			ErrorMessage: msg,
			Recommendations: []string{
				"clear the locally stored device id",
				"clear the stored login info so a new device id is generated",
				"log in again",
			},
		}
	case strings.Contains(msg, "device might have been deleted"):
		return ConflictInfo{
			Type:         ConflictDeviceDeleted,
			ErrorMessage: msg,
			Recommendations: []string{
				"the device was likely removed from another client",
				"clear the local device data",
				"log in again to register a new device",
			},
		}
	case strings.Contains(msg, "null pointer") || strings.Contains(msg, "wasm"):
		return ConflictInfo{
			Type:         ConflictMultipleInstances,
			ErrorMessage: msg,
			Recommendations: []string{
				"another client instance may be running against the same session",
				"close other instances, then clear the quick-auth cache",
			},
		}
	}
	return ConflictInfo{Type: ConflictNone}
}

// Finding is one inconsistency discovered in persisted state.
type Finding struct {
	Kind   string
	Keys   []string // keys whose removal resolves the finding
	Reason string
}

// Finding kinds reported by InspectState.
const (
	FindingTokenExpired    = "token_expired"
	FindingDeviceMismatch  = "device_mismatch"
	FindingStaleGeneration = "stale_login_generation"
	FindingOrphanedSession = "orphaned_session"
	FindingCorruptEntry    = "corrupt_entry"
)

// loginInfo is the subset of the persisted login material the checks read.
type loginInfo struct {
	UserID      string `json:"userId"`
	DeviceID    string `json:"deviceId"`
	AccessToken string `json:"accessToken"`
}

// loginInfoKeys in order of preference: the first present key is the live
// generation, the rest are stale copies from older client versions.
var loginInfoKeys = []string{
	session.KeyLoginInfo,
	session.KeyV39LoginInfo,
	session.KeyLegacyLoginInfo,
}

// InspectState scans a snapshot of persisted state for inconsistencies. It
// never mutates; feed its findings to BuildPlan.
func InspectState(state map[string]string, now time.Time) []Finding {
	var findings []Finding

	if tok, ok := state[session.KeyToken]; ok && tok != "" && tokenExpired(tok, now) {
		findings = append(findings, Finding{
			Kind:   FindingTokenExpired,
			Keys:   []string{session.KeyToken},
			Reason: "stored bearer token is past its expiry claim",
		})
	}

	live, liveKey, corrupt := liveLoginInfo(state)
	for _, key := range corrupt {
		findings = append(findings, Finding{
			Kind:   FindingCorruptEntry,
			Keys:   []string{key},
			Reason: "login info is not valid JSON",
		})
	}

	if liveKey != "" {
		for _, key := range loginInfoKeys {
			if key == liveKey {
				continue
			}
			if _, ok := state[key]; ok {
				findings = append(findings, Finding{
					Kind:   FindingStaleGeneration,
					Keys:   []string{key},
					Reason: "login info from an older client version shadows the live session",
				})
			}
		}
	}

	if deviceID, ok := state[session.KeyDeviceID]; ok && live != nil &&
		live.DeviceID != "" && deviceID != "" && live.DeviceID != deviceID {
		findings = append(findings, Finding{
			Kind:   FindingDeviceMismatch,
			Keys:   []string{session.KeyDeviceID, liveKey},
			Reason: "stored device id disagrees with the login info device id",
		})
	}

	if _, hasToken := state[session.KeyToken]; !hasToken {
		var orphaned []string
		if _, ok := state[session.KeyAccessToken]; ok {
			orphaned = append(orphaned, session.KeyAccessToken)
		}
		if liveKey != "" {
			orphaned = append(orphaned, liveKey)
		}
		if len(orphaned) > 0 {
			findings = append(findings, Finding{
				Kind:   FindingOrphanedSession,
				Keys:   orphaned,
				Reason: "session material present without an auth token",
			})
		}
	}

	return findings
}

func liveLoginInfo(state map[string]string) (info *loginInfo, key string, corrupt []string) {
	for _, k := range loginInfoKeys {
		raw, ok := state[k]
		if !ok {
			continue
		}
		var li loginInfo
		if err := json.Unmarshal([]byte(raw), &li); err != nil {
			corrupt = append(corrupt, k)
			continue
		}
		if info == nil {
			li := li
			info, key = &li, k
		}
	}
	return info, key, corrupt
}

func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.Before(now)
}

// CleanupPlan lists the keys to delete and why, in a stable order.
type CleanupPlan struct {
	Remove  []string
	Reasons map[string]string
}

// Empty reports whether the plan has nothing to do.
func (p CleanupPlan) Empty() bool { return len(p.Remove) == 0 }

// BuildPlan flattens findings into a cleanup plan, de-duplicating keys while
// preserving first-seen order.
func BuildPlan(findings []Finding) CleanupPlan {
	plan := CleanupPlan{Reasons: make(map[string]string)}
	for _, f := range findings {
		for _, key := range f.Keys {
			if _, seen := plan.Reasons[key]; seen {
				continue
			}
			plan.Remove = append(plan.Remove, key)
			plan.Reasons[key] = f.Reason
		}
	}
	return plan
}

// PlanForConflict maps a detected runtime conflict to the persisted keys
// whose removal resolves it.
func PlanForConflict(info ConflictInfo) CleanupPlan {
	switch info.Type {
	case ConflictKeyExists, ConflictDeviceDeleted:
		return BuildPlan([]Finding{{
			Kind: string(info.Type),
			Keys: []string{
				session.KeyDeviceID,
				session.KeyLoginInfo,
				session.KeyLegacyLoginInfo,
				session.KeyV39LoginInfo,
			},
			Reason: "device identity must be regenerated",
		}})
	case ConflictMultipleInstances:
		return BuildPlan([]Finding{{
			Kind:   string(info.Type),
			Keys:   []string{session.KeyQuickAuth},
			Reason: "quick-auth cache may be shared by another instance",
		}})
	}
	return CleanupPlan{Reasons: map[string]string{}}
}

// Deleter is the slice of the session store Apply needs.
type Deleter interface {
	Delete(key string) error
}

// Apply executes a cleanup plan against the session store. All deletions are
// attempted; errors are joined.
func Apply(plan CleanupPlan, store Deleter) error {
	var errs []error
	for _, key := range plan.Remove {
		if err := store.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
