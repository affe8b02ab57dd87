package project

import "fmt"

type Tier string

const (
	TierFree     Tier = "free"
	TierUpgraded Tier = "upgraded"
)

func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFree, TierUpgraded:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

type Limits struct {
	MemberLimit int `json:"member_limit" yaml:"member_limit"`
	ClipLimit   int `json:"clip_limit" yaml:"clip_limit"`
}

// TierLimits maps each tier to its configured limits.
type TierLimits map[Tier]Limits

func DefaultTierLimits() TierLimits {
	return TierLimits{
		TierFree:     {MemberLimit: 2, ClipLimit: 2},
		TierUpgraded: {MemberLimit: 10, ClipLimit: 100},
	}
}

func (t TierLimits) For(tier Tier) Limits {
	if l, ok := t[tier]; ok {
		return l
	}
	return DefaultTierLimits()[tier]
}
