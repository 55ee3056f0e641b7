// Package model 包含了应用的数据模型定义。
package model

import (
	"fmt"
	"strings"
)

// Phase 表示一次销售对话所处的阶段，决定上下文投影规则和回复指令。
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhasePitch     Phase = "pitch"
	PhaseObjection Phase = "objection"
)

// ParsePhase 将字符串解析为 Phase，大小写不敏感。
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case PhaseDiscovery, PhasePitch, PhaseObjection:
		return p, nil
	default:
		return "", fmt.Errorf("unknown phase %q", s)
	}
}

func (p Phase) String() string {
	return string(p)
}
