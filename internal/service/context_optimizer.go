package service

import (
	"askto-go/internal/model"
	"encoding/json"
)

const (
	discoverySessionLimit = 2
	objectionSessionLimit = 3
	dateLayout            = "2006-01-02"
)

// SessionDigest 是上下文中对一次历史会话的摘要。
type SessionDigest struct {
	Phase   model.Phase `json:"session_type"`
	Date    string      `json:"date,omitempty"`
	Summary string      `json:"summary,omitempty"`
	Outcome string      `json:"outcome,omitempty"`
}

// BoundedContext 是按阶段裁剪后的上下文，大小有界。
// 所有 map 字段在 JSON 编码时按键排序，相同输入总是得到相同的字节。
type BoundedContext struct {
	Phase            model.Phase            `json:"phase"`
	Name             string                 `json:"name,omitempty"`
	PhoneLastFour    string                 `json:"phone_last_four,omitempty"`
	IsReturning      *bool                  `json:"is_returning,omitempty"`
	Profile          map[string]interface{} `json:"profile,omitempty"`
	Insights         map[string]interface{} `json:"insights,omitempty"`
	PreviousSessions []SessionDigest        `json:"previous_sessions,omitempty"`
	DiscoverySummary string                 `json:"discovery_summary,omitempty"`
	PainPoints       []string               `json:"pain_points,omitempty"`
	KnownObjections  interface{}            `json:"known_objections,omitempty"`
}

// OptimizeContext 把持久上下文投影为当前阶段需要的有界子集。纯函数，不访问外部资源。
//   - discovery: 只有身份、是否回访以及最近 2 次会话
//   - pitch: 消费/饮食/理财目标/持卡情况、全部洞察、最近一次 discovery 摘要
//   - objection: 完整画像、全部洞察、最近 3 次会话、痛点和已知异议
func OptimizeContext(dc *model.DurableContext, phase model.Phase) BoundedContext {
	out := BoundedContext{Phase: phase}
	if dc == nil {
		return out
	}
	if dc.Identity != nil {
		out.Name = dc.Identity.Name
		out.PhoneLastFour = dc.Identity.PhoneLastFour
	}
	profile := dc.Profile
	if profile == nil {
		profile = model.NewProfile("", "")
	}

	switch phase {
	case model.PhasePitch:
		out.Profile = map[string]interface{}{
			"spending_patterns": nonNilMap(profile.SpendingPatterns),
			"food_habits":       nonNilMap(profile.FoodHabits),
			"financial_goals":   nonNilMap(profile.FinancialGoals),
			"current_cards":     nonNilMap(profile.CurrentCards),
		}
		out.Insights = insightMap(dc.Insights)
		for _, s := range dc.Sessions {
			if s.Phase == model.PhaseDiscovery {
				out.DiscoverySummary = s.Summary
				break
			}
		}

	case model.PhaseObjection:
		out.Profile = map[string]interface{}{
			"spending_patterns": nonNilMap(profile.SpendingPatterns),
			"food_habits":       nonNilMap(profile.FoodHabits),
			"financial_goals":   nonNilMap(profile.FinancialGoals),
			"current_cards":     nonNilMap(profile.CurrentCards),
			"preferences":       nonNilMap(profile.Preferences),
			"pain_points":       nonNilSlice(profile.PainPoints),
		}
		out.Insights = insightMap(dc.Insights)
		for i, s := range dc.Sessions {
			if i >= objectionSessionLimit {
				break
			}
			out.PreviousSessions = append(out.PreviousSessions, SessionDigest{
				Phase:   s.Phase,
				Summary: s.Summary,
				Outcome: s.Outcome,
			})
		}
		out.PainPoints = nonNilSlice(profile.PainPoints)
		if objections, ok := profile.Preferences["objections"]; ok {
			out.KnownObjections = objections
		}

	default:
		returning := len(dc.Sessions) > 0
		out.IsReturning = &returning
		for i, s := range dc.Sessions {
			if i >= discoverySessionLimit {
				break
			}
			out.PreviousSessions = append(out.PreviousSessions, SessionDigest{
				Phase:   s.Phase,
				Date:    s.StartedAt.Format(dateLayout),
				Summary: s.Summary,
			})
		}
	}
	return out
}

// Render 把上下文编码为确定性的 JSON 文本。
func (c BoundedContext) Render() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// InsightValue 返回某个洞察键的数值。
func (c BoundedContext) InsightValue(key string) (float64, bool) {
	v, ok := c.Insights[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// insightMap 按洞察键汇总，有数值时优先使用数值。
func insightMap(insights []model.Insight) map[string]interface{} {
	out := make(map[string]interface{}, len(insights))
	for _, in := range insights {
		if in.InsightKey == "" {
			continue
		}
		if in.NumericValue != nil {
			out[in.InsightKey] = *in.NumericValue
		} else {
			out[in.InsightKey] = in.InsightValue
		}
	}
	return out
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// WithoutSession 返回去掉指定会话后的副本，用于排除当前正在进行的会话。
func WithoutSession(dc *model.DurableContext, sessionID string) *model.DurableContext {
	if dc == nil || sessionID == "" {
		return dc
	}
	cp := *dc
	cp.Sessions = make([]model.Session, 0, len(dc.Sessions))
	for _, s := range dc.Sessions {
		if s.ID != sessionID {
			cp.Sessions = append(cp.Sessions, s)
		}
	}
	return &cp
}
