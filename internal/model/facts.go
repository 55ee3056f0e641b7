package model

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// 事实集中约定的键。
const (
	FactName              = "name"
	FactLocation          = "location"
	FactWorkStatus        = "work_status"
	FactOrderFrequency    = "swiggy_frequency"
	FactAmountPerOrder    = "swiggy_amount_per_order"
	FactMonthlyFoodSpend  = "monthly_food_spend"
	FactBudgetConscious   = "budget_conscious"
	FactSavingsFocused    = "savings_focused"
	FactFinancialConcerns = "financial_concerns"
	FactExistingCards     = "existing_cards"
	FactCardSatisfaction  = "card_satisfaction"
	FactCardPainPoints    = "card_pain_points"
	FactObjections        = "objections_raised"
)

// Facts 是从单条用户发言中抽取出的扁平事实集。
// 值可能来自正则规则或语义抽取器，所以取值方法会做宽松的类型转换。
type Facts map[string]interface{}

// Merge 返回 f 与 other 的合并结果，键冲突时 other 优先。
func (f Facts) Merge(other Facts) Facts {
	out := make(Facts, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String 返回 key 对应的字符串值。
func (f Facts) String(key string) (string, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), t != ""
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// Float 返回 key 对应的数值，字符串形式的数字也会被解析。
func (f Facts) Float(key string) (float64, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		// 从 JSON 列读回的数值
		n, err := t.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	}
	return 0, false
}

// Bool 返回 key 对应的布尔值。
func (f Facts) Bool(key string) (bool, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

// Strings 返回 key 对应的字符串列表，单个字符串会被视为只有一个元素的列表。
func (f Facts) Strings(key string) []string {
	v, ok := f[key]
	if !ok || v == nil {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = append(out, t)
	}
	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

// Keys 返回排好序的键列表。
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
