package service

import (
	"askto-go/internal/model"
	"askto-go/internal/repository"
	"askto-go/pkg/log"
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// 信用卡权益常量。
const (
	CashbackRate           = 0.10
	MaxMonthlyCashback     = 1500.0
	DeliverySavingPerOrder = 40.0
	SignupBonus            = 500.0
	AnnualFee              = 500.0
	FeeWaiverThreshold     = 50000.0
	WeeksPerMonth          = 4.33
	WeeksPerYear           = 52.0
)

var (
	frequencyRangeRe  = regexp.MustCompile(`(\d+)\s*(?:to|-)\s*(\d+)`)
	frequencyNumberRe = regexp.MustCompile(`(\d+)`)
)

// ParseFrequencyToWeekly 把订餐频率描述转换为每周订单数。
// 无法识别时返回 false，而不是 0。
func ParseFrequencyToWeekly(frequency string) (float64, bool) {
	f := strings.ToLower(strings.TrimSpace(frequency))
	if f == "" {
		return 0, false
	}

	if m := frequencyRangeRe.FindStringSubmatch(f); m != nil {
		low, _ := strconv.Atoi(m[1])
		high, _ := strconv.Atoi(m[2])
		return float64(low+high) / 2, true
	}

	if m := frequencyNumberRe.FindStringSubmatch(f); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch {
		case strings.Contains(f, "week"):
			return float64(n), true
		case strings.Contains(f, "month"):
			return float64(n) / WeeksPerMonth, true
		case strings.Contains(f, "day"):
			return float64(n) * 7, true
		}
		return float64(n), true
	}

	switch {
	case strings.Contains(f, "daily") || strings.Contains(f, "every day"):
		return 7, true
	case strings.Contains(f, "twice") && strings.Contains(f, "week"):
		return 2, true
	case strings.Contains(f, "once") && strings.Contains(f, "week"):
		return 1, true
	case strings.Contains(f, "occasional") || strings.Contains(f, "rarely"):
		return 0.5, true
	}
	return 0, false
}

// Savings 是按每周订单数和单笔金额推算出的节省金额，金额均已取整。
type Savings struct {
	WeeklySpend            float64
	MonthlySpend           float64
	AnnualSpend            float64
	MonthlyCashback        float64
	AnnualCashback         float64
	MonthlyDeliverySavings float64
	AnnualDeliverySavings  float64
	TotalAnnualSavings     float64
	AnnualFee              float64
	FeeWaived              bool
	NetFirstYear           float64
	NetSubsequentYears     float64
}

// CalculateSavings 计算持卡后的节省金额。
// 年返现按取整后的月返现乘 12，年配送节省按未取整的月值乘 12。
func CalculateSavings(weeklyOrders, avgOrderAmount float64) Savings {
	weeklySpend := weeklyOrders * avgOrderAmount
	monthlySpend := weeklySpend * WeeksPerMonth
	annualSpend := weeklySpend * WeeksPerYear

	monthlyCashback := math.Round(math.Min(monthlySpend*CashbackRate, MaxMonthlyCashback))
	annualCashback := monthlyCashback * 12

	monthlyDelivery := weeklyOrders * WeeksPerMonth * DeliverySavingPerOrder
	annualDelivery := monthlyDelivery * 12

	total := math.Round(annualCashback + annualDelivery)

	fee := AnnualFee
	if annualSpend >= FeeWaiverThreshold {
		fee = 0
	}

	return Savings{
		WeeklySpend:            math.Round(weeklySpend),
		MonthlySpend:           math.Round(monthlySpend),
		AnnualSpend:            math.Round(annualSpend),
		MonthlyCashback:        monthlyCashback,
		AnnualCashback:         annualCashback,
		MonthlyDeliverySavings: math.Round(monthlyDelivery),
		AnnualDeliverySavings:  math.Round(annualDelivery),
		TotalAnnualSavings:     total,
		AnnualFee:              fee,
		FeeWaived:              fee == 0,
		NetFirstYear:           total - fee + SignupBonus,
		NetSubsequentYears:     total - fee,
	}
}

// Insights 把节省金额展开为 computed_savings 类型的洞察。
func (s Savings) Insights(sourceSessionID *string) []model.InsightInput {
	metrics := []struct {
		key   string
		value float64
	}{
		{"weekly_spend", s.WeeklySpend},
		{"monthly_spend", s.MonthlySpend},
		{"annual_spend", s.AnnualSpend},
		{"monthly_cashback", s.MonthlyCashback},
		{"annual_cashback", s.AnnualCashback},
		{"monthly_delivery_savings", s.MonthlyDeliverySavings},
		{"annual_delivery_savings", s.AnnualDeliverySavings},
		{"total_annual_savings", s.TotalAnnualSavings},
		{"annual_fee", s.AnnualFee},
		{"net_first_year", s.NetFirstYear},
		{"net_subsequent_years", s.NetSubsequentYears},
	}
	inputs := make([]model.InsightInput, 0, len(metrics)+1)
	for _, m := range metrics {
		inputs = append(inputs, numericInsight(model.InsightTypeComputedSavings, m.key, m.value, sourceSessionID))
	}
	waived := 0.0
	if s.FeeWaived {
		waived = 1
	}
	inputs = append(inputs, model.InsightInput{
		Type:            model.InsightTypeComputedSavings,
		Key:             "fee_waived",
		Value:           strconv.FormatBool(s.FeeWaived),
		Numeric:         &waived,
		Confidence:      1.0,
		SourceSessionID: sourceSessionID,
	})
	return inputs
}

func numericInsight(insightType, key string, value float64, sourceSessionID *string) model.InsightInput {
	v := value
	return model.InsightInput{
		Type:            insightType,
		Key:             key,
		Value:           strconv.FormatFloat(value, 'f', -1, 64),
		Numeric:         &v,
		Confidence:      1.0,
		SourceSessionID: sourceSessionID,
	}
}

// 画像 spending_patterns 中使用的键。
const (
	SpendingKeyFrequency    = "swiggy_frequency"
	SpendingKeyAvgAmount    = "avg_order_amount"
	SpendingKeyMonthlySpend = "monthly_food_spend"
)

// DeriveInsights 根据本轮事实和合并后的画像推导洞察，本轮事实优先。
func DeriveInsights(facts model.Facts, profile *model.Profile, sourceSessionID *string) []model.InsightInput {
	var spending map[string]interface{}
	if profile != nil {
		spending = profile.SpendingPatterns
	}

	frequency, ok := facts.String(model.FactOrderFrequency)
	if !ok {
		frequency, _ = spending[SpendingKeyFrequency].(string)
	}
	weekly, hasWeekly := ParseFrequencyToWeekly(frequency)

	avg, hasAvg := facts.Float(model.FactAmountPerOrder)
	if !hasAvg {
		avg, hasAvg = toFloat(spending[SpendingKeyAvgAmount])
	}
	hasWeekly = hasWeekly && weekly > 0
	hasAvg = hasAvg && avg > 0

	var inputs []model.InsightInput
	if hasWeekly {
		inputs = append(inputs, numericInsight(model.InsightTypeSpending, "weekly_orders", weekly, sourceSessionID))
	}
	if hasAvg {
		inputs = append(inputs, numericInsight(model.InsightTypeSpending, "avg_order_amount", avg, sourceSessionID))
	}
	if hasWeekly && hasAvg {
		inputs = append(inputs, CalculateSavings(weekly, avg).Insights(sourceSessionID)...)
	}
	return inputs
}

func toFloat(v interface{}) (float64, bool) {
	return model.Facts{"v": v}.Float("v")
}

// InsightService 负责洞察的推导和读取。
type InsightService interface {
	DeriveAndStore(ctx context.Context, identityID string, facts model.Facts, profile *model.Profile, sourceSessionID *string) ([]model.InsightInput, error)
	List(ctx context.Context, identityID, insightType string) ([]model.Insight, error)
}

type insightService struct {
	insightRepo repository.InsightRepository
}

// NewInsightService 创建一个新的 InsightService 实例。
func NewInsightService(insightRepo repository.InsightRepository) InsightService {
	return &insightService{insightRepo: insightRepo}
}

func (s *insightService) DeriveAndStore(ctx context.Context, identityID string, facts model.Facts, profile *model.Profile, sourceSessionID *string) ([]model.InsightInput, error) {
	inputs := DeriveInsights(facts, profile, sourceSessionID)
	if len(inputs) == 0 {
		return nil, nil
	}
	if err := s.insightRepo.UpsertMany(ctx, identityID, inputs); err != nil {
		return nil, err
	}
	log.Infof("[InsightService] 为身份 %s 写入 %d 条洞察", identityID, len(inputs))
	return inputs, nil
}

func (s *insightService) List(ctx context.Context, identityID, insightType string) ([]model.Insight, error) {
	return s.insightRepo.List(ctx, identityID, insightType)
}
