package service

import (
	"askto-go/internal/config"
	"askto-go/internal/model"
	"askto-go/pkg/llm"
	"askto-go/pkg/log"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SemanticExtractor 是外部语义抽取器，返回扁平的键值事实。
type SemanticExtractor interface {
	Extract(ctx context.Context, utterance string) (model.Facts, error)
}

// ExtractionService 从一条用户发言中抽取结构化事实。
type ExtractionService interface {
	// Extract 合并规则抽取与语义抽取的结果，键冲突时语义抽取优先。
	// 抽取失败只会得到空结果，不会返回错误。
	Extract(ctx context.Context, utterance string) model.Facts
}

type extractionService struct {
	semantic SemanticExtractor
}

// NewExtractionService 创建一个新的 ExtractionService 实例，semantic 可以为 nil。
func NewExtractionService(semantic SemanticExtractor) ExtractionService {
	return &extractionService{semantic: semantic}
}

func (s *extractionService) Extract(ctx context.Context, utterance string) model.Facts {
	if strings.TrimSpace(utterance) == "" {
		return model.Facts{}
	}
	facts := ExtractWithRules(utterance)
	if s.semantic == nil {
		return facts
	}
	semantic, err := s.semantic.Extract(ctx, utterance)
	if err != nil {
		log.Warnf("[ExtractionService] 语义抽取失败，按空结果处理: %v", err)
		return facts
	}
	merged := facts.Merge(semantic)
	if len(merged) > 0 {
		log.Infof("[ExtractionService] 抽取到字段: %v", merged.Keys())
	}
	return merged
}

type frequencyRule struct {
	re     *regexp.Regexp
	format func(m []string) string
}

var frequencyRules = []frequencyRule{
	{regexp.MustCompile(`(\d+)\s*(?:to|-)\s*(\d+)\s*times?\s*(?:a|per)\s*week`), func(m []string) string {
		return fmt.Sprintf("%s-%s times per week", m[1], m[2])
	}},
	{regexp.MustCompile(`(\d+)\s*times?\s*(?:a|per)\s*week`), func(m []string) string {
		return fmt.Sprintf("%s times per week", m[1])
	}},
	{regexp.MustCompile(`daily|every\s*day`), func([]string) string { return "daily" }},
	{regexp.MustCompile(`once\s*(?:a|per)\s*week`), func([]string) string { return "once per week" }},
	{regexp.MustCompile(`twice\s*(?:a|per)\s*week`), func([]string) string { return "twice per week" }},
	{regexp.MustCompile(`rarely|occasionally|sometimes`), func([]string) string { return "occasionally" }},
}

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:rs\.?|₹|rupees?)\s*(\d+(?:,\d+)?)`),
	regexp.MustCompile(`(\d+(?:,\d+)?)\s*(?:rs\.?|₹|rupees?)`),
	regexp.MustCompile(`around\s*(\d+(?:,\d+)?)`),
	regexp.MustCompile(`about\s*(\d+(?:,\d+)?)`),
	regexp.MustCompile(`(\d{3,})`),
}

var budgetPhrases = []string{
	"budget", "careful with", "save money", "saving", "tight",
	"can't afford", "expensive", "costly", "watching my spend",
}

var cardPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(hdfc|icici|sbi|axis|kotak|citi|amex|american express)\s*(?:credit)?\s*card`),
	regexp.MustCompile(`have\s*(?:a|an)?\s*(\w+)\s*card`),
}

// 顺序决定输出顺序
var objectionKeywords = []struct {
	phrase   string
	category string
}{
	{"too many cards", "too_many_cards"},
	{"annual fee", "annual_fee_concern"},
	{"fee", "fee_concern"},
	{"overspend", "overspending_worry"},
	{"spend too much", "overspending_worry"},
	{"not interested", "not_interested"},
	{"think about it", "needs_time"},
	{"let me think", "needs_time"},
	{"complicated", "complexity_concern"},
	{"confusing", "complexity_concern"},
}

// ExtractWithRules 用确定性的正则规则抽取事实。
func ExtractWithRules(text string) model.Facts {
	facts := model.Facts{}
	lower := strings.ToLower(text)

	for _, rule := range frequencyRules {
		if m := rule.re.FindStringSubmatch(lower); m != nil {
			facts[model.FactOrderFrequency] = rule.format(m)
			break
		}
	}

	// 第一个命中的金额模式生效，按区间判断是单笔金额还是月度花费
	for _, re := range amountPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		amount, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		if amount >= 100 && amount <= 2000 {
			facts[model.FactAmountPerOrder] = float64(amount)
		} else if amount > 2000 && amount <= 50000 {
			facts[model.FactMonthlyFoodSpend] = float64(amount)
		}
		break
	}

	for _, phrase := range budgetPhrases {
		if strings.Contains(lower, phrase) {
			facts[model.FactBudgetConscious] = true
			break
		}
	}

	cardSet := make(map[string]struct{})
	for _, re := range cardPatterns {
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			cardSet[m[1]] = struct{}{}
		}
	}
	if len(cardSet) > 0 {
		cards := make([]string, 0, len(cardSet))
		for c := range cardSet {
			cards = append(cards, c)
		}
		sort.Strings(cards)
		facts[model.FactExistingCards] = cards
	}

	var objections []string
	seen := make(map[string]struct{})
	for _, kw := range objectionKeywords {
		if !strings.Contains(lower, kw.phrase) {
			continue
		}
		if _, ok := seen[kw.category]; ok {
			continue
		}
		seen[kw.category] = struct{}{}
		objections = append(objections, kw.category)
	}
	if len(objections) > 0 {
		facts[model.FactObjections] = objections
	}

	return facts
}

const extractionPrompt = `You extract facts from one customer utterance in a credit card sales call.

Extract only the fields the message states clearly:
- name: the customer's name
- location: city, area or region
- work_status: employed, freelance, business owner, student, etc.
- swiggy_frequency: how often they order food delivery, e.g. "3-4 times per week", "daily", "occasionally"
- swiggy_amount_per_order: typical amount per order in rupees, number only
- monthly_food_spend: total monthly food delivery spend in rupees, number only
- budget_conscious: true or false, if they say they are careful with money
- savings_focused: true or false, if saving money is a goal
- financial_concerns: list of financial worries
- existing_cards: list of credit cards they already have
- card_satisfaction: satisfied, unsatisfied or neutral
- card_pain_points: problems with their current cards
- objections_raised: objections to the card offer

Respond with one flat JSON object holding only the extracted fields, or {} when nothing applies.

Customer message: %s

JSON:`

var jsonObjectRe = regexp.MustCompile(`\{[^{}]*\}`)

// llmExtractor 基于大模型的语义抽取器。
type llmExtractor struct {
	client llm.Client
	gen    *llm.GenerationParams
}

// NewLLMExtractor 创建基于大模型的语义抽取器。
func NewLLMExtractor(client llm.Client, cfg config.LLMGenerationConfig) SemanticExtractor {
	return &llmExtractor{client: client, gen: llm.ParamsFromConfig(cfg)}
}

func (e *llmExtractor) Extract(ctx context.Context, utterance string) (model.Facts, error) {
	content, err := e.client.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(extractionPrompt, utterance)},
	}, e.gen)
	if err != nil {
		return nil, err
	}
	return ParseExtractionResponse(content), nil
}

// ParseExtractionResponse 从模型输出中找出第一个扁平 JSON 对象。
// 找不到或解析失败时返回空事实集，null 值会被丢弃。
func ParseExtractionResponse(content string) model.Facts {
	raw := jsonObjectRe.FindString(content)
	if raw == "" {
		return model.Facts{}
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		log.Warnf("[ExtractionService] 无法解析抽取结果: %v", err)
		return model.Facts{}
	}
	facts := make(model.Facts, len(parsed))
	for k, v := range parsed {
		if v == nil {
			continue
		}
		facts[k] = v
	}
	return facts
}
