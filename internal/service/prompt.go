package service

import (
	"askto-go/internal/config"
	"askto-go/internal/model"
	"askto-go/pkg/llm"
	"context"
	"fmt"
	"strings"
)

// 身份确认阶段的固定回复。
const (
	GreetingText = "Hello! I'm calling from HDFC Bank about an exclusive offer on the Swiggy Credit Card. " +
		"Before we go on, could you share your phone number so I can look up your details?"
	RepromptText = "Sorry, I didn't quite catch that. Could you share your 10-digit mobile number? " +
		"For example, 98765 43210."
)

// cardBenefitsText 是卡片权益，数字与 insight_service.go 中的常量一致。
var cardBenefitsText = fmt.Sprintf(`HDFC SWIGGY CREDIT CARD:
- %.0f%% cashback on Swiggy orders, up to Rs. %.0f a month
- Free delivery on every Swiggy order, about Rs. %.0f saved per order
- Rs. %.0f bonus on the first transaction
- Annual fee Rs. %.0f, waived when yearly spend reaches Rs. %.0f
- No joining fee`,
	CashbackRate*100, MaxMonthlyCashback, DeliverySavingPerOrder, SignupBonus, AnnualFee, FeeWaiverThreshold)

var phaseInstructions = map[model.Phase]string{
	model.PhaseDiscovery: `You are a warm relationship manager from HDFC Bank on an outbound call about the Swiggy Credit Card.
This call is about getting to know the customer, not selling yet.

Work these topics into a natural conversation, one or two at a time:
- where they live and what they do for work
- how often they order on Swiggy and what a typical order costs
- which credit cards they already hold and how they feel about them
- whether saving on everyday spending matters to them

Rules:
- answer what they say before asking the next question
- two or three sentences per reply
- no savings numbers and no push to sign up in this call
- offer to call back if they sound busy
- close by thanking them and saying you'll follow up with a tailored suggestion`,

	model.PhasePitch: `You are a friendly relationship manager from HDFC Bank presenting the Swiggy Credit Card.
Show how the card pays off for this customer, using their own numbers when you have them.

Rules:
- read the history first and never repeat a point or re-ask an answered question
- lead with the cashback and free delivery, explain fees only when asked
- if they sound interested, offer to help them apply; the online form takes about five minutes
- if they hesitate, ask what is holding them back
- if they decline, thank them and stop
- two or three sentences per reply`,

	model.PhaseObjection: `You are an understanding relationship manager from HDFC Bank answering concerns about the Swiggy Credit Card.

For each concern: acknowledge it honestly, answer it plainly, then check whether that helps.
Typical concerns:
- already has too many cards: this is about getting money back on orders they already place
- annual fee: it is waived at the yearly spend threshold, and savings usually exceed it anyway
- fear of overspending: the card rewards existing orders, think of it as a discount
- rewards feel complicated: cashback is automatic, there are no points or categories
- wants time to think: respect it, sum up the main benefit in one line, offer to send details
- not interested: thank them and end politely

Rules:
- never repeat yourself, never argue
- two or three sentences per reply
- a polite no is a valid outcome`,
}

// VerificationKind 标记本轮是否刚刚完成身份确认。
type VerificationKind int

const (
	VerificationNone VerificationKind = iota
	VerificationNewCaller
	VerificationReturningCaller
)

// VerificationHint 告诉回复生成器刚确认的来电者是新客户还是老客户。
type VerificationHint struct {
	Kind     VerificationKind
	Name     string
	LastFour string
}

func (h VerificationHint) text() string {
	switch h.Kind {
	case VerificationNewCaller:
		return fmt.Sprintf("The caller just shared a number ending in %s and is new to us. "+
			"Thank them, mention the card in one line and ask for their name.", h.LastFour)
	case VerificationReturningCaller:
		who := h.Name
		if who == "" {
			who = "customer ending in " + h.LastFour
		}
		return fmt.Sprintf("The caller was just recognised as a returning customer. "+
			"Open with \"Welcome back, %s!\" and ask how they have been.", who)
	}
	return ""
}

// BuildInstruction 为当前阶段拼装发给回复生成器的指令文本。
func BuildInstruction(bc BoundedContext, hint VerificationHint) string {
	instruction, ok := phaseInstructions[bc.Phase]
	if !ok {
		instruction = phaseInstructions[model.PhaseDiscovery]
	}

	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\n")
	sb.WriteString(cardBenefitsText)

	if bc.Phase == model.PhasePitch || bc.Phase == model.PhaseObjection {
		if savings := savingsText(bc); savings != "" {
			sb.WriteString("\n\n")
			sb.WriteString(savings)
		}
	}
	if bc.Name != "" {
		sb.WriteString("\n\nCustomer name: ")
		sb.WriteString(bc.Name)
	}
	if h := hint.text(); h != "" {
		sb.WriteString("\n\n")
		sb.WriteString(h)
	}
	sb.WriteString("\n\nWhat we know about this customer (JSON):\n")
	sb.WriteString(bc.Render())
	return sb.String()
}

func savingsText(bc BoundedContext) string {
	weekly, ok := bc.InsightValue("weekly_orders")
	if !ok || weekly <= 0 {
		return ""
	}
	avg, ok := bc.InsightValue("avg_order_amount")
	if !ok || avg <= 0 {
		return ""
	}
	s := CalculateSavings(weekly, avg)
	waived := "no, but the savings cover it"
	if s.FeeWaived {
		waived = "yes"
	}
	return fmt.Sprintf(`THEIR SAVINGS (use naturally, don't read out as a list):
- Monthly cashback: Rs. %.0f
- Total yearly savings: Rs. %.0f
- Annual fee waived: %s
- Net benefit after fee: Rs. %.0f`, s.MonthlyCashback, s.TotalAnnualSavings, waived, s.NetSubsequentYears)
}

// LLMReplyGenerator 通过聊天接口生成回复。
type LLMReplyGenerator struct {
	client llm.Client
	gen    *llm.GenerationParams
}

// NewLLMReplyGenerator 创建基于大模型的回复生成器。
func NewLLMReplyGenerator(client llm.Client, cfg config.LLMGenerationConfig) *LLMReplyGenerator {
	return &LLMReplyGenerator{client: client, gen: llm.ParamsFromConfig(cfg)}
}

// Generate 以指令作为 system 消息，后接按时间顺序排列的对话历史。
func (g *LLMReplyGenerator) Generate(ctx context.Context, instruction string, history []model.ChatMessage) (string, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: instruction})
	for _, m := range history {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return g.client.Chat(ctx, messages, g.gen)
}
