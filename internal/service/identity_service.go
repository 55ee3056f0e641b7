// Package service 包含了应用的业务逻辑层。
package service

import (
	"askto-go/internal/model"
	"askto-go/internal/repository"
	"askto-go/pkg/log"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

var (
	phoneSeparatorRe = regexp.MustCompile(`[\s\-\.\(\)/_]`)
	nonDigitRe       = regexp.MustCompile(`\D`)
	phoneRunRe       = regexp.MustCompile(`\+?\d(?:[\s\-\.\(\)/_]*\d){9,}`)
	// 按优先级尝试：带可选国家码的手机号、不带前缀的手机号、任意 10 位数字
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:\+91|91)?([6-9]\d{9})`),
		regexp.MustCompile(`([6-9]\d{9})`),
		regexp.MustCompile(`(\d{10})`),
	}
)

// ExtractPhoneNumber 从自由文本中提取规范化的 10 位号码。
// 先去掉常见分隔符再按模式匹配，都不命中时退化为取全部数字的最后 10 位。
func ExtractPhoneNumber(text string) (string, bool) {
	cleaned := phoneSeparatorRe.ReplaceAllString(text, "")
	for _, re := range phonePatterns {
		m := re.FindStringSubmatch(cleaned)
		if len(m) == 2 && len(m[1]) == 10 {
			return m[1], true
		}
	}
	digits := nonDigitRe.ReplaceAllString(text, "")
	if len(digits) >= 10 {
		return digits[len(digits)-10:], true
	}
	return "", false
}

// PhonePlaceholder 是号码被遮蔽后在文本中的替代内容，不含数字。
const PhonePlaceholder = "[phone number]"

// RedactPhoneNumbers 把文本中 10 位及以上的号码（允许分隔符）替换为 PhonePlaceholder，
// 写入会话记录和交给抽取器之前调用。
func RedactPhoneNumbers(text string) string {
	return phoneRunRe.ReplaceAllString(text, PhonePlaceholder)
}

// HashPhone 返回号码的 SHA-256 十六进制摘要，作为身份的规范键。
func HashPhone(digits string) string {
	sum := sha256.Sum256([]byte(digits))
	return hex.EncodeToString(sum[:])
}

// LastFour 返回号码的后四位，仅用于展示。
func LastFour(digits string) string {
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// IdentityService 定义了身份解析的接口。
type IdentityService interface {
	// Resolve 按号码查找身份，不存在时连同空画像一起创建。第二个返回值表示是否新建。
	Resolve(ctx context.Context, digits string) (*model.Identity, bool, error)
	// ApplyFacts 把事实中的姓名、城市、工作状态写回身份。
	ApplyFacts(ctx context.Context, identityID string, facts model.Facts) error
}

type identityService struct {
	identityRepo repository.IdentityRepository
}

// NewIdentityService 创建一个新的 IdentityService 实例。
func NewIdentityService(identityRepo repository.IdentityRepository) IdentityService {
	return &identityService{identityRepo: identityRepo}
}

func (s *identityService) Resolve(ctx context.Context, digits string) (*model.Identity, bool, error) {
	hash := HashPhone(digits)
	existing, err := s.identityRepo.FindByPhoneHash(ctx, hash)
	if err != nil {
		return nil, false, fmt.Errorf("lookup identity: %w", err)
	}
	if existing != nil {
		log.Infof("[IdentityService] 找到已有身份 %s, 号码 %s", existing.ID, log.MaskPhone(digits))
		return existing, false, nil
	}

	identity, created, err := s.identityRepo.CreateWithProfile(ctx, hash, LastFour(digits))
	if err != nil {
		return nil, false, fmt.Errorf("create identity: %w", err)
	}
	if created {
		log.Infof("[IdentityService] 创建新身份 %s, 号码 %s", identity.ID, log.MaskPhone(digits))
	}
	return identity, created, nil
}

func (s *identityService) ApplyFacts(ctx context.Context, identityID string, facts model.Facts) error {
	var update model.IdentityUpdate
	if v, ok := facts.String(model.FactName); ok {
		update.Name = &v
	}
	if v, ok := facts.String(model.FactLocation); ok {
		update.Location = &v
	}
	if v, ok := facts.String(model.FactWorkStatus); ok {
		update.WorkStatus = &v
	}
	if update.IsEmpty() {
		return nil
	}
	return s.identityRepo.Update(ctx, identityID, update)
}
