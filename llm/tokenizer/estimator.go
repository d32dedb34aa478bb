package tokenizer

import (
	"github.com/BaSui01/llmgate/types"
)

const (
	defaultEstimatorMaxTokens = 4096
	defaultCharsPerToken      = 4.0
	// cjkCharsPerToken 中日韩字符大约 1.5 个字符一个 token
	cjkCharsPerToken = 1.5
)

// EstimatorTokenizer 按字符数估算 token，中日韩字符与其他字符使用不同比例。
// 无需外部数据，作为未登记模型与编码加载失败时的兜底。
type EstimatorTokenizer struct {
	model         string
	maxTokens     int
	charsPerToken float64
}

// NewEstimatorTokenizer 创建估算器，maxTokens <= 0 时取 4096
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultEstimatorMaxTokens
	}
	return &EstimatorTokenizer{
		model:         model,
		maxTokens:     maxTokens,
		charsPerToken: defaultCharsPerToken,
	}
}

// WithCharsPerToken 覆盖非中日韩文本的字符比，ratio <= 0 时忽略
func (e *EstimatorTokenizer) WithCharsPerToken(ratio float64) *EstimatorTokenizer {
	if ratio > 0 {
		e.charsPerToken = ratio
	}
	return e
}

// CountTokens 非空文本至少计 1 个 token
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return max(1, int(float64(cjk)/cjkCharsPerToken+float64(other)/e.charsPerToken)), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []types.Message) (int, error) {
	total := replyPrimerTokens
	for _, msg := range messages {
		n, _ := e.CountTokens(msg.Content)
		total += n + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF, // 统一表意文字
		r >= 0x3400 && r <= 0x4DBF,   // 扩展 A
		r >= 0x20000 && r <= 0x2A6DF, // 扩展 B
		r >= 0xF900 && r <= 0xFAFF,   // 兼容表意文字
		r >= 0x3000 && r <= 0x303F,   // 符号与标点
		r >= 0x3040 && r <= 0x30FF,   // 平假名、片假名
		r >= 0xAC00 && r <= 0xD7AF,   // 韩文音节
		r >= 0xFF00 && r <= 0xFFEF:   // 全角与半角
		return true
	}
	return false
}
