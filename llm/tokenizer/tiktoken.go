package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/llmgate/types"
)

// 对话格式开销：每条消息的角色与分隔标记，以及回复起始标记
const (
	perMessageOverhead = 4
	replyPrimerTokens  = 3
)

const (
	encO200K  = "o200k_base"
	encCL100K = "cl100k_base"
)

// modelFamily 描述一组共享编码的 OpenAI 模型
type modelFamily struct {
	prefix    string
	encoding  string
	maxTokens int
}

// openAIFamilies 在 Registry 中按最长前缀匹配，如 "gpt-4o-mini-2024-07-18" 命中 "gpt-4o-mini"
var openAIFamilies = []modelFamily{
	{prefix: "gpt-4o", encoding: encO200K, maxTokens: 128000},
	{prefix: "gpt-4o-mini", encoding: encO200K, maxTokens: 128000},
	{prefix: "o1", encoding: encO200K, maxTokens: 200000},
	{prefix: "o3", encoding: encO200K, maxTokens: 200000},
	{prefix: "gpt-4-turbo", encoding: encCL100K, maxTokens: 128000},
	{prefix: "gpt-4", encoding: encCL100K, maxTokens: 8192},
	{prefix: "gpt-3.5-turbo", encoding: encCL100K, maxTokens: 16385},
}

// encodings 每种编码只加载一次，同编码的模型共享
var encodings sync.Map // encoding name -> *lazyEncoding

type lazyEncoding struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func loadEncoding(name string) (*tiktoken.Tiktoken, error) {
	v, _ := encodings.LoadOrStore(name, &lazyEncoding{})
	le := v.(*lazyEncoding)
	le.once.Do(func() {
		le.enc, le.err = tiktoken.GetEncoding(name)
		if le.err != nil {
			le.err = fmt.Errorf("load tiktoken encoding %s: %w", name, le.err)
		}
	})
	return le.enc, le.err
}

// TiktokenTokenizer 使用 tiktoken 编码计数。编码数据在第一次计数时加载，
// 加载失败时每次调用都返回同一错误，由 Counter 回落到估算器。
type TiktokenTokenizer struct {
	encoding  string
	maxTokens int
}

// NewTiktokenTokenizer 创建指定编码的分词器
func NewTiktokenTokenizer(encoding string, maxTokens int) *TiktokenTokenizer {
	return &TiktokenTokenizer{encoding: encoding, maxTokens: maxTokens}
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	enc, err := loadEncoding(t.encoding)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []types.Message) (int, error) {
	enc, err := loadEncoding(t.encoding)
	if err != nil {
		return 0, err
	}
	total := replyPrimerTokens
	for _, msg := range messages {
		total += perMessageOverhead +
			len(enc.Encode(string(msg.Role), nil, nil)) +
			len(enc.Encode(msg.Content, nil, nil))
	}
	return total, nil
}

func (t *TiktokenTokenizer) MaxTokens() int { return t.maxTokens }

func (t *TiktokenTokenizer) Name() string { return "tiktoken/" + t.encoding }

// RegisterOpenAI 为已知的 OpenAI 模型族登记 tiktoken 分词器
func RegisterOpenAI(r *Registry) {
	for _, f := range openAIFamilies {
		r.Register(f.prefix, NewTiktokenTokenizer(f.encoding, f.maxTokens))
	}
}
