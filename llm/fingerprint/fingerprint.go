package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/llmgate/types"
)

// Prefix 是所有指纹的固定前缀
const Prefix = "llm:fp:"

const defaultTemperature = 0.7

// Defaults 在计算指纹前为缺省字段补齐的值。
// 省略字段与显式填写默认值的请求必须得到相同指纹。
type Defaults struct {
	Model string `yaml:"model" json:"model" env:"MODEL"`
	// Temperature 为 nil 时取 0.7；显式 0 是合法的默认值
	Temperature *float64 `yaml:"temperature" json:"temperature" env:"TEMPERATURE"`
	MaxTokens   int      `yaml:"max_tokens" json:"max_tokens" env:"MAX_TOKENS"`
}

// DefaultDefaults 返回默认补齐值
func DefaultDefaults() Defaults {
	return Defaults{
		Model:       "default",
		Temperature: types.Float64(defaultTemperature),
		MaxTokens:   4000,
	}
}

// Fingerprinter 将请求规范化为确定性的缓存/去重键
type Fingerprinter interface {
	Fingerprint(req *types.Request) (string, error)
}

// SHA256Fingerprinter 对规范化 JSON 做 SHA-256 摘要
type SHA256Fingerprinter struct {
	model       string
	temperature float64
	maxTokens   int
}

// New 创建指纹生成器。空模型、nil 温度与非正 MaxTokens 回退到 DefaultDefaults。
func New(defaults Defaults) *SHA256Fingerprinter {
	f := &SHA256Fingerprinter{
		model:       defaults.Model,
		temperature: defaultTemperature,
		maxTokens:   defaults.MaxTokens,
	}
	if f.model == "" {
		f.model = DefaultDefaults().Model
	}
	if defaults.Temperature != nil {
		f.temperature = *defaults.Temperature
	}
	if f.maxTokens <= 0 {
		f.maxTokens = DefaultDefaults().MaxTokens
	}
	return f
}

// Fingerprint 实现 Fingerprinter
func (f *SHA256Fingerprinter) Fingerprint(req *types.Request) (string, error) {
	data, err := f.Canonical(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}

// Canonical 返回请求的规范化表示。
// encoding/json 对 map 键逐层排序，因此 params 中的嵌套对象与字段顺序无关。
func (f *SHA256Fingerprinter) Canonical(req *types.Request) ([]byte, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("request is nil")
	}

	canonical := map[string]any{
		"model":       f.Model(req),
		"endpoint":    strings.TrimSpace(req.Endpoint),
		"message":     normalizeMessage(req),
		"temperature": f.effectiveTemperature(req),
		"max_tokens":  f.effectiveMaxTokens(req),
	}
	if len(req.Params) > 0 {
		canonical["params"] = req.Params
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, types.NewInvalidRequestError(fmt.Sprintf("request params not serializable: %v", err)).WithCause(err)
	}
	return data, nil
}

// GroupKey 返回请求所属的批处理分组键（模型 + 端点）
func (f *SHA256Fingerprinter) GroupKey(req *types.Request) string {
	if req == nil {
		return f.model
	}
	return f.Model(req) + "@" + strings.TrimSpace(req.Endpoint)
}

// Model 返回补齐默认值后的模型名
func (f *SHA256Fingerprinter) Model(req *types.Request) string {
	if m := strings.TrimSpace(req.Model); m != "" {
		return m
	}
	return f.model
}

func (f *SHA256Fingerprinter) effectiveTemperature(req *types.Request) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return f.temperature
}

func (f *SHA256Fingerprinter) effectiveMaxTokens(req *types.Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return f.maxTokens
}

// normalizeMessage 去除首尾空白；多轮消息保留角色与顺序
func normalizeMessage(req *types.Request) any {
	if len(req.Messages) == 0 {
		return strings.TrimSpace(req.Prompt)
	}
	msgs := make([]map[string]string, len(req.Messages))
	for i, m := range req.Messages {
		role := string(m.Role)
		if role == "" {
			role = string(types.RoleUser)
		}
		msgs[i] = map[string]string{
			"role":    role,
			"content": strings.TrimSpace(m.Content),
		}
	}
	return msgs
}
