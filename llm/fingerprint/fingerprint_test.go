package fingerprint

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/llmgate/types"
)

func mustFingerprint(t *testing.T, f Fingerprinter, req *types.Request) string {
	t.Helper()
	key, err := f.Fingerprint(req)
	require.NoError(t, err)
	return key
}

func TestFingerprint_Format(t *testing.T) {
	f := New(DefaultDefaults())
	key := mustFingerprint(t, f, &types.Request{Prompt: "hello"})

	assert.True(t, strings.HasPrefix(key, Prefix))
	assert.Len(t, key, len(Prefix)+64)
}

func TestFingerprint_DefaultsEquivalence(t *testing.T) {
	f := New(DefaultDefaults())

	omitted := &types.Request{Prompt: "summarize this"}
	explicit := &types.Request{
		Model:       "default",
		Prompt:      "summarize this",
		Temperature: types.Float64(0.7),
		MaxTokens:   4000,
	}

	assert.Equal(t, mustFingerprint(t, f, omitted), mustFingerprint(t, f, explicit))
}

func TestFingerprint_ZeroTemperatureIsNotDefault(t *testing.T) {
	f := New(DefaultDefaults())

	omitted := &types.Request{Prompt: "x"}
	zero := &types.Request{Prompt: "x", Temperature: types.Float64(0)}

	assert.NotEqual(t, mustFingerprint(t, f, omitted), mustFingerprint(t, f, zero))
}

func TestFingerprint_TrimsWhitespace(t *testing.T) {
	f := New(DefaultDefaults())

	a := &types.Request{Prompt: "  hello world\n"}
	b := &types.Request{Prompt: "hello world"}
	assert.Equal(t, mustFingerprint(t, f, a), mustFingerprint(t, f, b))

	c := &types.Request{Messages: []types.Message{{Role: types.RoleUser, Content: " hi "}}}
	d := &types.Request{Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}}}
	assert.Equal(t, mustFingerprint(t, f, c), mustFingerprint(t, f, d))
}

func TestFingerprint_DistinctRequests(t *testing.T) {
	f := New(DefaultDefaults())

	tests := []struct {
		name string
		a, b *types.Request
	}{
		{"prompt", &types.Request{Prompt: "a"}, &types.Request{Prompt: "b"}},
		{"model", &types.Request{Model: "m1", Prompt: "a"}, &types.Request{Model: "m2", Prompt: "a"}},
		{"endpoint", &types.Request{Endpoint: "/v1/x", Prompt: "a"}, &types.Request{Endpoint: "/v1/y", Prompt: "a"}},
		{"max tokens", &types.Request{MaxTokens: 10, Prompt: "a"}, &types.Request{MaxTokens: 20, Prompt: "a"}},
		{"temperature", &types.Request{Temperature: types.Float64(0.1), Prompt: "a"}, &types.Request{Temperature: types.Float64(0.2), Prompt: "a"}},
		{"params", &types.Request{Prompt: "a", Params: map[string]any{"top_p": 0.9}}, &types.Request{Prompt: "a", Params: map[string]any{"top_p": 0.8}}},
		{
			"message role",
			&types.Request{Messages: []types.Message{{Role: types.RoleSystem, Content: "a"}}},
			&types.Request{Messages: []types.Message{{Role: types.RoleUser, Content: "a"}}},
		},
		{
			"message order",
			&types.Request{Messages: []types.Message{{Role: types.RoleUser, Content: "a"}, {Role: types.RoleUser, Content: "b"}}},
			&types.Request{Messages: []types.Message{{Role: types.RoleUser, Content: "b"}, {Role: types.RoleUser, Content: "a"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, mustFingerprint(t, f, tt.a), mustFingerprint(t, f, tt.b))
		})
	}
}

func TestFingerprint_ParamsKeyOrderIrrelevant(t *testing.T) {
	f := New(DefaultDefaults())

	var p1, p2 map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"b":1,"a":{"y":2,"x":[1,2]}}`), &p1))
	require.NoError(t, json.Unmarshal([]byte(`{"a":{"x":[1,2],"y":2},"b":1}`), &p2))

	a := &types.Request{Prompt: "p", Params: p1}
	b := &types.Request{Prompt: "p", Params: p2}
	assert.Equal(t, mustFingerprint(t, f, a), mustFingerprint(t, f, b))
}

func TestFingerprint_Errors(t *testing.T) {
	f := New(DefaultDefaults())

	_, err := f.Fingerprint(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = f.Fingerprint(&types.Request{Prompt: "x", Params: map[string]any{"bad": make(chan int)}})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestGroupKey(t *testing.T) {
	f := New(DefaultDefaults())

	assert.Equal(t, "default@", f.GroupKey(&types.Request{Prompt: "x"}))
	assert.Equal(t, "gpt-4@/v1/chat", f.GroupKey(&types.Request{Model: "gpt-4", Endpoint: "/v1/chat"}))
	assert.Equal(t, "default", f.GroupKey(nil))
}

func TestNew_CustomDefaults(t *testing.T) {
	f := New(Defaults{Model: "m", MaxTokens: 10})

	a := &types.Request{Prompt: "x"}
	b := &types.Request{Prompt: "x", Model: "m", MaxTokens: 10, Temperature: types.Float64(0.7)}
	assert.Equal(t, mustFingerprint(t, f, a), mustFingerprint(t, f, b))
}

func TestNew_ZeroTemperatureDefault(t *testing.T) {
	f := New(Defaults{Model: "m", Temperature: types.Float64(0), MaxTokens: 10})

	omitted := &types.Request{Prompt: "x"}
	explicit := &types.Request{Prompt: "x", Temperature: types.Float64(0)}
	assert.Equal(t, mustFingerprint(t, f, omitted), mustFingerprint(t, f, explicit))

	other := &types.Request{Prompt: "x", Temperature: types.Float64(0.7)}
	assert.NotEqual(t, mustFingerprint(t, f, omitted), mustFingerprint(t, f, other))
}

// 指纹对相同逻辑输入是确定性的，对不同 prompt 是单射的
func TestProperty_Fingerprint_Deterministic(t *testing.T) {
	f := New(DefaultDefaults())

	rapid.Check(t, func(rt *rapid.T) {
		prompt := rapid.StringMatching(`[a-zA-Z0-9 ]{0,40}`).Draw(rt, "prompt")
		model := rapid.SampledFrom([]string{"", "default", "gpt-4", "qwen"}).Draw(rt, "model")
		nParams := rapid.IntRange(0, 5).Draw(rt, "nParams")

		params := make(map[string]any, nParams)
		reversed := make(map[string]any, nParams)
		keys := make([]string, 0, nParams)
		for i := 0; i < nParams; i++ {
			k := fmt.Sprintf("k%d", i)
			v := rapid.IntRange(-100, 100).Draw(rt, k)
			params[k] = v
			keys = append(keys, k)
		}
		for i := len(keys) - 1; i >= 0; i-- {
			reversed[keys[i]] = params[keys[i]]
		}

		a, err := f.Fingerprint(&types.Request{Model: model, Prompt: prompt, Params: params})
		require.NoError(rt, err)
		b, err := f.Fingerprint(&types.Request{Model: model, Prompt: prompt, Params: reversed})
		require.NoError(rt, err)
		if a != b {
			rt.Fatalf("fingerprint not deterministic: %s != %s", a, b)
		}

		other := rapid.StringMatching(`[a-zA-Z0-9 ]{0,40}`).Draw(rt, "other")
		if strings.TrimSpace(other) != strings.TrimSpace(prompt) {
			c, err := f.Fingerprint(&types.Request{Model: model, Prompt: other, Params: params})
			require.NoError(rt, err)
			if a == c {
				rt.Fatalf("distinct prompts %q and %q collided", prompt, other)
			}
		}
	})
}
