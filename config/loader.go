package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/llmgate/types"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "LLMGATE"

// Loader 按 默认值 → YAML 文件 → 环境变量 的顺序构建 Config。
//
//	cfg, err := config.NewLoader().WithConfigPath("llmgate.yaml").Load()
type Loader struct {
	path       string
	prefix     string
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{prefix: DefaultEnvPrefix}
}

// WithConfigPath 指定 YAML 文件；文件不存在时只用默认值与环境变量
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.prefix = prefix
	return l
}

// WithValidator 追加一个在加载完成后执行的校验
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.mergeFile(cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), l.prefix, os.LookupEnv); err != nil {
		return nil, err
	}
	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *Config) error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return types.NewConfigurationError("read config file %s", l.path).WithCause(err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return types.NewConfigurationError("parse config file %s", l.path).WithCause(err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv 把 env 标签逐级拼成变量名，如 LLMGATE_DOWNSTREAM_BREAKER_OPEN_TIMEOUT。
// 没有 env 标签的字段（含嵌套结构体）不参与覆盖。
func applyEnv(v reflect.Value, prefix string, lookup lookupFunc) error {
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyEnv(field, key, lookup); err != nil {
				return err
			}
			continue
		}

		raw, ok := lookup(key)
		if !ok || raw == "" || !field.CanSet() {
			continue
		}
		if err := decodeEnv(field, raw); err != nil {
			return types.NewConfigurationError("env %s=%q", key, raw).WithCause(err)
		}
	}
	return nil
}

var durationType = reflect.TypeFor[time.Duration]()

func decodeEnv(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	case reflect.Pointer:
		// 可选数值，如 Defaults.Temperature
		elem := reflect.New(field.Type().Elem())
		if err := decodeEnv(elem.Elem(), raw); err != nil {
			return err
		}
		field.Set(elem)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 只使用默认值与环境变量
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
