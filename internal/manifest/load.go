package manifest

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cohesix/root/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the TOML manifest at path, decodes it with the ambient
// defaults applied, and validates it. An empty path means "defaults only",
// used by tests and by a bare boot with no --manifest flag.
func Load(path string) (*Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("COHESIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", path, err)
	}

	var m Manifest
	if err := v.Unmarshal(&m, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("decode manifest %q: %w", path, err)
	}

	ApplyDefaults(&m)

	if err := Validate(&m); err != nil {
		return nil, fmt.Errorf("validate manifest %q: %w", path, err)
	}

	return &m, nil
}

// decodeHooks composes the mapstructure decode hooks for ByteSize and
// time.Duration fields, mirroring dittofs's pkg/config decode pipeline.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v) * time.Second, nil
		default:
			return data, nil
		}
	}
}
