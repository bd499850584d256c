// Package config holds the robot's key-addressable parameter store. Keys are colon separated
// paths such as "tankdrive:distance_action:maxa".
package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// KeySeparator joins the segments of a settings key.
const KeySeparator = ":"

// Join builds a settings key from its segments.
func Join(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

// Store is a concurrency safe flat map of settings. Values are read once when an action is
// constructed, so replacing the contents only affects actions built afterwards.
type Store struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewStore builds a store from a possibly nested map. Nested maps are flattened into colon keys.
func NewStore(values map[string]interface{}) *Store {
	return &Store{values: flatten(values)}
}

func flatten(values map[string]interface{}) map[string]interface{} {
	flat := map[string]interface{}{}
	var walk func(prefix string, val interface{})
	walk = func(prefix string, val interface{}) {
		switch v := val.(type) {
		case map[string]interface{}:
			for key, sub := range v {
				walk(joinPrefix(prefix, key), sub)
			}
		case map[interface{}]interface{}:
			for key, sub := range v {
				walk(joinPrefix(prefix, cast.ToString(key)), sub)
			}
		default:
			flat[prefix] = val
		}
	}
	for key, val := range values {
		walk(key, val)
	}
	return flat
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + KeySeparator + key
}

// Replace swaps the full contents of the store.
func (s *Store) Replace(values map[string]interface{}) {
	flat := flatten(values)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = flat
}

// Set stores a single value.
func (s *Store) Set(key string, val interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = map[string]interface{}{}
	}
	s.values[key] = val
}

// Has returns whether the key is set.
func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Get returns the raw value for a key.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok
}

// Keys returns every key in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (s *Store) required(key string) (interface{}, error) {
	val, ok := s.Get(key)
	if !ok {
		return nil, NewMissingKeyError(key)
	}
	return val, nil
}

// Float64 returns a required numeric parameter.
func (s *Store) Float64(key string) (float64, error) {
	val, err := s.required(key)
	if err != nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(val)
	if err != nil {
		return 0, NewInvalidValueError(key, err)
	}
	return f, nil
}

// Int returns a required integer parameter.
func (s *Store) Int(key string) (int, error) {
	val, err := s.required(key)
	if err != nil {
		return 0, err
	}
	i, err := cast.ToIntE(val)
	if err != nil {
		return 0, NewInvalidValueError(key, err)
	}
	return i, nil
}

// Bool returns a required boolean parameter.
func (s *Store) Bool(key string) (bool, error) {
	val, err := s.required(key)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(val)
	if err != nil {
		return false, NewInvalidValueError(key, err)
	}
	return b, nil
}

// String returns a required parameter rendered as a string.
func (s *Store) String(key string) (string, error) {
	val, err := s.required(key)
	if err != nil {
		return "", err
	}
	str, err := cast.ToStringE(val)
	if err != nil {
		return "", NewInvalidValueError(key, err)
	}
	return str, nil
}

// Float64Or returns an optional numeric parameter, or def when it is absent or not numeric.
func (s *Store) Float64Or(key string, def float64) float64 {
	val, ok := s.Get(key)
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(val)
	if err != nil {
		return def
	}
	return f
}

// BoolOr returns an optional boolean parameter, or def when it is absent or not a boolean.
func (s *Store) BoolOr(key string, def bool) bool {
	val, ok := s.Get(key)
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(val)
	if err != nil {
		return def
	}
	return b
}

// Section returns the values under prefix as a nested map keyed by the remaining segments.
func (s *Store) Section(prefix string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	section := map[string]interface{}{}
	lead := prefix + KeySeparator
	for key, val := range s.values {
		if !strings.HasPrefix(key, lead) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(key, lead), KeySeparator)
		node := section
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = val
	}
	return section
}

type validator interface {
	Validate(path string) error
}

// Decode fills out from the section under prefix. Every name in required must be present in the
// section. When out has a `Validate(path string) error` method it is called with prefix as path.
func (s *Store) Decode(prefix string, out interface{}, required ...string) error {
	section := s.Section(prefix)
	for _, name := range required {
		if _, ok := section[name]; !ok {
			return NewMissingKeyError(Join(prefix, name))
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "building settings decoder")
	}
	if err := decoder.Decode(section); err != nil {
		return NewInvalidValueError(prefix, err)
	}

	if v, ok := out.(validator); ok {
		if err := v.Validate(prefix); err != nil {
			return NewInvalidValueError(prefix, err)
		}
	}
	return nil
}
