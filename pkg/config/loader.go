package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrNilPointer    = errors.New("config: nil target")
	ErrParsingConfig = errors.New("config: cannot parse environment")
	ErrInvalidConfig = errors.New("config: validation failed")
)

// Validator is implemented by configs that check their own invariants.
type Validator interface {
	Validate() error
}

type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	cache      sync.Map // reflect.Type -> *entry
	dotenvOnce sync.Once
)

// Load parses the environment into v. The result for each type T is cached,
// so later calls return the same values without touching the environment.
// Failed loads are not cached.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenvOnce.Do(func() {
		// A missing .env file is fine.
		_ = godotenv.Load()
	})

	key := reflect.TypeFor[T]()
	actual, _ := cache.LoadOrStore(key, &entry{})
	e := actual.(*entry)

	e.once.Do(func() {
		var parsed T
		if err := env.Parse(&parsed); err != nil {
			e.err = errors.Join(ErrParsingConfig, err)
			return
		}
		if val, ok := any(&parsed).(Validator); ok {
			if err := val.Validate(); err != nil {
				e.err = errors.Join(ErrInvalidConfig, err)
				return
			}
		}
		e.value = parsed
	})

	if e.err != nil {
		cache.CompareAndDelete(key, e)
		return e.err
	}
	*v = e.value.(T)
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
