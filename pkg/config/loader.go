package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// LoadEnv reads .env style files into the process environment. Variables
// already set win over file values. With no arguments it reads ./.env and a
// missing file is not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		var err error
		defaultEnvLoaded.Do(func() {
			if loadErr := godotenv.Load(); loadErr != nil && !errors.Is(loadErr, fs.ErrNotExist) {
				err = errors.Join(ErrLoadingEnvFile, loadErr)
			}
		})
		return err
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// Load populates v from environment variables using `env` and `envDefault`
// struct tags, reading ./.env first if present.
//
//	var cfg mailqueue.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	if err := LoadEnv(); err != nil {
		return err
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// LoadAll loads several configuration structs and reports every failure at
// once so a misconfigured deployment shows all missing variables together.
func LoadAll(targets ...any) error {
	if err := LoadEnv(); err != nil {
		return err
	}
	var errs []error
	for _, t := range targets {
		if t == nil {
			errs = append(errs, ErrNilPointer)
			continue
		}
		if err := env.Parse(t); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", t, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(ErrParsingConfig, errors.Join(errs...))
	}
	return nil
}

// MustLoad is Load that panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
