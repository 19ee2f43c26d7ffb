package limits

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultMaxUnits         = 180000
	DefaultMaxChars         = 720000
	DefaultWarningThreshold = 150000
)

// Upper bounds keep the budget arithmetic (MaxUnits*63, MaxChars*9) inside
// an int.
const (
	MaxUnitsCeiling = math.MaxInt / 64
	MaxCharsCeiling = math.MaxInt / 16
)

var ErrInvalidLimits = errors.New("invalid limits")

// Limits bounds how much text may be sent to the downstream consumer in a
// single call. Values are always fully populated; build them with Default,
// New or Overrides.Limits.
type Limits struct {
	MaxUnits         int `json:"max_units" yaml:"max_units"`
	MaxChars         int `json:"max_chars" yaml:"max_chars"`
	WarningThreshold int `json:"warning_threshold" yaml:"warning_threshold"`
}

type Option func(*Limits)

func WithMaxUnits(n int) Option {
	return func(l *Limits) { l.MaxUnits = n }
}

func WithMaxChars(n int) Option {
	return func(l *Limits) { l.MaxChars = n }
}

func WithWarningThreshold(n int) Option {
	return func(l *Limits) { l.WarningThreshold = n }
}

func Default() Limits {
	return Limits{
		MaxUnits:         DefaultMaxUnits,
		MaxChars:         DefaultMaxChars,
		WarningThreshold: DefaultWarningThreshold,
	}
}

// New applies opts over the defaults and rejects combinations that break
// the ordering between the warning line and the hard ceiling.
func New(opts ...Option) (Limits, error) {
	l := Default()
	for _, opt := range opts {
		opt(&l)
	}
	if err := l.Check(); err != nil {
		return Limits{}, err
	}
	return l, nil
}

func (l Limits) Check() error {
	if l.MaxUnits < 1 || l.MaxUnits > MaxUnitsCeiling {
		return fmt.Errorf("%w: max_units must be in [1, %d], got %d", ErrInvalidLimits, MaxUnitsCeiling, l.MaxUnits)
	}
	if l.MaxChars < 1 || l.MaxChars > MaxCharsCeiling {
		return fmt.Errorf("%w: max_chars must be in [1, %d], got %d", ErrInvalidLimits, MaxCharsCeiling, l.MaxChars)
	}
	// zero is how Overrides spells "unset", so it cannot be a threshold
	if l.WarningThreshold < 1 || l.WarningThreshold >= l.MaxUnits {
		return fmt.Errorf("%w: warning_threshold must be in [1, max_units), got %d (max_units %d)",
			ErrInvalidLimits, l.WarningThreshold, l.MaxUnits)
	}
	return nil
}

// Overrides is the partial form read from configuration files and request
// bodies. Zero fields inherit the defaults.
type Overrides struct {
	MaxUnits         int `json:"max_units,omitempty" yaml:"max_units"`
	MaxChars         int `json:"max_chars,omitempty" yaml:"max_chars"`
	WarningThreshold int `json:"warning_threshold,omitempty" yaml:"warning_threshold"`
}

func (o Overrides) Options() []Option {
	var opts []Option
	if o.MaxUnits != 0 {
		opts = append(opts, WithMaxUnits(o.MaxUnits))
	}
	if o.MaxChars != 0 {
		opts = append(opts, WithMaxChars(o.MaxChars))
	}
	if o.WarningThreshold != 0 {
		opts = append(opts, WithWarningThreshold(o.WarningThreshold))
	}
	return opts
}

func (o Overrides) Limits() (Limits, error) {
	return New(o.Options()...)
}
