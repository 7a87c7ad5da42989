package cache

import (
	"sync"

	"github.com/ormbridge/ormbridge-go/internal/models"
)

// MetricType names a scalar aggregate.
type MetricType string

const (
	MetricCount MetricType = "count"
	MetricSum   MetricType = "sum"
	MetricMin   MetricType = "min"
	MetricMax   MetricType = "max"
)

// Strategy computes an optimistic aggregate from the server value and the
// ground-truth/optimistic entity slices. A nil result means "no value".
type Strategy interface {
	Calculate(groundTruthValue *float64, groundTruth, optimistic []models.Entity, field string) *float64
}

// CountStrategy adjusts the server count by the optimistic membership delta.
// When a field is named, only entities with a non-null field are counted.
type CountStrategy struct{}

func (CountStrategy) Calculate(gtv *float64, ground, optimistic []models.Entity, field string) *float64 {
	count := func(items []models.Entity) int {
		if field == "" {
			return len(items)
		}
		n := 0
		for _, e := range items {
			if v, ok := e[field]; ok && v != nil {
				n++
			}
		}
		return n
	}
	base := 0.0
	if gtv != nil {
		base = *gtv
	}
	v := base + float64(count(optimistic)-count(ground))
	if v < 0 {
		v = 0
	}
	return &v
}

// SumStrategy adjusts the server sum by the delta of the field across the
// slices. String numerics are coerced; non-numerics are discarded.
type SumStrategy struct{}

func (SumStrategy) Calculate(gtv *float64, ground, optimistic []models.Entity, field string) *float64 {
	if field == "" {
		return gtv
	}
	sum := func(items []models.Entity) float64 {
		total := 0.0
		for _, e := range items {
			if n, ok := models.Numeric(e[field]); ok {
				total += n
			}
		}
		return total
	}
	base := 0.0
	if gtv != nil {
		base = *gtv
	}
	v := base + sum(optimistic) - sum(ground)
	return &v
}

// MinStrategy lowers the server minimum when the optimistic slice contains a
// smaller value; it never raises it.
type MinStrategy struct{}

func (MinStrategy) Calculate(gtv *float64, _, optimistic []models.Entity, field string) *float64 {
	if field == "" {
		return gtv
	}
	m := sliceExtreme(optimistic, field, func(a, b float64) bool { return a < b })
	if m == nil {
		return gtv
	}
	if gtv == nil {
		return m
	}
	if *m < *gtv {
		return m
	}
	return gtv
}

// MaxStrategy raises the server maximum when the optimistic slice contains a
// larger value; it never lowers it.
type MaxStrategy struct{}

func (MaxStrategy) Calculate(gtv *float64, _, optimistic []models.Entity, field string) *float64 {
	if field == "" {
		return gtv
	}
	m := sliceExtreme(optimistic, field, func(a, b float64) bool { return a > b })
	if m == nil {
		return gtv
	}
	if gtv == nil {
		return m
	}
	if *m > *gtv {
		return m
	}
	return gtv
}

// sliceExtreme returns the extreme numeric value of field across items, or
// nil when no entity carries a numeric value.
func sliceExtreme(items []models.Entity, field string, better func(a, b float64) bool) *float64 {
	var out *float64
	for _, e := range items {
		n, ok := models.Numeric(e[field])
		if !ok {
			continue
		}
		if out == nil || better(n, *out) {
			v := n
			out = &v
		}
	}
	return out
}

// defaultStrategy resolves the built-in strategy for a metric type.
func defaultStrategy(metric MetricType) Strategy {
	switch metric {
	case MetricCount:
		return CountStrategy{}
	case MetricSum:
		return SumStrategy{}
	case MetricMin:
		return MinStrategy{}
	case MetricMax:
		return MaxStrategy{}
	default:
		return nil
	}
}

type strategyKey struct {
	metric   MetricType
	classKey string // empty for process-wide overrides
}

// StrategyFactory resolves metric strategies with override precedence:
// (metric, model class) over (metric, any model) over built-in defaults.
type StrategyFactory struct {
	mu        sync.Mutex
	overrides map[strategyKey]Strategy
}

// NewStrategyFactory returns a factory with no overrides.
func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{overrides: make(map[strategyKey]Strategy)}
}

// Register installs an override. A nil class registers a process-wide
// override for the metric type.
func (f *StrategyFactory) Register(metric MetricType, class *models.ModelClass, s Strategy) {
	key := strategyKey{metric: metric}
	if class != nil {
		key.classKey = class.Key()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[key] = s
}

// StrategyFor resolves the strategy for a metric on a model class.
func (f *StrategyFactory) StrategyFor(metric MetricType, class models.ModelClass) Strategy {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.overrides[strategyKey{metric: metric, classKey: class.Key()}]; ok {
		return s
	}
	if s, ok := f.overrides[strategyKey{metric: metric}]; ok {
		return s
	}
	return defaultStrategy(metric)
}
