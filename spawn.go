package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SpawnBatch creates n entities and attaches a copy of every value to each of
// them. Pools are grown once up front. When the registry cannot hold n more
// entities nothing is created and ErrExhausted is returned.
func SpawnBatch(w *World, n int, values ...any) ([]Entity, error) {
	if err := w.checkStructural(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if remaining := w.registry.Remaining(); remaining >= 0 && n > remaining {
		return nil, eris.Wrapf(ErrExhausted, "spawn %d entities with %d slots left", n, remaining)
	}

	pools := make([]erasedPool, len(values))
	seen := make(map[reflect.Type]struct{}, len(values))
	for i, v := range values {
		typ := reflect.TypeOf(v)
		if _, dup := seen[typ]; dup {
			return nil, eris.Wrapf(ErrDuplicateComponent, "%s listed twice", typ)
		}
		seen[typ] = struct{}{}
		p, err := w.poolByType(typ)
		if err != nil {
			return nil, err
		}
		pools[i] = p
	}
	for _, p := range pools {
		p.reserve(p.Len() + n)
	}

	out := make([]Entity, 0, n)
	for i := 0; i < n; i++ {
		e, err := w.registry.Create()
		if err != nil {
			for _, created := range out {
				_ = w.destroy(created)
			}
			return nil, err
		}
		for j, p := range pools {
			// Cannot fail: e is fresh and p was resolved from the value's type.
			_ = p.addAny(e, values[j])
			w.afterAttach(p, e)
		}
		out = append(out, e)
	}
	w.logger.Debug("spawned batch", zap.Int("entities", n), zap.Int("components", len(pools)))
	return out, nil
}
