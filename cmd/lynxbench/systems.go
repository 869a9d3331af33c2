package main

import (
	"github.com/rotisserie/eris"

	ecs "github.com/DangerosoDavo/lynx"
)

const worldSize = 1024

type Transform struct {
	X, Y, Rotation float32
}

type RigidBody struct {
	VX, VY float32
}

type Sprite struct {
	Atlas uint16
	Frame uint16
}

type HP struct {
	Current int32
	Max     int32
}

type Player struct{}

type Enemy struct{}

// Counters is a world resource the systems report into.
type Counters struct {
	Visible   int
	Respawned int
}

type componentIDs struct {
	transform, body, sprite, hp, player, enemy ecs.ComponentID
}

func registerComponents(w *ecs.World) (componentIDs, error) {
	var ids componentIDs
	var err error
	if ids.transform, err = ecs.Register[Transform](w, ecs.WithComponentName("transform")); err != nil {
		return ids, err
	}
	if ids.body, err = ecs.Register[RigidBody](w, ecs.WithComponentName("rigid_body")); err != nil {
		return ids, err
	}
	if ids.sprite, err = ecs.Register[Sprite](w, ecs.WithComponentName("sprite")); err != nil {
		return ids, err
	}
	if ids.hp, err = ecs.Register[HP](w, ecs.WithComponentName("hp")); err != nil {
		return ids, err
	}
	if ids.player, err = ecs.Register[Player](w, ecs.WithComponentName("player")); err != nil {
		return ids, err
	}
	if ids.enemy, err = ecs.Register[Enemy](w, ecs.WithComponentName("enemy")); err != nil {
		return ids, err
	}
	return ids, nil
}

func registerSystems(s *ecs.Scheduler, ids componentIDs) error {
	w := s.World()

	moving, err := w.Query(ecs.Filter{Required: []ecs.ComponentID{ids.transform, ids.body}, Hot: true})
	if err != nil {
		return eris.Wrap(err, "movement query")
	}
	wounded, err := w.Query(ecs.Filter{Required: []ecs.ComponentID{ids.hp, ids.enemy}, Hot: true})
	if err != nil {
		return eris.Wrap(err, "damage query")
	}
	mortal, err := w.Query(ecs.Filter{Required: []ecs.ComponentID{ids.hp}, Excluded: []ecs.ComponentID{ids.player}})
	if err != nil {
		return eris.Wrap(err, "reaper query")
	}
	drawable, err := w.Query(ecs.Filter{Required: []ecs.ComponentID{ids.transform, ids.sprite}})
	if err != nil {
		return eris.Wrap(err, "render query")
	}

	err = s.RegisterSystem("movement", []ecs.ComponentID{ids.body}, []ecs.ComponentID{ids.transform},
		func(w *ecs.World, _ *ecs.CommandBuffer) error {
			step, _ := ecs.Resource[ecs.StepInfo](w)
			dt := float32(step.Delta.Seconds())
			return ecs.Each2(moving, func(_ ecs.Entity, t *Transform, b *RigidBody) {
				t.X = wrap(t.X + b.VX*dt*60)
				t.Y = wrap(t.Y + b.VY*dt*60)
			})
		})
	if err != nil {
		return err
	}

	err = s.RegisterSystem("damage", []ecs.ComponentID{ids.enemy}, []ecs.ComponentID{ids.hp},
		func(w *ecs.World, _ *ecs.CommandBuffer) error {
			hp, err := ecs.GroupSlice[HP](wounded)
			if err != nil {
				return err
			}
			for i := range hp {
				hp[i].Current--
			}
			return nil
		})
	if err != nil {
		return err
	}

	err = s.RegisterSystem("reaper", []ecs.ComponentID{ids.hp}, nil,
		func(w *ecs.World, cmd *ecs.CommandBuffer) error {
			return ecs.Each1(mortal, func(e ecs.Entity, hp *HP) {
				if hp.Current > 0 {
					return
				}
				cmd.Destroy(e)
				spawn := cmd.Create()
				cmd.Attach(spawn, Transform{X: worldSize / 2, Y: worldSize / 2})
				cmd.Attach(spawn, RigidBody{VX: 0.5, VY: -0.5})
				cmd.Attach(spawn, Sprite{Atlas: 2})
				cmd.Attach(spawn, HP{Current: hp.Max, Max: hp.Max})
				cmd.Attach(spawn, Enemy{})
				cmd.Defer(func(w *ecs.World) error {
					if c, ok := ecs.Resource[Counters](w); ok {
						c.Respawned++
					}
					return nil
				})
			})
		}, ecs.RunEvery(4, 0))
	if err != nil {
		return err
	}

	return s.RegisterSystem("render_count", []ecs.ComponentID{ids.transform, ids.sprite}, nil,
		func(w *ecs.World, _ *ecs.CommandBuffer) error {
			visible := 0
			for e := range drawable.All() {
				t, _ := ecs.TryGet[Transform](w, e)
				if t != nil && t.X < worldSize/2 && t.Y < worldSize/2 {
					visible++
				}
			}
			if c, ok := ecs.Resource[Counters](w); ok {
				c.Visible = visible
			}
			return nil
		}, ecs.OnError(ecs.ErrorPolicyContinue))
}

func wrap(v float32) float32 {
	switch {
	case v < 0:
		return v + worldSize
	case v >= worldSize:
		return v - worldSize
	default:
		return v
	}
}
