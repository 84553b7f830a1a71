package level

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opendrakan/statesync/pkg/core"
)

// Loader produces a level from its path.
type Loader interface {
	Load(path string) (*Level, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (*Level, error)

func (f LoaderFunc) Load(path string) (*Level, error) { return f(path) }

type fileDescription struct {
	Objects []objectDescription `json:"objects"`
}

type objectDescription struct {
	ID       uint32             `json:"id"`
	Class    string             `json:"class"`
	Position *[3]float32        `json:"position,omitempty"`
	Rotation *[4]float32        `json:"rotation,omitempty"`
	Scale    *[3]float32        `json:"scale,omitempty"`
	Hidden   bool               `json:"hidden,omitempty"`
	Behavior string             `json:"behavior,omitempty"`
	Params   map[string]float64 `json:"params,omitempty"`
}

// FileLoader reads JSON level descriptions relative to Root.
type FileLoader struct {
	Registry *Registry
	Root     string
}

func (fl *FileLoader) Load(path string) (*Level, error) {
	data, err := os.ReadFile(filepath.Join(fl.Root, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("reading level %s: %w", path, err)
	}
	return Parse(path, data, fl.Registry)
}

// Parse builds a level from a JSON description.
func Parse(path string, data []byte, reg *Registry) (*Level, error) {
	var desc fileDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parsing level %s: %w", path, err)
	}

	lvl := New(path)
	for _, od := range desc.Objects {
		class, err := reg.Class(od.Class)
		if err != nil {
			return nil, fmt.Errorf("level %s object %d: %w", path, od.ID, err)
		}
		spec := ObjectSpec{
			ID:      core.LevelObjectId(od.ID),
			Class:   class.Name,
			Visible: !od.Hidden,
		}
		if od.Position != nil {
			spec.Transform = spec.Transform.Merge(core.Translation(core.Vec3{X: od.Position[0], Y: od.Position[1], Z: od.Position[2]}))
		}
		if od.Rotation != nil {
			spec.Transform = spec.Transform.Merge(core.Rotation(core.Quat{W: od.Rotation[0], X: od.Rotation[1], Y: od.Rotation[2], Z: od.Rotation[3]}))
		}
		if od.Scale != nil {
			spec.Transform = spec.Transform.Merge(core.Scaling(core.Vec3{X: od.Scale[0], Y: od.Scale[1], Z: od.Scale[2]}))
		}
		if class.NewState != nil {
			spec.Custom = class.NewState()
		}
		if od.Behavior != "" {
			if spec.Behavior, err = reg.Behavior(od.Behavior, od.Params); err != nil {
				return nil, fmt.Errorf("level %s object %d: %w", path, od.ID, err)
			}
		}
		if _, err := lvl.AddObject(spec); err != nil {
			return nil, fmt.Errorf("level %s: %w", path, err)
		}
	}
	return lvl, nil
}
