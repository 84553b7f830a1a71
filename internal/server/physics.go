package server

// PhysicsSystem is advanced once per tick before the level update. Queries
// that must see the world as a client saw it run inside WithLagCompensation.
type PhysicsSystem interface {
	Step(dt float64)
}

// NoPhysics is a PhysicsSystem that does nothing.
type NoPhysics struct{}

func (NoPhysics) Step(float64) {}
