package hardware

// Pose groups a positioning action with the actions that depend on it, such
// as a capture taken once the camera has arrived.
type Pose struct {
	Position *Action
	Payload  []Action
}

func NewPose(position Action, payload ...Action) Pose {
	p := Pose{Position: &position}
	if len(payload) > 0 {
		p.Payload = append([]Action(nil), payload...)
	}
	return p
}

// Actions flattens the pose, leaving out a missing position.
func (p Pose) Actions() []Action {
	actions := make([]Action, 0, len(p.Payload)+1)
	if p.Position != nil {
		actions = append(actions, *p.Position)
	}
	return append(actions, p.Payload...)
}

// SequencedActions flattens the pose keeping a nil slot for a missing
// position, so index 0 is always the position.
func (p Pose) SequencedActions() []*Action {
	actions := make([]*Action, 0, len(p.Payload)+1)
	actions = append(actions, p.Position)
	for i := range p.Payload {
		a := p.Payload[i]
		actions = append(actions, &a)
	}
	return actions
}

func FlattenPoses(poses []Pose) (actions []Action) {
	for _, p := range poses {
		actions = append(actions, p.Actions()...)
	}
	return
}
