package model

// Receiver is a mobile terminal (UE). Its height is fixed by the
// propagation config, so only the position is tracked here.
type Receiver struct {
	ID   string
	Name string

	Position Position
}

// Clone returns a copy of the receiver.
func (r *Receiver) Clone() *Receiver {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
