package call

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	HangUp
)

// Policy decides what to do when the phone leg could not take an outbound frame in time.
type Policy interface {
	OnSendDrop(consecutive int) BackpressureAction
}

// DropPolicy drops frames and hangs up after MaxDrops consecutive drops.
// MaxDrops <= 0 never hangs up.
type DropPolicy struct {
	MaxDrops int
}

func (p DropPolicy) OnSendDrop(consecutive int) BackpressureAction {
	if p.MaxDrops > 0 && consecutive >= p.MaxDrops {
		return HangUp
	}
	return DropFrame
}
