package strategy

type State string

type Event string

const (
	StateFlat     State = "FLAT"
	StateEntering State = "ENTERING"
	StateEntered  State = "ENTERED"
	StateScaling  State = "SCALING"
	StateCapped   State = "CAPPED"
	StateClosing  State = "CLOSING"
)

const (
	EventEnter  Event = "ENTER"
	EventFilled Event = "FILLED"
	EventScale  Event = "SCALE"
	EventCap    Event = "CAP"
	EventClose  Event = "CLOSE"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position is the exposure held on one side of the hedge. It is mutated
// only from confirmed fills, never speculatively.
type Position struct {
	Side             Side
	Symbol           string
	TotalNotionalUSD float64
	LegsFilled       int
	AvgEntryPrice    float64
}

func (p Position) Flat() bool {
	return p.LegsFilled == 0 && p.TotalNotionalUSD == 0
}

// ApplyFill folds a confirmed fill into the position, keeping the
// notional-weighted average entry price.
func (p *Position) ApplyFill(notionalUSD, avgPrice float64) {
	if notionalUSD <= 0 {
		return
	}
	total := p.TotalNotionalUSD + notionalUSD
	if avgPrice > 0 {
		p.AvgEntryPrice = (p.AvgEntryPrice*p.TotalNotionalUSD + avgPrice*notionalUSD) / total
	}
	p.TotalNotionalUSD = total
	p.LegsFilled++
}

func (p *Position) Clear() {
	p.TotalNotionalUSD = 0
	p.LegsFilled = 0
	p.AvgEntryPrice = 0
}

type ActionKind string

const (
	ActionNone        ActionKind = "NONE"
	ActionOpenInitial ActionKind = "OPEN_INITIAL"
	ActionScaleIn     ActionKind = "SCALE_IN"
	ActionCapReached  ActionKind = "CAP_REACHED"
)

// Action is the sizer's verdict for one side on one tick. LegIndex and
// NotionalUSD are set only for OPEN_INITIAL and SCALE_IN.
type Action struct {
	Kind        ActionKind
	LegIndex    int
	NotionalUSD float64
}
