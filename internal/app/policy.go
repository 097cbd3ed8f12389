package app

import "github.com/ripplechat/ripple/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickConn
	DropFrame
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(cid core.ConnID) BackpressureAction
}

// DropPolicy just drops the frame. The relay is a volatile notification
// layer; losing an event to a slow consumer is acceptable, killing a live
// chat connection over one dropped typing indicator is not.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.ConnID) BackpressureAction { return DropFrame }

// KickPolicy disconnects slow consumers so they reconnect with a clean pipe.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.ConnID) BackpressureAction { return KickConn }
