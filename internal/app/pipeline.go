package app

import (
	"time"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
)

// run is the pipeline loop. The capture rate idles low and ramps up while
// the motion gate is open; detection only runs on gated frames.
func (a *App) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	active := false
	interval := time.Second / time.Duration(a.idleFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !a.IsEnabled() {
				continue
			}

			frame, err := a.source.Read()
			if err != nil {
				a.log.WithFields(logging.Fields{"error": err.Error()}).Debug("read frame")
				continue
			}

			open, _ := a.gate.Observe(frame, time.Now())
			if open != active {
				active = open
				fps := a.idleFPS
				if active {
					fps = a.activeFPS
				}
				a.source.SetFPS(fps)
				ticker.Reset(time.Second / time.Duration(fps))
				a.log.WithFields(logging.Fields{"active": active}).Debug("motion gate switched")
			}

			if !open {
				frame.Close()
				continue
			}

			hands, err := a.det.DetectMat(frame)
			frame.Close()
			if err != nil {
				a.log.WithFields(logging.Fields{"error": err.Error()}).Warn("detect hands")
				continue
			}

			a.record(hands)
		}
	}
}

// record persists one gated frame's detections to the live session.
func (a *App) record(hands []detector.Hand) {
	if len(hands) > 0 {
		a.log.WithFields(logging.Fields{"hands": len(hands)}).Debug("hands detected")
	}

	sessionID := a.SessionID()
	if a.config.Store == nil || sessionID == "" {
		return
	}
	if err := a.config.Store.Sessions().RecordHands(sessionID, hands); err != nil {
		a.log.WithFields(logging.Fields{"error": err.Error()}).Warn("persist detections")
	}
}
