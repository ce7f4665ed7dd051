package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/gridwatt/smart-meter-server/database"
	"github.com/gridwatt/smart-meter-server/models"
	"github.com/gridwatt/smart-meter-server/protocol"
)

const (
	authReadTimeout = 10 * time.Second
	sendTimeout     = 5 * time.Second
	idleTimeout     = 120 * time.Second
)

var errAuthFailed = errors.New("invalid client auth")

// SessionConfig carries the per-process pricing applied to every session.
type SessionConfig struct {
	PricePerUnit        float64
	DailyStandingCharge float64
}

// Session drives one authenticated meter connection: auth handshake,
// alert-store subscription with replay, then the steady-state multiplex of
// inbound readings, alert events and the idle timer. Teardown (unsubscribe,
// flush) runs on every exit path.
type Session struct {
	transport protocol.Transport
	alerts    *AlertStore
	db        database.Store
	cfg       SessionConfig
}

func NewSession(transport protocol.Transport, alerts *AlertStore, db database.Store, cfg SessionConfig) *Session {
	return &Session{transport: transport, alerts: alerts, db: db, cfg: cfg}
}

// Run executes the session to completion. The transport is closed before
// returning.
func (s *Session) Run() error {
	defer s.transport.Close()

	cid, err := s.authenticate()
	if err != nil {
		return err
	}
	logger := log.WithField("cid", cid)

	replay, events, ok := s.alerts.Subscribe(cid)
	if !ok {
		logger.Error("already connected")
		if err := s.transport.WriteFrame([]byte(protocol.AlreadyConnected), sendTimeout); err != nil {
			return err
		}
		return nil
	}
	defer s.alerts.Unsubscribe(cid)

	if replay != nil {
		if err := s.sendGridIssue(replay.Error); err != nil {
			return fmt.Errorf("replay standing alert: %w", err)
		}
		logger.Debug("sent current power grid error")
	}

	ctx, err := NewConnectionContext(fmt.Sprintf("%d", cid), s.cfg.PricePerUnit, s.cfg.DailyStandingCharge, s.db)
	if err != nil {
		return fmt.Errorf("billing context for client %d: %w", cid, err)
	}
	logger.Info("authenticated client")

	if err := s.steadyState(ctx, events, logger); err != nil {
		logger.WithError(err).Error("session loop failed")
	}

	if err := ctx.Flush(); err != nil {
		return fmt.Errorf("flush on teardown: %w", err)
	}
	return nil
}

// authenticate reads the auth frame under a deadline, verifies the bcrypt
// token against the stored hash and answers with the fixed ASCII responses.
func (s *Session) authenticate() (uint64, error) {
	if err := s.transport.SetReadDeadline(time.Now().Add(authReadTimeout)); err != nil {
		return 0, err
	}
	frame, err := s.transport.ReadFrame()
	if err != nil {
		return 0, fmt.Errorf("read auth message: %w", err)
	}

	var auth protocol.Auth
	if err := json.Unmarshal(frame, &auth); err != nil {
		return 0, fmt.Errorf("decode auth message: %w", err)
	}

	hash, err := s.db.ClientExists(fmt.Sprintf("%d", auth.ID))
	if err != nil {
		return 0, err
	}
	if hash == "" {
		if err := s.transport.WriteFrame([]byte(protocol.AuthFailed), sendTimeout); err != nil {
			return 0, err
		}
		return 0, errAuthFailed
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(auth.Token)) != nil {
		if err := s.transport.WriteFrame([]byte(protocol.AuthFailed), sendTimeout); err != nil {
			return 0, err
		}
		return 0, errAuthFailed
	}

	if err := s.transport.WriteFrame([]byte(protocol.AuthSuccessful), sendTimeout); err != nil {
		return 0, err
	}
	return auth.ID, nil
}

type inboundFrame struct {
	payload []byte
	err     error
}

// steadyState multiplexes inbound frames, alert events and the idle timer.
// Returning nil means the meter went away or idled out; any error is fatal
// for the session but still routes through teardown in Run.
func (s *Session) steadyState(ctx *ConnectionContext, events <-chan AlertEvent, logger *log.Entry) error {
	// Inbound frames arrive via a reader goroutine so the select below can
	// also watch the alert channel and the idle timer.
	if err := s.transport.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	frames := make(chan inboundFrame)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(frames)
		for {
			payload, err := s.transport.ReadFrame()
			select {
			case frames <- inboundFrame{payload: payload, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// Readings are deltas against the meter value at session start.
	initial := ctx.CurrentReading().Reading

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case frame, open := <-frames:
			if !open {
				return nil
			}
			if frame.err != nil {
				logger.WithError(frame.err).Warn("smart meter disconnected")
				return nil
			}

			msg, err := protocol.ParseClientMessage(frame.payload)
			if err != nil {
				return err
			}

			reading := models.NewReading(initial + msg.Reading)
			if err := ctx.AddReading(reading); err != nil {
				if errors.Is(err, ErrInvalidReading) {
					// Out-of-order reading: drop the frame, keep the
					// session; no bill reply for it.
					logger.WithField("reading", reading.Reading).Warn("rejected backwards reading")
				} else {
					return err
				}
			} else {
				payload, err := protocol.EncodeBill(ctx.CurrentBill())
				if err != nil {
					return err
				}
				if err := s.transport.WriteFrame(payload, sendTimeout); err != nil {
					return fmt.Errorf("send bill: %w", err)
				}
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)

		case event, open := <-events:
			if !open {
				// Lag-kicked or store shut down; the session cannot
				// guarantee alert ordering any more.
				return errors.New("alert channel closed")
			}
			if err := s.handleAlert(event); err != nil {
				return err
			}

		case <-idle.C:
			logger.Warn("no message from smart meter, disconnecting")
			return nil
		}
	}
}

func (s *Session) handleAlert(event AlertEvent) error {
	switch event.Kind {
	case EventGridError:
		return s.sendGridIssue(event.Alert.Error)
	case EventGridResolved:
		payload, err := protocol.EncodePowerGridIssueResolved()
		if err != nil {
			return err
		}
		return s.transport.WriteFrame(payload, sendTimeout)
	default:
		return fmt.Errorf("unknown alert event kind %d", event.Kind)
	}
}

func (s *Session) sendGridIssue(errMsg string) error {
	payload, err := protocol.EncodePowerGridIssue(errMsg)
	if err != nil {
		return err
	}
	return s.transport.WriteFrame(payload, sendTimeout)
}
