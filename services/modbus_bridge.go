package services

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/goburrow/modbus"
	log "github.com/sirupsen/logrus"

	"github.com/gridwatt/smart-meter-server/database"
	"github.com/gridwatt/smart-meter-server/models"
)

// ModbusBridge polls a locally attached modbus-TCP meter and feeds its
// cumulative energy register into the billing pipeline for a fixed client
// id. Such meters never open a telemetry session, so the bridge owns a
// billing context directly instead of going through the session engine.
type ModbusBridge struct {
	addr     string
	clientID string
	register uint16
	interval time.Duration
	cfg      SessionConfig
	db       database.Store
	stop     chan struct{}
}

func NewModbusBridge(addr, clientID string, register uint16, interval time.Duration, db database.Store, cfg SessionConfig) *ModbusBridge {
	return &ModbusBridge{
		addr:     addr,
		clientID: clientID,
		register: register,
		interval: interval,
		cfg:      cfg,
		db:       db,
		stop:     make(chan struct{}),
	}
}

// Start runs the poll loop in its own goroutine. Construction of the billing
// context is retried on every tick so a meter registered after startup is
// picked up without a restart.
func (mb *ModbusBridge) Start() {
	go mb.run()
}

func (mb *ModbusBridge) Stop() {
	close(mb.stop)
}

func (mb *ModbusBridge) run() {
	log.WithFields(log.Fields{"addr": mb.addr, "client_id": mb.clientID}).Info("modbus bridge starting")

	handler := modbus.NewTCPClientHandler(mb.addr)
	handler.Timeout = 10 * time.Second
	handler.SlaveId = 1
	client := modbus.NewClient(handler)

	var ctx *ConnectionContext

	ticker := time.NewTicker(mb.interval)
	defer ticker.Stop()
	defer handler.Close()

	for {
		select {
		case <-ticker.C:
			if ctx == nil {
				var err error
				ctx, err = NewConnectionContext(mb.clientID, mb.cfg.PricePerUnit, mb.cfg.DailyStandingCharge, mb.db)
				if err != nil {
					log.WithError(err).Warn("modbus bridge: billing context unavailable")
					continue
				}
			}

			value, err := mb.readEnergy(client)
			if err != nil {
				log.WithError(err).Error("modbus bridge: read failed")
				continue
			}

			if err := ctx.AddReading(models.NewReading(value)); err != nil {
				log.WithError(err).WithField("reading", value).Warn("modbus bridge: reading rejected")
			}

		case <-mb.stop:
			if ctx != nil {
				if err := ctx.Flush(); err != nil {
					log.WithError(err).Error("modbus bridge: flush failed")
				}
			}
			log.Info("modbus bridge stopped")
			return
		}
	}
}

// readEnergy reads the meter's cumulative kWh counter as an IEEE 754 float
// in two consecutive holding registers, high word first.
func (mb *ModbusBridge) readEnergy(client modbus.Client) (float64, error) {
	results, err := client.ReadHoldingRegisters(mb.register, 2)
	if err != nil {
		return 0, err
	}
	if len(results) < 4 {
		return 0, fmt.Errorf("short register read: %d bytes", len(results))
	}
	bits := binary.BigEndian.Uint32(results[:4])
	return float64(math.Float32frombits(bits)), nil
}
