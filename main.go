package main

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/gridwatt/smart-meter-server/config"
	"github.com/gridwatt/smart-meter-server/database"
	"github.com/gridwatt/smart-meter-server/handlers"
	"github.com/gridwatt/smart-meter-server/logging"
	"github.com/gridwatt/smart-meter-server/middleware"
	"github.com/gridwatt/smart-meter-server/protocol"
	"github.com/gridwatt/smart-meter-server/services"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	logging.Setup()

	log.Info("Starting smart meter telemetry server...")
	cfg := config.Load()

	db, err := openStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}

	sessionCfg := services.SessionConfig{
		PricePerUnit:        cfg.UnitCost,
		DailyStandingCharge: cfg.StandingCharge,
	}

	if err := seedIfEmpty(db, cfg, sessionCfg); err != nil {
		log.WithError(err).Fatal("Failed to seed clients")
	}

	alerts := services.NewAlertStore(cfg.AlertCapacity)

	watcher := services.NewGridWatcher(alerts)
	watcher.Start()
	defer watcher.Stop()

	if cfg.MQTTBroker != "" {
		gridSource := services.NewMQTTGridSource(cfg.MQTTBroker, cfg.GridTopic, watcher)
		if err := gridSource.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start MQTT grid source")
		}
		defer gridSource.Stop()
	}

	if cfg.ModbusAddr != "" {
		bridge := services.NewModbusBridge(cfg.ModbusAddr, cfg.ModbusClientID,
			uint16(cfg.ModbusRegister), cfg.ModbusPoll, db, sessionCfg)
		bridge.Start()
		defer bridge.Stop()
	}

	go runAdminAPI(cfg, db, alerts, watcher, sessionCfg)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.WithError(err).Fatalf("Failed to bind %s", cfg.Addr)
	}
	log.Infof("listening on %s", cfg.Addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.WithError(err).Fatal("Accept failed")
		}

		go func(conn net.Conn) {
			log.WithField("remote", conn.RemoteAddr().String()).Debug("new client connected")
			session := services.NewSession(protocol.NewFrameConn(conn), alerts, db, sessionCfg)
			if err := session.Run(); err != nil {
				log.Error(err)
			}
		}(conn)
	}
}

func openStore(cfg *config.Config) (database.Store, error) {
	if cfg.DatabasePath == "" {
		log.Info("using in-memory store")
		return database.NewMemoryStore(), nil
	}
	log.WithField("path", cfg.DatabasePath).Info("using sqlite store")
	return database.OpenSQLite(cfg.DatabasePath)
}

// seedIfEmpty preloads the synthetic demo fleet once. A persistent store
// that already holds client "0" is left alone.
func seedIfEmpty(db database.Store, cfg *config.Config, sessionCfg services.SessionConfig) error {
	if cfg.NumClients <= 0 {
		return nil
	}
	hash, err := db.ClientExists("0")
	if err != nil {
		return err
	}
	if hash != "" {
		log.Info("store already seeded, skipping")
		return nil
	}
	return services.SeedClients(db, cfg.NumClients, sessionCfg.PricePerUnit, sessionCfg.DailyStandingCharge)
}

func runAdminAPI(cfg *config.Config, db database.Store, alerts *services.AlertStore,
	watcher *services.GridWatcher, sessionCfg services.SessionConfig) {

	authHandler, err := handlers.NewAuthHandler(cfg.AdminUser, cfg.AdminPass, cfg.JWTSecret)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up admin auth")
	}
	clientHandler := handlers.NewClientHandler(db, services.NewBillPDF(""), sessionCfg)
	gridHandler := handlers.NewGridHandler(watcher, alerts)
	wsGateway := services.NewWSGateway(alerts, db, sessionCfg)

	r := mux.NewRouter()
	r.HandleFunc("/api/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/health", handlers.Health).Methods("GET")
	r.Handle("/meter", wsGateway)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	api.HandleFunc("/clients", clientHandler.Create).Methods("POST")
	api.HandleFunc("/clients/{id}", clientHandler.Delete).Methods("DELETE")
	api.HandleFunc("/clients/{id}/bill", clientHandler.LastBill).Methods("GET")
	api.HandleFunc("/clients/{id}/bill.pdf", clientHandler.LastBillPDF).Methods("GET")
	api.HandleFunc("/grid/outage", gridHandler.ReportOutage).Methods("POST")
	api.HandleFunc("/grid/resolved", gridHandler.Resolve).Methods("POST")
	api.HandleFunc("/grid/status", gridHandler.Status).Methods("GET")

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)

	log.Infof("admin API listening on %s", cfg.AdminAddr)
	if err := http.ListenAndServe(cfg.AdminAddr, handler); err != nil {
		log.WithError(err).Fatal("Admin API failed")
	}
}
