package api

import (
	"github.com/gorilla/mux"

	"github.com/garnizeh/timesheets/internal/approval"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/config"
	"github.com/garnizeh/timesheets/internal/db"
	"github.com/garnizeh/timesheets/internal/repository/sqlite"
	"github.com/garnizeh/timesheets/internal/storage"
)

func SetupRoutes(cfg *config.Config, version, buildTime string, db *db.DB, notifier approval.Notifier) (*mux.Router, error) {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(RequestMetaMiddleware)

	// Repository
	repo := sqlite.New(db, logger)
	recorder := audit.NewRecorder(repo, logger)

	opts := []approval.Option{approval.WithTokenTTL(cfg.Approval.TokenTTL), approval.WithLogger(logger)}
	if notifier != nil {
		opts = append(opts, approval.WithNotifier(notifier))
	}
	engine := approval.New(repo, opts...)

	blobs, err := storage.NewBlobStore(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	mediator := storage.NewMediator([]byte(cfg.JWTSecret), cfg.PublicBaseURL, cfg.Storage.UploadURLTTL)

	// Create handlers
	systemHandler := NewSystemHandler(db.GetConn())
	authHandler := NewAuthHandler(repo, cfg.JWTSecret, cfg.TokenDuration)
	clientsHandler := NewClientsHandler(repo, recorder)
	rostersHandler := NewRostersHandler(repo, recorder)
	timesheetsHandler := NewTimesheetsHandler(repo, recorder)
	usersHandler := NewUsersHandler(repo, recorder)
	approvalsHandler := NewApprovalsHandler(engine)
	deletedHandler := NewDeletedHandler(repo, recorder)
	auditHandler := NewAuditHandler(recorder)
	objectsHandler := NewObjectsHandler(mediator, blobs, repo, int64(cfg.Storage.MaxObjectMB)<<20)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods("POST")

	// Token-gated endpoints for external approvers and uploads
	r.HandleFunc("/approve/{token}", approvalsHandler.Resolve).Methods("GET")
	r.HandleFunc("/approve/{token}/{timesheetId}", approvalsHandler.Approve).Methods("POST")
	r.HandleFunc("/reject/{token}/{timesheetId}", approvalsHandler.Reject).Methods("POST")
	r.HandleFunc("/blob/{objectPath:.+}", objectsHandler.Put).Methods("PUT")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	apiV1.HandleFunc("/me", authHandler.Me).Methods("GET")

	apiV1.HandleFunc("/clients", clientsHandler.List).Methods("GET")
	apiV1.HandleFunc("/clients", clientsHandler.Create).Methods("POST")
	apiV1.HandleFunc("/clients/{id}", clientsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/clients/{id}", clientsHandler.Update).Methods("PATCH")
	apiV1.HandleFunc("/clients/{id}", clientsHandler.Delete).Methods("DELETE")
	apiV1.HandleFunc("/clients/{id}/contacts", clientsHandler.ListContacts).Methods("GET")
	apiV1.HandleFunc("/clients/{id}/contacts", clientsHandler.CreateContact).Methods("POST")
	apiV1.HandleFunc("/clients/{id}/contacts/{contactId}", clientsHandler.UpdateContact).Methods("PATCH")
	apiV1.HandleFunc("/clients/{id}/contacts/{contactId}", clientsHandler.DeleteContact).Methods("DELETE")
	apiV1.HandleFunc("/clients/{id}/contacts/{contactId}/primary", clientsHandler.SetPrimary).Methods("POST")

	apiV1.HandleFunc("/rosters", rostersHandler.List).Methods("GET")
	apiV1.HandleFunc("/rosters", rostersHandler.Create).Methods("POST")
	apiV1.HandleFunc("/rosters/{id}", rostersHandler.Get).Methods("GET")
	apiV1.HandleFunc("/rosters/{id}", rostersHandler.Update).Methods("PATCH")
	apiV1.HandleFunc("/rosters/{id}", rostersHandler.Delete).Methods("DELETE")

	apiV1.HandleFunc("/timesheets", timesheetsHandler.List).Methods("GET")
	apiV1.HandleFunc("/timesheets", timesheetsHandler.Create).Methods("POST")
	apiV1.HandleFunc("/timesheets/{id}", timesheetsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/timesheets/{id}", timesheetsHandler.Update).Methods("PATCH")
	apiV1.HandleFunc("/timesheets/{id}", timesheetsHandler.Delete).Methods("DELETE")

	apiV1.HandleFunc("/users", usersHandler.List).Methods("GET")
	apiV1.HandleFunc("/users", usersHandler.Create).Methods("POST")
	apiV1.HandleFunc("/users/{id}", usersHandler.Get).Methods("GET")
	apiV1.HandleFunc("/users/{id}", usersHandler.Update).Methods("PATCH")
	apiV1.HandleFunc("/users/{id}", usersHandler.Delete).Methods("DELETE")

	apiV1.HandleFunc("/approval-batches", approvalsHandler.CreateBatch).Methods("POST")
	apiV1.HandleFunc("/approval-batches", approvalsHandler.ListBatches).Methods("GET")
	apiV1.HandleFunc("/approval-batches/{batchId}", approvalsHandler.GetBatch).Methods("GET")
	apiV1.HandleFunc("/client/batches", approvalsHandler.ListBatches).Methods("GET")
	apiV1.HandleFunc("/client/batches/{batchId}/timesheets", approvalsHandler.ClientBatchTimesheets).Methods("GET")

	apiV1.HandleFunc("/deleted/{entity}", deletedHandler.List).Methods("GET")
	apiV1.HandleFunc("/deleted/{entity}/{id}/restore", deletedHandler.Restore).Methods("POST")
	apiV1.HandleFunc("/audit-log", auditHandler.List).Methods("GET")

	apiV1.HandleFunc("/objects/upload", objectsHandler.UploadURL).Methods("PUT")
	apiV1.HandleFunc("/objects/{objectPath:.+}", objectsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/receipts", objectsHandler.AttachReceipt).Methods("PUT")

	return r, nil
}
