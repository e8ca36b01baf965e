package engine

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the handler groups onto one router.
type Server struct {
	engine           *Engine
	router           *mux.Router
	systemHandler    *SystemHandlers
	authHandler      *AuthHandlers
	jobHandler       *JobHandlers
	workspaceHandler *WorkspaceHandlers
	inventoryHandler *InventoryHandlers
	orderHandler     *OrderHandlers
	softwareHandler  *SoftwareHandlers
	fileHandler      *FileHandlers
	middleware       *Middleware
}

// NewServer builds the router. Middleware order is CORS, then observation;
// authentication applies only to the /api subtree.
func NewServer(engine *Engine) *Server {
	s := &Server{
		engine:           engine,
		router:           mux.NewRouter(),
		systemHandler:    NewSystemHandlers(engine),
		authHandler:      NewAuthHandlers(engine),
		jobHandler:       NewJobHandlers(engine),
		workspaceHandler: NewWorkspaceHandlers(engine),
		inventoryHandler: NewInventoryHandlers(engine),
		orderHandler:     NewOrderHandlers(engine),
		softwareHandler:  NewSoftwareHandlers(engine),
		fileHandler:      NewFileHandlers(engine),
		middleware:       NewMiddleware(engine),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Router returns the configured root router.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.middleware.CORS)
	s.router.Use(s.middleware.Observe)
}

func (s *Server) setupRoutes() {
	r := s.router

	// Liveness, readiness, metrics
	r.HandleFunc("/ping", s.systemHandler.Ping).Methods(http.MethodGet)
	r.HandleFunc("/health", s.systemHandler.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// WebSocket endpoints
	r.HandleFunc("/ws", s.engine.hub.ServeSoftware)
	r.HandleFunc("/ws/web", s.engine.hub.ServeWeb)
	r.HandleFunc("/workspace_ws", s.engine.hub.ServeWorkspace)

	// Jobs
	jobs := r.PathPrefix("/jobs").Subrouter()
	jobs.HandleFunc("/get_all", s.jobHandler.GetAll).Methods(http.MethodGet)
	jobs.HandleFunc("/get_job/{id:[0-9]+}", s.jobHandler.Get).Methods(http.MethodGet)
	jobs.HandleFunc("/save_job", s.jobHandler.Save).Methods(http.MethodPost)
	jobs.HandleFunc("/delete_job/{id:[0-9]+}", s.jobHandler.Delete).Methods(http.MethodPost)
	jobs.HandleFunc("/update_job_setting/{id:[0-9]+}", s.jobHandler.UpdateSetting).Methods(http.MethodPost)
	jobs.HandleFunc("/history/{id:[0-9]+}", s.jobHandler.History).Methods(http.MethodGet)
	jobs.HandleFunc("/history_diff/{id:[0-9]+}", s.jobHandler.HistoryDiff).Methods(http.MethodGet)

	// Workspace tree
	ws := r.PathPrefix("/workspace").Subrouter()
	ws.HandleFunc("/get_all_jobs", s.workspaceHandler.GetAllJobs).Methods(http.MethodGet)
	ws.HandleFunc("/get_job/{id:[0-9]+}", s.workspaceHandler.GetJob).Methods(http.MethodGet)
	ws.HandleFunc("/add_job", s.workspaceHandler.AddJob).Methods(http.MethodPost)
	ws.HandleFunc("/delete_job/{id:[0-9]+}", s.workspaceHandler.DeleteJob).Methods(http.MethodPost)
	ws.HandleFunc("/get_entry/{id:[0-9]+}", s.workspaceHandler.GetEntry).Methods(http.MethodGet)
	ws.HandleFunc("/update_entry/{id:[0-9]+}", s.workspaceHandler.UpdateEntry).Methods(http.MethodPost)
	ws.HandleFunc("/bulk_update_entries", s.workspaceHandler.BulkUpdateEntries).Methods(http.MethodPost)
	ws.HandleFunc("/get_entries_by_name/{job_id:[0-9]+}/{name}", s.workspaceHandler.GetEntriesByName).Methods(http.MethodGet)
	ws.HandleFunc("/get_all_recut_parts", s.workspaceHandler.GetAllRecutParts).Methods(http.MethodGet)
	ws.HandleFunc("/get_recut_parts_from_job/{id:[0-9]+}", s.workspaceHandler.GetRecutPartsFromJob).Methods(http.MethodGet)

	// Grouped views and flowtag mutations
	r.HandleFunc("/workspace_part", s.workspaceHandler.FindPart).Methods(http.MethodGet)
	r.HandleFunc("/workspace_part", s.workspaceHandler.UpdatePart).Methods(http.MethodPut)
	r.HandleFunc("/workspace_recut", s.workspaceHandler.Recut).Methods(http.MethodPost)
	r.HandleFunc("/workspace_recut_finished", s.workspaceHandler.RecutFinished).Methods(http.MethodPost)
	r.HandleFunc("/view/{view_name}", s.workspaceHandler.GroupedView).Methods(http.MethodGet)

	// Sheets inventory
	sheets := r.PathPrefix("/sheets").Subrouter()
	sheets.HandleFunc("/get_all", s.inventoryHandler.GetAllSheets).Methods(http.MethodGet)
	sheets.HandleFunc("/get/{id:[0-9]+}", s.inventoryHandler.GetSheet).Methods(http.MethodGet)
	sheets.HandleFunc("/get_categories", s.inventoryHandler.GetSheetCategories).Methods(http.MethodGet)
	sheets.HandleFunc("/get_category/{category}", s.inventoryHandler.GetSheetsByCategory).Methods(http.MethodGet)
	sheets.HandleFunc("/add", s.inventoryHandler.AddSheet).Methods(http.MethodPost)
	sheets.HandleFunc("/update/{id:[0-9]+}", s.inventoryHandler.UpdateSheet).Methods(http.MethodPost)
	sheets.HandleFunc("/delete/{id:[0-9]+}", s.inventoryHandler.DeleteSheet).Methods(http.MethodPost)

	// Components inventory
	components := r.PathPrefix("/components").Subrouter()
	components.HandleFunc("/get_all", s.inventoryHandler.GetAllComponents).Methods(http.MethodGet)
	components.HandleFunc("/get/{id:[0-9]+}", s.inventoryHandler.GetComponent).Methods(http.MethodGet)
	components.HandleFunc("/get_categories", s.inventoryHandler.GetComponentCategories).Methods(http.MethodGet)
	components.HandleFunc("/get_category/{category}", s.inventoryHandler.GetComponentsByCategory).Methods(http.MethodGet)
	components.HandleFunc("/add", s.inventoryHandler.AddComponent).Methods(http.MethodPost)
	components.HandleFunc("/update/{id:[0-9]+}", s.inventoryHandler.UpdateComponent).Methods(http.MethodPost)
	components.HandleFunc("/delete/{id:[0-9]+}", s.inventoryHandler.DeleteComponent).Methods(http.MethodPost)

	// Laser cut parts inventory
	parts := r.PathPrefix("/laser_cut_parts").Subrouter()
	parts.HandleFunc("/get_all", s.inventoryHandler.GetAllLaserCutParts).Methods(http.MethodGet)
	parts.HandleFunc("/get/{id:[0-9]+}", s.inventoryHandler.GetLaserCutPart).Methods(http.MethodGet)
	parts.HandleFunc("/get_categories", s.inventoryHandler.GetLaserCutPartCategories).Methods(http.MethodGet)
	parts.HandleFunc("/get_category/{category}", s.inventoryHandler.GetLaserCutPartsByCategory).Methods(http.MethodGet)
	parts.HandleFunc("/add", s.inventoryHandler.AddLaserCutPart).Methods(http.MethodPost)
	parts.HandleFunc("/update/{id:[0-9]+}", s.inventoryHandler.UpdateLaserCutPart).Methods(http.MethodPost)
	parts.HandleFunc("/update_quantities", s.inventoryHandler.UpdateLaserCutPartQuantities).Methods(http.MethodPost)
	parts.HandleFunc("/delete/{id:[0-9]+}", s.inventoryHandler.DeleteLaserCutPart).Methods(http.MethodPost)

	// Coatings inventory
	coatings := r.PathPrefix("/coatings").Subrouter()
	coatings.HandleFunc("/get_all", s.inventoryHandler.GetAllCoatings).Methods(http.MethodGet)
	coatings.HandleFunc("/get/{id:[0-9]+}", s.inventoryHandler.GetCoating).Methods(http.MethodGet)
	coatings.HandleFunc("/get_categories", s.inventoryHandler.GetCoatingCategories).Methods(http.MethodGet)
	coatings.HandleFunc("/get_category/{category}", s.inventoryHandler.GetCoatingsByCategory).Methods(http.MethodGet)
	coatings.HandleFunc("/add", s.inventoryHandler.AddCoating).Methods(http.MethodPost)
	coatings.HandleFunc("/update/{id:[0-9]+}", s.inventoryHandler.UpdateCoating).Methods(http.MethodPost)
	coatings.HandleFunc("/delete/{id:[0-9]+}", s.inventoryHandler.DeleteCoating).Methods(http.MethodPost)

	// Workorders
	workorders := r.PathPrefix("/workorders").Subrouter()
	workorders.HandleFunc("/get_all", s.orderHandler.GetAllWorkorders).Methods(http.MethodGet)
	workorders.HandleFunc("/get/{id:[0-9]+}", s.orderHandler.GetWorkorder).Methods(http.MethodGet)
	workorders.HandleFunc("/add", s.orderHandler.AddWorkorder).Methods(http.MethodPost)
	workorders.HandleFunc("/update/{id:[0-9]+}", s.orderHandler.UpdateWorkorder).Methods(http.MethodPost)
	workorders.HandleFunc("/delete/{id:[0-9]+}", s.orderHandler.DeleteWorkorder).Methods(http.MethodPost)

	// Purchase orders
	pos := r.PathPrefix("/purchase_orders").Subrouter()
	pos.HandleFunc("/get_all", s.orderHandler.GetAllPurchaseOrders).Methods(http.MethodGet)
	pos.HandleFunc("/get/{id:[0-9]+}", s.orderHandler.GetPurchaseOrder).Methods(http.MethodGet)
	pos.HandleFunc("/save", s.orderHandler.SavePurchaseOrder).Methods(http.MethodPost)
	pos.HandleFunc("/mark_email_sent/{id:[0-9]+}", s.orderHandler.MarkPurchaseOrderEmailSent).Methods(http.MethodPost)
	pos.HandleFunc("/delete/{id:[0-9]+}", s.orderHandler.DeletePurchaseOrder).Methods(http.MethodPost)
	pos.HandleFunc("/history/{id:[0-9]+}", s.orderHandler.PurchaseOrderHistory).Methods(http.MethodGet)

	// Vendors and shipping addresses
	vendors := r.PathPrefix("/vendors").Subrouter()
	vendors.HandleFunc("/get_all", s.orderHandler.GetAllVendors).Methods(http.MethodGet)
	vendors.HandleFunc("/get/{id:[0-9]+}", s.orderHandler.GetVendor).Methods(http.MethodGet)
	vendors.HandleFunc("/add", s.orderHandler.AddVendor).Methods(http.MethodPost)
	vendors.HandleFunc("/update/{id:[0-9]+}", s.orderHandler.UpdateVendor).Methods(http.MethodPost)
	vendors.HandleFunc("/delete/{id:[0-9]+}", s.orderHandler.DeleteVendor).Methods(http.MethodPost)

	addresses := r.PathPrefix("/shipping_addresses").Subrouter()
	addresses.HandleFunc("/get_all", s.orderHandler.GetAllShippingAddresses).Methods(http.MethodGet)
	addresses.HandleFunc("/get/{id:[0-9]+}", s.orderHandler.GetShippingAddress).Methods(http.MethodGet)
	addresses.HandleFunc("/add", s.orderHandler.AddShippingAddress).Methods(http.MethodPost)
	addresses.HandleFunc("/update/{id:[0-9]+}", s.orderHandler.UpdateShippingAddress).Methods(http.MethodPost)
	addresses.HandleFunc("/delete/{id:[0-9]+}", s.orderHandler.DeleteShippingAddress).Methods(http.MethodPost)

	// Software distribution
	r.HandleFunc("/software_version", s.softwareHandler.Version).Methods(http.MethodGet)
	r.HandleFunc("/software_update", s.softwareHandler.Download).Methods(http.MethodGet)
	r.HandleFunc("/software_upload", s.softwareHandler.Upload).Methods(http.MethodPost)
	r.HandleFunc("/software_versions", s.softwareHandler.List).Methods(http.MethodGet)

	// Workspace file bundle and images
	r.HandleFunc("/workspace_file/{name:.*}", s.fileHandler.ServeWorkspaceFile).Methods(http.MethodGet)
	r.HandleFunc("/image/{name:.*}", s.fileHandler.ServeImage).Methods(http.MethodGet)

	// Authenticated API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", s.authHandler.Login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.middleware.RequireAuth)
	authed.HandleFunc("/users", s.authHandler.ListUsers).Methods(http.MethodGet)
	authed.HandleFunc("/users", s.authHandler.AddUser).Methods(http.MethodPost)
	authed.HandleFunc("/users/{id:[0-9]+}", s.authHandler.DeleteUser).Methods(http.MethodDelete)
	authed.HandleFunc("/roles", s.authHandler.ListRoles).Methods(http.MethodGet)
	authed.HandleFunc("/roles", s.authHandler.AddRole).Methods(http.MethodPost)
	authed.HandleFunc("/roles/{id:[0-9]+}", s.authHandler.DeleteRole).Methods(http.MethodDelete)
}
