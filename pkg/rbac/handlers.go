package rbac

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rampart/pkg/hierarchy"
	"github.com/platinummonkey/rampart/pkg/httputil"
	"github.com/platinummonkey/rampart/pkg/observability"
)

// Handlers exposes the authorizer, the catalog and the assignment
// manager over JSON.
type Handlers struct {
	store        *Store
	auth         *Authorizer
	assignments  *AssignmentManager
	containers   map[hierarchy.Kind]*hierarchy.Store
	invalidators map[hierarchy.Kind][]hierarchy.Invalidator
	logger       *observability.Logger
}

// NewHandlers creates handlers over auth and assignments
func NewHandlers(auth *Authorizer, assignments *AssignmentManager) *Handlers {
	return &Handlers{
		store:        auth.Store(),
		auth:         auth,
		assignments:  assignments,
		containers:   make(map[hierarchy.Kind]*hierarchy.Store),
		invalidators: make(map[hierarchy.Kind][]hierarchy.Invalidator),
		logger:       observability.NewLogger(observability.InfoLevel, os.Stdout),
	}
}

// WithContainers enables the container routes for store's kind.
// Invalidators are told about every moved or deleted container.
func (h *Handlers) WithContainers(store *hierarchy.Store, invalidators ...hierarchy.Invalidator) *Handlers {
	h.containers[store.Kind()] = store
	h.invalidators[store.Kind()] = append(h.invalidators[store.Kind()], invalidators...)
	return h
}

// WithLogger sets the handler logger
func (h *Handlers) WithLogger(logger *observability.Logger) *Handlers {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// RegisterRoutes registers the check routes on router and the
// administration routes behind admin, which may be nil.
func (h *Handlers) RegisterRoutes(router *mux.Router, admin func(http.Handler) http.Handler) {
	router.HandleFunc("/check", h.Check).Methods("POST")
	router.HandleFunc("/check/container", h.CheckContainer).Methods("POST")
	router.HandleFunc("/principals/{principal}/effective", h.EffectivePermissions).Methods("GET")

	adm := router.NewRoute().Subrouter()
	if admin != nil {
		adm.Use(admin)
	}

	adm.HandleFunc("/roles", h.ListRoles).Methods("GET")
	adm.HandleFunc("/roles", h.CreateRole).Methods("POST")
	adm.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	adm.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")
	adm.HandleFunc("/roles/{id}/permissions", h.ListRolePermissions).Methods("GET")
	adm.HandleFunc("/roles/{id}/permissions", h.AttachPermission).Methods("POST")
	adm.HandleFunc("/roles/{id}/permissions/{permission_id}", h.DetachPermission).Methods("DELETE")

	adm.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	adm.HandleFunc("/permissions", h.CreatePermission).Methods("POST")
	adm.HandleFunc("/permissions/{id}", h.DeletePermission).Methods("DELETE")

	adm.HandleFunc("/principals/{principal}/roles", h.ListRoleAssignments).Methods("GET")
	adm.HandleFunc("/principals/{principal}/roles", h.AssignRole).Methods("POST")
	adm.HandleFunc("/principals/{principal}/roles/{name}", h.RevokeRole).Methods("DELETE")
	adm.HandleFunc("/principals/{principal}/permissions", h.ListPermissionAssignments).Methods("GET")
	adm.HandleFunc("/principals/{principal}/permissions", h.AssignPermission).Methods("POST")
	adm.HandleFunc("/principals/{principal}/permissions/{name}", h.RevokePermission).Methods("DELETE")

	adm.HandleFunc("/containers/{kind}", h.CreateContainer).Methods("POST")
	adm.HandleFunc("/containers/{kind}/{id}", h.GetContainer).Methods("GET")
	adm.HandleFunc("/containers/{kind}/{id}", h.DeleteContainer).Methods("DELETE")
	adm.HandleFunc("/containers/{kind}/{id}/parent", h.SetParent).Methods("PUT")
	adm.HandleFunc("/containers/{kind}/{id}/children", h.Children).Methods("GET")
	adm.HandleFunc("/containers/{kind}/{id}/ancestors", h.Ancestors).Methods("GET")
	adm.HandleFunc("/containers/{kind}/{id}/descendants", h.Descendants).Methods("GET")
	adm.HandleFunc("/containers/{kind}/{id}/members", h.Members).Methods("GET")
	adm.HandleFunc("/containers/{kind}/{id}/members", h.Join).Methods("POST")
	adm.HandleFunc("/containers/{kind}/{id}/members/{principal}", h.Leave).Methods("DELETE")
}

// CheckRequest asks for a decision in one context. Principal defaults to
// the caller.
type CheckRequest struct {
	Principal  string `json:"principal,omitempty"`
	Permission string `json:"permission"`
	Context    string `json:"context,omitempty"`
}

// ContainerCheckRequest asks for a decision in a container
type ContainerCheckRequest struct {
	Principal      string `json:"principal,omitempty"`
	Permission     string `json:"permission"`
	Kind           string `json:"kind"`
	ID             int64  `json:"id"`
	CheckHierarchy *bool  `json:"check_hierarchy,omitempty"`
}

// GrantRequest binds a role or permission, by name or ID, to a principal
type GrantRequest struct {
	Name        string     `json:"name,omitempty"`
	ID          int64      `json:"id,omitempty"`
	Context     string     `json:"context,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
}

// Check answers POST /check
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Permission, "permission") {
		return
	}

	p, ok := h.subject(w, r, req.Principal)
	if !ok {
		return
	}
	ref, err := ParseContext(req.Context)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	d, err := h.auth.Authorize(r.Context(), p, req.Permission, ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, d)
}

// CheckContainer answers POST /check/container
func (h *Handlers) CheckContainer(w http.ResponseWriter, r *http.Request) {
	var req ContainerCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		func() (bool, string) { return req.Permission != "", "permission is required" },
		func() (bool, string) { return req.Kind != "", "kind is required" },
	) {
		return
	}

	p, ok := h.subject(w, r, req.Principal)
	if !ok {
		return
	}

	checkHierarchy := true
	if req.CheckHierarchy != nil {
		checkHierarchy = *req.CheckHierarchy
	}

	d, err := h.auth.AuthorizeInContainer(r.Context(), p, req.Permission, hierarchy.Kind(req.Kind), req.ID, checkHierarchy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, d)
}

// EffectivePermissions answers GET /principals/{principal}/effective?context=kind:id
func (h *Handlers) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pathPrincipal(w, r)
	if !ok {
		return
	}
	ref, err := ParseContext(httputil.ParseQueryString(r, "context", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	names, err := h.auth.EffectivePermissions(r.Context(), p, ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"principal":   p,
		"context":     ref,
		"permissions": names,
	})
}

type catalogRequest struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
}

// ListRoles answers GET /roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	h.respond(w, r, http.StatusOK, roles, err)
}

// CreateRole answers POST /roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req catalogRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	role := &Role{Name: req.Name, Label: req.Label}
	err := h.store.CreateRole(r.Context(), role)
	h.respond(w, r, http.StatusCreated, role, err)
}

// GetRole answers GET /roles/{id}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	h.respond(w, r, http.StatusOK, role, err)
}

// DeleteRole answers DELETE /roles/{id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	h.respond(w, r, http.StatusNoContent, nil, h.store.DeleteRole(r.Context(), id))
}

// ListRolePermissions answers GET /roles/{id}/permissions
func (h *Handlers) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.store.GetRole(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	perms, err := h.store.RolePermissions(r.Context(), id)
	h.respond(w, r, http.StatusOK, perms, err)
}

// AttachPermission answers POST /roles/{id}/permissions with a
// permission name or ID
func (h *Handlers) AttachPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm, err := h.store.ResolvePermission(r.Context(), PermissionRef{ID: req.ID, Name: req.Name})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusNoContent, nil, h.store.AttachPermission(r.Context(), id, perm.ID))
}

// DetachPermission answers DELETE /roles/{id}/permissions/{permission_id}
func (h *Handlers) DetachPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}
	h.respond(w, r, http.StatusNoContent, nil, h.store.DetachPermission(r.Context(), roleID, permID))
}

// ListPermissions answers GET /permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	h.respond(w, r, http.StatusOK, perms, err)
}

// CreatePermission answers POST /permissions
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req catalogRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	perm := &Permission{Name: req.Name, Label: req.Label}
	err := h.store.CreatePermission(r.Context(), perm)
	h.respond(w, r, http.StatusCreated, perm, err)
}

// DeletePermission answers DELETE /permissions/{id}
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	h.respond(w, r, http.StatusNoContent, nil, h.store.DeletePermission(r.Context(), id))
}

// ListRoleAssignments answers GET /principals/{principal}/roles
func (h *Handlers) ListRoleAssignments(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pathPrincipal(w, r)
	if !ok {
		return
	}
	assignments, err := h.store.RoleAssignments(r.Context(), p)
	h.respond(w, r, http.StatusOK, assignments, err)
}

// AssignRole answers POST /principals/{principal}/roles
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	p, req, ref, ok := h.grant(w, r)
	if !ok {
		return
	}
	a, err := h.assignments.AssignRole(r.Context(), p, RoleRef{ID: req.ID, Name: req.Name}, ref,
		Window{ActivatedAt: req.ActivatedAt, ExpiredAt: req.ExpiredAt})
	h.respond(w, r, http.StatusCreated, a, err)
}

// RevokeRole answers DELETE /principals/{principal}/roles/{name}?context=kind:id
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	p, name, ref, ok := h.revocation(w, r)
	if !ok {
		return
	}
	n, err := h.assignments.RevokeRole(r.Context(), p, RoleNamed(name), ref)
	h.respond(w, r, http.StatusOK, map[string]int64{"removed": n}, err)
}

// ListPermissionAssignments answers GET /principals/{principal}/permissions
func (h *Handlers) ListPermissionAssignments(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pathPrincipal(w, r)
	if !ok {
		return
	}
	assignments, err := h.store.PermissionAssignments(r.Context(), p)
	h.respond(w, r, http.StatusOK, assignments, err)
}

// AssignPermission answers POST /principals/{principal}/permissions
func (h *Handlers) AssignPermission(w http.ResponseWriter, r *http.Request) {
	p, req, ref, ok := h.grant(w, r)
	if !ok {
		return
	}
	a, err := h.assignments.AssignPermission(r.Context(), p, PermissionRef{ID: req.ID, Name: req.Name}, ref,
		Window{ActivatedAt: req.ActivatedAt, ExpiredAt: req.ExpiredAt})
	h.respond(w, r, http.StatusCreated, a, err)
}

// RevokePermission answers DELETE /principals/{principal}/permissions/{name}?context=kind:id
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	p, name, ref, ok := h.revocation(w, r)
	if !ok {
		return
	}
	n, err := h.assignments.RevokePermission(r.Context(), p, PermissionNamed(name), ref)
	h.respond(w, r, http.StatusOK, map[string]int64{"removed": n}, err)
}

type containerRequest struct {
	Name        string `json:"name"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	IsBusiness  bool   `json:"is_business"`
}

// CreateContainer answers POST /containers/{kind}
func (h *Handlers) CreateContainer(w http.ResponseWriter, r *http.Request) {
	store, ok := h.containerStore(w, r)
	if !ok {
		return
	}
	var req containerRequest
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	c := &hierarchy.Container{
		Name:        req.Name,
		ParentID:    req.ParentID,
		Type:        req.Type,
		Description: req.Description,
		IsBusiness:  req.IsBusiness,
	}
	err := store.Create(r.Context(), c)
	h.respond(w, r, http.StatusCreated, c, err)
}

// GetContainer answers GET /containers/{kind}/{id}
func (h *Handlers) GetContainer(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.containerTarget(w, r)
	if !ok {
		return
	}
	c, err := store.Get(r.Context(), id)
	h.respond(w, r, http.StatusOK, c, err)
}

// DeleteContainer answers DELETE /containers/{kind}/{id}. The subtree
// goes with it and every cached record of it is invalidated.
func (h *Handlers) DeleteContainer(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.containerTarget(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	c, err := store.Get(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	subtree, err := hierarchy.NewResolver(store).Descendants(ctx, c)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := store.Delete(ctx, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.invalidate(ctx, store.Kind(), id)
	for _, d := range subtree {
		h.invalidate(ctx, store.Kind(), d.ID)
	}
	httputil.WriteNoContent(w)
}

// SetParent answers PUT /containers/{kind}/{id}/parent with
// {"parent_id": n} or {"parent_id": null}
func (h *Handlers) SetParent(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.containerTarget(w, r)
	if !ok {
		return
	}
	var req struct {
		ParentID *int64 `json:"parent_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := store.SetParent(r.Context(), id, req.ParentID); err != nil {
		if errors.Is(err, hierarchy.ErrCycleDetected) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.invalidate(r.Context(), store.Kind(), id)

	c, err := store.Get(r.Context(), id)
	h.respond(w, r, http.StatusOK, c, err)
}

// Children answers GET /containers/{kind}/{id}/children
func (h *Handlers) Children(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.containerTarget(w, r)
	if !ok {
		return
	}
	if _, err := store.Get(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	children, err := store.Children(r.Context(), id)
	h.respond(w, r, http.StatusOK, nonNil(children), err)
}

// Ancestors answers GET /containers/{kind}/{id}/ancestors, nearest first
func (h *Handlers) Ancestors(w http.ResponseWriter, r *http.Request) {
	h.walk(w, r, (*hierarchy.Resolver).Ancestors)
}

// Descendants answers GET /containers/{kind}/{id}/descendants
func (h *Handlers) Descendants(w http.ResponseWriter, r *http.Request) {
	h.walk(w, r, (*hierarchy.Resolver).Descendants)
}

func (h *Handlers) walk(w http.ResponseWriter, r *http.Request, fn func(*hierarchy.Resolver, context.Context, *hierarchy.Container) ([]hierarchy.Container, error)) {
	store, id, ok := h.containerTarget(w, r)
	if !ok {
		return
	}
	c, err := store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	containers, err := fn(hierarchy.NewResolver(store), r.Context(), c)
	h.respond(w, r, http.StatusOK, nonNil(containers), err)
}

// Members answers GET /containers/{kind}/{id}/members
func (h *Handlers) Members(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.containerTarget(w, r)
	if !ok {
		return
	}
	members, err := store.Members(r.Context(), id)
	if members == nil {
		members = []hierarchy.Membership{}
	}
	h.respond(w, r, http.StatusOK, members, err)
}

// Join answers POST /containers/{kind}/{id}/members
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.containerTarget(w, r)
	if !ok {
		return
	}
	var req struct {
		Principal string  `json:"principal"`
		Position  *string `json:"position,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	p, err := ParsePrincipal(req.Principal)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	m, err := store.Join(r.Context(), id, p.Member(), req.Position)
	h.respond(w, r, http.StatusCreated, m, err)
}

// Leave answers DELETE /containers/{kind}/{id}/members/{principal}
func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	store, id, ok := h.containerTarget(w, r)
	if !ok {
		return
	}
	p, ok := h.pathPrincipal(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusNoContent, nil, store.Leave(r.Context(), id, p.Member()))
}

// subject picks the principal a check is about: the one named in the
// request, or else the caller.
func (h *Handlers) subject(w http.ResponseWriter, r *http.Request, named string) (Principal, bool) {
	if named != "" {
		p, err := ParsePrincipal(named)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return Principal{}, false
		}
		return p, true
	}
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteBadRequest(w, "principal is required")
	}
	return p, ok
}

func (h *Handlers) pathPrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	raw, ok := httputil.ParsePathStringOrError(w, r, "principal")
	if !ok {
		return Principal{}, false
	}
	p, err := ParsePrincipal(raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return Principal{}, false
	}
	return p, true
}

func (h *Handlers) grant(w http.ResponseWriter, r *http.Request) (Principal, GrantRequest, *ContextRef, bool) {
	var req GrantRequest
	p, ok := h.pathPrincipal(w, r)
	if !ok || !httputil.ParseJSONOrError(w, r, &req) {
		return p, req, nil, false
	}
	if req.Name == "" && req.ID == 0 {
		httputil.WriteBadRequest(w, "name or id is required")
		return p, req, nil, false
	}
	ref, err := ParseContext(req.Context)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return p, req, nil, false
	}
	return p, req, ref, true
}

func (h *Handlers) revocation(w http.ResponseWriter, r *http.Request) (Principal, string, *ContextRef, bool) {
	p, ok := h.pathPrincipal(w, r)
	if !ok {
		return p, "", nil, false
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return p, "", nil, false
	}
	ref, err := ParseContext(httputil.ParseQueryString(r, "context", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return p, "", nil, false
	}
	return p, name, ref, true
}

func (h *Handlers) containerStore(w http.ResponseWriter, r *http.Request) (*hierarchy.Store, bool) {
	kind := hierarchy.Kind(mux.Vars(r)["kind"])
	store, ok := h.containers[kind]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown container kind "+string(kind))
	}
	return store, ok
}

func (h *Handlers) containerTarget(w http.ResponseWriter, r *http.Request) (*hierarchy.Store, int64, bool) {
	store, ok := h.containerStore(w, r)
	if !ok {
		return nil, 0, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	return store, id, ok
}

func (h *Handlers) invalidate(ctx context.Context, kind hierarchy.Kind, id int64) {
	for _, inv := range h.invalidators[kind] {
		if err := inv.Invalidate(ctx, id); err != nil {
			h.logger.WithError(err).WithField("container", id).Warn("failed to invalidate cached container")
		}
	}
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, status int, body interface{}, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if status == http.StatusNoContent {
		httputil.WriteNoContent(w)
		return
	}
	_ = httputil.WriteJSON(w, status, body)
}

// writeError maps sentinel errors onto status codes; anything else is 500
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, hierarchy.ErrNotFound), errors.Is(err, hierarchy.ErrNotMember):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, hierarchy.ErrAlreadyMember):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidWindow), errors.Is(err, ErrInvalidPrincipal),
		errors.Is(err, hierarchy.ErrUnknownKind), errors.Is(err, hierarchy.ErrInvalidMember):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).Error("request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func nonNil(c []hierarchy.Container) []hierarchy.Container {
	if c == nil {
		return []hierarchy.Container{}
	}
	return c
}
