// Package catalogtest runs an in-process catalog action API for tests.
//
// Datastore resources are real SQLite tables, so a table created with a
// primary key rejects duplicate inserts the same way the production
// datastore does.
package catalogtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var writeActions = map[string]bool{
	"package_patch":    true,
	"resource_create":  true,
	"resource_update":  true,
	"resource_patch":   true,
	"resource_delete":  true,
	"datastore_create": true,
	"datastore_upsert": true,
	"datastore_delete": true,
}

type injected struct {
	status int
	err    domain.APIError
}

type datastore struct {
	table      string
	fields     []domain.Field
	primaryKey []string
}

// Server is a fake catalog. All exported methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	apiKey string
	db     *gorm.DB

	mu         sync.Mutex
	packages   map[string]*domain.Package
	datastores map[string]*datastore
	failures   map[string][]injected
	calls      []string
	status     domain.Status
	lists      map[string][]string
}

type Option func(*Server)

// WithAPIKey makes write actions require the given Authorization header.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	dsn := fmt.Sprintf("file:catalogtest_%s?mode=memory&cache=shared", strings.ReplaceAll(uuid.NewString(), "-", ""))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Server{
		db:         db,
		packages:   map[string]*domain.Package{},
		datastores: map[string]*datastore{},
		failures:   map[string][]injected{},
		lists:      map[string][]string{},
		status:     domain.Status{CKANVersion: "2.10.4", SiteTitle: "catalogtest"},
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Any("/api/3/action/:action", s.handle)
	s.Server = httptest.NewServer(router)

	t.Cleanup(func() {
		s.Close()
		_ = sqlDB.Close()
	})
	return s
}

// AddPackage stores p, assigning ids where missing, and returns the stored copy.
func (s *Server) AddPackage(p domain.Package) domain.Package {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	for i := range p.Resources {
		if p.Resources[i].ID == "" {
			p.Resources[i].ID = uuid.NewString()
		}
		p.Resources[i].PackageID = p.ID
	}
	stored := p
	s.packages[p.ID] = &stored
	return clonePackage(&stored)
}

func (s *Server) Package(idOrName string) (domain.Package, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.lookupPackage(idOrName)
	if p == nil {
		return domain.Package{}, false
	}
	return clonePackage(p), true
}

// SeedDatastore creates a datastore table directly, bypassing the API.
func (s *Server) SeedDatastore(resourceID string, fields []domain.Field, primaryKey []string, records []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.createTable(resourceID, fields, primaryKey); err != nil {
		return err
	}
	return s.insert(resourceID, records, domain.MethodInsert)
}

// Records returns the rows of a datastore in insertion order, without _id.
func (s *Server) Records(resourceID string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, _, err := s.selectRows(resourceID, 0, -1)
	if err != nil {
		return nil
	}
	for _, r := range rows {
		delete(r, "_id")
	}
	return rows
}

func (s *Server) HasDatastore(resourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.datastores[resourceID]
	return ok
}

// FailNext makes the next call to action fail with status and apiErr.
// Repeated calls queue further failures.
func (s *Server) FailNext(action string, status int, apiErr domain.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[action] = append(s.failures[action], injected{status: status, err: apiErr})
}

// Calls returns the action names received so far, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CountCalls returns how many times action was called.
func (s *Server) CountCalls(action string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == action {
			n++
		}
	}
	return n
}

func (s *Server) SetStatus(status domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetList sets the names returned by package_list, group_list or
// organization_list.
func (s *Server) SetList(action string, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[action] = names
}

func (s *Server) handle(c *gin.Context) {
	action := c.Param("action")
	body, _ := io.ReadAll(c.Request.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, action)

	if queue := s.failures[action]; len(queue) > 0 {
		s.failures[action] = queue[1:]
		fail(c, queue[0].status, queue[0].err)
		return
	}
	if writeActions[action] && s.apiKey != "" && c.GetHeader("Authorization") != s.apiKey {
		fail(c, http.StatusForbidden, domain.APIError{Type: "Authorization Error", Message: "Access denied"})
		return
	}

	params := map[string]any{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			fail(c, http.StatusBadRequest, domain.APIError{Type: "Validation Error", Message: "invalid JSON body"})
			return
		}
	}

	result, status, apiErr := s.dispatch(action, params, body)
	if apiErr != nil {
		fail(c, status, *apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func fail(c *gin.Context, status int, apiErr domain.APIError) {
	payload := map[string]any{"__type": apiErr.Type}
	if apiErr.Message != "" {
		payload["message"] = apiErr.Message
	}
	for k, v := range apiErr.Fields {
		payload[k] = v
	}
	c.JSON(status, gin.H{"success": false, "error": payload})
}

func notFound(what string) (any, int, *domain.APIError) {
	return nil, http.StatusNotFound, &domain.APIError{Type: "Not Found Error", Message: what + " not found"}
}

func invalid(msg string) (any, int, *domain.APIError) {
	return nil, http.StatusBadRequest, &domain.APIError{Type: "Validation Error", Message: msg}
}

func (s *Server) dispatch(action string, params map[string]any, body []byte) (any, int, *domain.APIError) {
	switch action {
	case "package_show":
		p := s.lookupPackage(str(params["id"]))
		if p == nil {
			return notFound("Package")
		}
		return clonePackage(p), 0, nil
	case "package_patch":
		return s.packagePatch(params)
	case "package_search":
		return s.packageSearch(params)
	case "resource_show":
		_, r := s.lookupResource(str(params["id"]))
		if r == nil {
			return notFound("Resource")
		}
		return *r, 0, nil
	case "resource_create":
		return s.resourceCreate(body)
	case "resource_update", "resource_patch":
		return s.resourcePatch(params)
	case "resource_delete":
		return s.resourceDelete(str(params["id"]))
	case "datastore_create":
		return s.datastoreCreate(body)
	case "datastore_info":
		return s.datastoreInfo(str(params["id"]))
	case "datastore_search":
		return s.datastoreSearch(params)
	case "datastore_upsert":
		return s.datastoreUpsert(body)
	case "datastore_delete":
		return s.datastoreDelete(str(params["resource_id"]))
	case "status_show":
		return s.status, 0, nil
	case "package_list", "group_list", "organization_list":
		names := s.lists[action]
		if names == nil {
			names = []string{}
		}
		return names, 0, nil
	default:
		return nil, http.StatusBadRequest, &domain.APIError{Type: "Bad Request", Message: "unknown action " + action}
	}
}

func (s *Server) lookupPackage(idOrName string) *domain.Package {
	if p, ok := s.packages[idOrName]; ok {
		return p
	}
	for _, p := range s.packages {
		if p.Name == idOrName {
			return p
		}
	}
	return nil
}

func (s *Server) lookupResource(id string) (*domain.Package, *domain.Resource) {
	for _, p := range s.packages {
		for i := range p.Resources {
			if p.Resources[i].ID == id {
				return p, &p.Resources[i]
			}
		}
	}
	return nil, nil
}

func (s *Server) packagePatch(params map[string]any) (any, int, *domain.APIError) {
	p := s.lookupPackage(str(params["id"]))
	if p == nil {
		return notFound("Package")
	}
	for key, value := range params {
		switch key {
		case "id":
		case "name":
			p.Name = str(value)
		case "title":
			p.Title = str(value)
		case "notes":
			p.Notes = str(value)
		case "url":
			p.URL = str(value)
		default:
			setExtra(p, key, str(value))
		}
	}
	return clonePackage(p), 0, nil
}

func setExtra(p *domain.Package, key, value string) {
	for i := range p.Extras {
		if p.Extras[i].Key == key {
			p.Extras[i].Value = value
			return
		}
	}
	p.Extras = append(p.Extras, domain.Extra{Key: key, Value: value})
}

func (s *Server) packageSearch(params map[string]any) (any, int, *domain.APIError) {
	typ := ""
	if fq := str(params["fq"]); strings.HasPrefix(fq, "type:") {
		typ = strings.TrimPrefix(fq, "type:")
	}
	ids := make([]string, 0, len(s.packages))
	for id, p := range s.packages {
		if typ == "" || p.Type == typ {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return s.packages[ids[i]].Name < s.packages[ids[j]].Name })

	start := intParam(params["start"], 0)
	rows := intParam(params["rows"], 10)
	results := []domain.Package{}
	for i := start; i < len(ids) && i < start+rows; i++ {
		results = append(results, clonePackage(s.packages[ids[i]]))
	}
	return domain.SearchResult{Count: len(ids), Results: results}, 0, nil
}

func (s *Server) resourceCreate(body []byte) (any, int, *domain.APIError) {
	var res domain.Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return invalid(err.Error())
	}
	p := s.lookupPackage(res.PackageID)
	if p == nil {
		return notFound("Package")
	}
	res.ID = uuid.NewString()
	res.PackageID = p.ID
	p.Resources = append(p.Resources, res)
	return res, 0, nil
}

func (s *Server) resourcePatch(params map[string]any) (any, int, *domain.APIError) {
	_, r := s.lookupResource(str(params["id"]))
	if r == nil {
		return notFound("Resource")
	}
	for key, value := range params {
		switch key {
		case "name":
			r.Name = str(value)
		case "description":
			r.Description = str(value)
		case "format":
			r.Format = str(value)
		case "url":
			r.URL = str(value)
		}
	}
	return *r, 0, nil
}

func (s *Server) resourceDelete(id string) (any, int, *domain.APIError) {
	p, r := s.lookupResource(id)
	if r == nil {
		return notFound("Resource")
	}
	kept := p.Resources[:0]
	for _, res := range p.Resources {
		if res.ID != id {
			kept = append(kept, res)
		}
	}
	p.Resources = kept
	if ds, ok := s.datastores[id]; ok {
		_ = s.db.Exec("DROP TABLE IF EXISTS " + quote(ds.table)).Error
		delete(s.datastores, id)
	}
	return nil, 0, nil
}

func (s *Server) datastoreCreate(body []byte) (any, int, *domain.APIError) {
	var req domain.DatastoreCreateRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return invalid(err.Error())
	}

	resourceID := req.ResourceID
	if resourceID == "" {
		if req.Resource == nil {
			return invalid("resource_id or resource is required")
		}
		p := s.lookupPackage(req.Resource.PackageID)
		if p == nil {
			return notFound("Package")
		}
		res := domain.Resource{
			ID:          uuid.NewString(),
			PackageID:   p.ID,
			Name:        req.Resource.Name,
			Description: req.Resource.Description,
			Format:      req.Resource.Format,
		}
		p.Resources = append(p.Resources, res)
		resourceID = res.ID
	} else if _, r := s.lookupResource(resourceID); r == nil {
		return notFound("Resource")
	}

	ds, err := s.createTable(resourceID, req.Fields, req.PrimaryKey)
	if err != nil {
		return invalid(err.Error())
	}
	if err := s.insert(resourceID, req.Records, domain.MethodInsert); err != nil {
		return writeFailure(err)
	}
	return domain.DatastoreCreateResult{ResourceID: resourceID, Fields: ds.fields, PrimaryKey: ds.primaryKey}, 0, nil
}

func (s *Server) datastoreInfo(id string) (any, int, *domain.APIError) {
	ds, ok := s.datastores[id]
	if !ok {
		return notFound("Resource")
	}
	var count int64
	if err := s.db.Table(ds.table).Count(&count).Error; err != nil {
		return invalid(err.Error())
	}
	keyed := map[string]bool{}
	for _, k := range ds.primaryKey {
		keyed[k] = true
	}
	fields := make([]domain.FieldInfo, 0, len(ds.fields))
	for _, f := range ds.fields {
		fields = append(fields, domain.FieldInfo{
			ID:   f.ID,
			Type: f.Type,
			Schema: domain.FieldSchema{
				NativeType: f.Type,
				IsIndex:    keyed[f.ID],
				UniqueKey:  keyed[f.ID],
				NotNull:    keyed[f.ID],
			},
		})
	}
	return domain.DatastoreInfo{Meta: domain.DatastoreMeta{Count: int(count)}, Fields: fields}, 0, nil
}

func (s *Server) datastoreSearch(params map[string]any) (any, int, *domain.APIError) {
	id := str(params["resource_id"])
	ds, ok := s.datastores[id]
	if !ok {
		return notFound("Resource")
	}
	limit := intParam(params["limit"], 100)
	offset := intParam(params["offset"], 0)
	rows, total, err := s.selectRows(id, offset, limit)
	if err != nil {
		return invalid(err.Error())
	}
	fields := append([]domain.Field{{ID: "_id", Type: "int"}}, ds.fields...)
	return domain.DatastoreSearchResult{
		ResourceID: id,
		Fields:     fields,
		Records:    rows,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	}, 0, nil
}

func (s *Server) datastoreUpsert(body []byte) (any, int, *domain.APIError) {
	var req domain.DatastoreUpsertRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return invalid(err.Error())
	}
	if _, ok := s.datastores[req.ResourceID]; !ok {
		return notFound("Resource")
	}
	if err := s.insert(req.ResourceID, req.Records, req.Method); err != nil {
		return writeFailure(err)
	}
	return map[string]any{"resource_id": req.ResourceID, "method": req.Method}, 0, nil
}

func (s *Server) datastoreDelete(id string) (any, int, *domain.APIError) {
	ds, ok := s.datastores[id]
	if !ok {
		return notFound("Resource")
	}
	if err := s.db.Exec("DROP TABLE IF EXISTS " + quote(ds.table)).Error; err != nil {
		return invalid(err.Error())
	}
	delete(s.datastores, id)
	if _, r := s.lookupResource(id); r != nil {
		r.DatastoreActive = false
	}
	return map[string]any{"resource_id": id}, 0, nil
}

func (s *Server) createTable(resourceID string, fields []domain.Field, primaryKey []string) (*datastore, error) {
	if ds, ok := s.datastores[resourceID]; ok {
		return ds, nil
	}
	if len(fields) == 0 {
		return nil, errors.New("fields are required")
	}
	known := map[string]bool{}
	cols := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		known[f.ID] = true
		cols = append(cols, quote(f.ID)+" "+sqliteType(f.Type))
	}
	if len(primaryKey) > 0 {
		quoted := make([]string, 0, len(primaryKey))
		for _, k := range primaryKey {
			if !known[k] {
				return nil, fmt.Errorf("primary key %q is not a field", k)
			}
			quoted = append(quoted, quote(k))
		}
		cols = append(cols, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	table := "ds_" + strings.ReplaceAll(resourceID, "-", "_")
	if err := s.db.Exec("CREATE TABLE " + quote(table) + " (" + strings.Join(cols, ", ") + ")").Error; err != nil {
		return nil, err
	}
	ds := &datastore{table: table, fields: fields, primaryKey: primaryKey}
	s.datastores[resourceID] = ds
	if _, r := s.lookupResource(resourceID); r != nil {
		r.DatastoreActive = true
	}
	return ds, nil
}

// insert writes records in one transaction so a batch is accepted or
// rejected as a whole.
func (s *Server) insert(resourceID string, records []map[string]any, method domain.UpsertMethod) error {
	ds := s.datastores[resourceID]
	if len(records) == 0 {
		return nil
	}
	verb := "INSERT"
	if method == domain.MethodUpsert {
		if len(ds.primaryKey) == 0 {
			return errors.New("upsert requires a primary key")
		}
		verb = "INSERT OR REPLACE"
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			cols := make([]string, 0, len(rec))
			for col := range rec {
				cols = append(cols, col)
			}
			sort.Strings(cols)
			quoted := make([]string, len(cols))
			marks := make([]string, len(cols))
			args := make([]any, len(cols))
			for i, col := range cols {
				quoted[i] = quote(col)
				marks[i] = "?"
				args[i] = sqlValue(rec[col])
			}
			stmt := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, quote(ds.table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
			if err := tx.Exec(stmt, args...).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Server) selectRows(resourceID string, offset, limit int) ([]map[string]any, int, error) {
	ds, ok := s.datastores[resourceID]
	if !ok {
		return nil, 0, errors.New("no datastore")
	}
	var total int64
	if err := s.db.Table(ds.table).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	rows := []map[string]any{}
	err := s.db.Raw(
		fmt.Sprintf(`SELECT rowid AS "_id", * FROM %s ORDER BY rowid LIMIT ? OFFSET ?`, quote(ds.table)),
		limit, offset,
	).Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	types := map[string]string{}
	for _, f := range ds.fields {
		types[f.ID] = f.Type
	}
	for _, row := range rows {
		for col, v := range row {
			row[col] = jsonValue(types[col], v)
		}
	}
	return rows, int(total), nil
}

func writeFailure(err error) (any, int, *domain.APIError) {
	if isDuplicateKey(err) {
		raw, _ := json.Marshal([]string{"duplicate key value violates unique constraint: " + err.Error()})
		return nil, http.StatusConflict, &domain.APIError{
			Type:   "Validation Error",
			Fields: map[string]json.RawMessage{"records": raw},
		}
	}
	return invalid(err.Error())
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sqliteType(t string) string {
	switch strings.ToLower(t) {
	case "int", "int4", "int8", "integer", "bigint":
		return "INTEGER"
	case "numeric", "float", "float8", "double":
		return "REAL"
	case "bool", "boolean":
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func sqlValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any, []any:
		raw, _ := json.Marshal(val)
		return string(raw)
	default:
		return val
	}
}

func jsonValue(fieldType string, v any) any {
	if v == nil {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(fieldType), "bool") {
		switch b := v.(type) {
		case int64:
			return b != 0
		case string:
			parsed, err := strconv.ParseBool(b)
			if err == nil {
				return parsed
			}
		}
	}
	if raw, ok := v.([]byte); ok {
		return string(raw)
	}
	return v
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func str(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(val)
	}
}

func intParam(v any, def int) int {
	s := str(v)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func clonePackage(p *domain.Package) domain.Package {
	out := *p
	out.Extras = append([]domain.Extra(nil), p.Extras...)
	out.Resources = append([]domain.Resource(nil), p.Resources...)
	return out
}
