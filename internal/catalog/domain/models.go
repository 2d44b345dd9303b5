package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Envelope is the response wrapper every action API call returns.
type Envelope struct {
	Help    string          `json:"help,omitempty"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// APIError is the error object of a failed action call. Fields keeps the
// per-field validation messages the catalog attaches next to __type.
type APIError struct {
	Status  int                        `json:"-"`
	Type    string                     `json:"__type"`
	Message string                     `json:"message,omitempty"`
	Fields  map[string]json.RawMessage `json:"-"`
}

func (e *APIError) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["__type"]; ok {
		_ = json.Unmarshal(v, &e.Type)
		delete(raw, "__type")
	}
	if v, ok := raw["message"]; ok {
		if err := json.Unmarshal(v, &e.Message); err != nil {
			e.Message = string(v)
		}
		delete(raw, "message")
	}
	if len(raw) > 0 {
		e.Fields = raw
	}
	return nil
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Status > 0 {
		fmt.Fprintf(&b, "status %d", e.Status)
	}
	if e.Type != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(e.Type)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, compact(e.Fields[k]))
		}
	}
	if b.Len() == 0 {
		return "catalog error"
	}
	return b.String()
}

// Mentions reports whether needle occurs in the message or any field detail,
// case-insensitively.
func (e *APIError) Mentions(needle string) bool {
	needle = strings.ToLower(needle)
	if strings.Contains(strings.ToLower(e.Message), needle) {
		return true
	}
	for _, v := range e.Fields {
		if strings.Contains(strings.ToLower(string(v)), needle) {
			return true
		}
	}
	return false
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

var (
	ErrNotFound      = errors.New("not_found")
	ErrTableTooLarge = errors.New("datastore_table_too_large")
)

type Extra struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Package struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Title            string     `json:"title"`
	Type             string     `json:"type"`
	URL              string     `json:"url"`
	Notes            string     `json:"notes"`
	State            string     `json:"state,omitempty"`
	MetadataModified string     `json:"metadata_modified,omitempty"`
	Extras           []Extra    `json:"extras,omitempty"`
	Resources        []Resource `json:"resources,omitempty"`
}

// Extra returns the value of the named extra, if present.
func (p Package) Extra(key string) (string, bool) {
	for _, e := range p.Extras {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// ResourceByNamePrefix returns the first resource whose name starts with prefix.
func (p Package) ResourceByNamePrefix(prefix string) (Resource, bool) {
	for _, r := range p.Resources {
		if strings.HasPrefix(r.Name, prefix) {
			return r, true
		}
	}
	return Resource{}, false
}

type Resource struct {
	ID              string `json:"id,omitempty"`
	PackageID       string `json:"package_id,omitempty"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Format          string `json:"format,omitempty"`
	URL             string `json:"url,omitempty"`
	DatastoreActive bool   `json:"datastore_active,omitempty"`
	LastModified    string `json:"last_modified,omitempty"`
}

type SearchRequest struct {
	Query  string
	Filter string
	Rows   int
	Start  int
}

type SearchResult struct {
	Count   int       `json:"count"`
	Results []Package `json:"results"`
}

// Field is a datastore column definition.
type Field struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// FieldInfo is a column as reported by datastore_info, including the
// index metadata used to detect key constraints.
type FieldInfo struct {
	ID     string      `json:"id"`
	Type   string      `json:"type"`
	Schema FieldSchema `json:"schema"`
}

type FieldSchema struct {
	NativeType string `json:"native_type,omitempty"`
	IsIndex    bool   `json:"is_index"`
	UniqueKey  bool   `json:"uniquekey"`
	NotNull    bool   `json:"notnull"`
}

type DatastoreInfo struct {
	Meta   DatastoreMeta `json:"meta"`
	Fields []FieldInfo   `json:"fields"`
}

type DatastoreMeta struct {
	Count int `json:"count"`
}

// HasKey reports whether every named column is part of a unique key.
func (i DatastoreInfo) HasKey(columns []string) bool {
	if len(columns) == 0 {
		return false
	}
	unique := make(map[string]bool, len(i.Fields))
	for _, f := range i.Fields {
		unique[f.ID] = f.Schema.UniqueKey
	}
	for _, c := range columns {
		if !unique[c] {
			return false
		}
	}
	return true
}

// ResourceBody creates the resource alongside the datastore when no
// resource id is known yet.
type ResourceBody struct {
	PackageID   string `json:"package_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

type DatastoreCreateRequest struct {
	ResourceID string           `json:"resource_id,omitempty"`
	Resource   *ResourceBody    `json:"resource,omitempty"`
	Fields     []Field          `json:"fields"`
	PrimaryKey []string         `json:"primary_key,omitempty"`
	Records    []map[string]any `json:"records,omitempty"`
	Force      bool             `json:"force"`
}

type DatastoreCreateResult struct {
	ResourceID string   `json:"resource_id"`
	Fields     []Field  `json:"fields"`
	PrimaryKey []string `json:"primary_key,omitempty"`
}

type DatastoreSearchRequest struct {
	ResourceID string   `json:"resource_id"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
	Fields     []string `json:"fields,omitempty"`
	Sort       string   `json:"sort,omitempty"`
}

type DatastoreSearchResult struct {
	ResourceID string           `json:"resource_id"`
	Fields     []Field          `json:"fields"`
	Records    []map[string]any `json:"records"`
	Total      int              `json:"total"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
}

// DatastoreTable is the full contents of a datastore resource.
type DatastoreTable struct {
	Fields  []Field
	Records []map[string]any
}

type UpsertMethod string

const (
	MethodInsert UpsertMethod = "insert"
	MethodUpsert UpsertMethod = "upsert"
	MethodUpdate UpsertMethod = "update"
)

type DatastoreUpsertRequest struct {
	ResourceID string           `json:"resource_id"`
	Records    []map[string]any `json:"records"`
	Method     UpsertMethod     `json:"method"`
	Force      bool             `json:"force"`
}

// Status is the subset of status_show the site probe keeps.
type Status struct {
	CKANVersion     string   `json:"ckan_version"`
	SiteURL         string   `json:"site_url"`
	SiteTitle       string   `json:"site_title"`
	SiteDescription string   `json:"site_description"`
	ErrorEmailsTo   string   `json:"error_emails_to"`
	LocaleDefault   string   `json:"locale_default"`
	Extensions      []string `json:"extensions"`
}
