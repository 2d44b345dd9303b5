package domain

import "context"

// Client is the catalog action API. Read failures are returned as
// *failure.RemoteReadError, write failures as *failure.RemoteWriteError,
// and key violations as *failure.ConflictError. Lookups of absent objects
// additionally match ErrNotFound.
type Client interface {
	PackageShow(ctx context.Context, id string) (Package, error)
	PackagePatch(ctx context.Context, id string, fields map[string]any) (Package, error)
	PackageSearch(ctx context.Context, req SearchRequest) (SearchResult, error)
	PackageSearchAll(ctx context.Context, req SearchRequest) ([]Package, error)

	ResourceShow(ctx context.Context, id string) (Resource, error)
	ResourceCreate(ctx context.Context, res Resource) (Resource, error)
	ResourceUpdate(ctx context.Context, res Resource) (Resource, error)
	ResourcePatch(ctx context.Context, id string, fields map[string]any) (Resource, error)
	ResourceDelete(ctx context.Context, id string) error

	DatastoreCreate(ctx context.Context, req DatastoreCreateRequest) (DatastoreCreateResult, error)
	DatastoreInfo(ctx context.Context, resourceID string) (DatastoreInfo, error)
	DatastoreSearch(ctx context.Context, req DatastoreSearchRequest) (DatastoreSearchResult, error)
	DatastoreSearchAll(ctx context.Context, resourceID string) (DatastoreTable, error)
	DatastoreUpsert(ctx context.Context, req DatastoreUpsertRequest) error
	DatastoreDelete(ctx context.Context, resourceID string) error

	StatusShow(ctx context.Context) (Status, error)
	PackageList(ctx context.Context) ([]string, error)
	GroupList(ctx context.Context) ([]string, error)
	OrganizationList(ctx context.Context) ([]string, error)
}
