package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	catalog "github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/smallbiznis/catalogsync/internal/observability/metrics"
	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/smallbiznis/catalogsync/internal/timeseries/domain"
	"github.com/smallbiznis/catalogsync/internal/timeseries/engine"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	updatedLayout = "2006-01-02T15:04:05.000000"
	backupLayout  = "20060102T150405Z"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Catalog catalog.Client
	Clock   clock.Clock
	Metrics *metrics.RunMetrics `optional:"true"`
	Config  config.Config       `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	catalog   catalog.Client
	clock     clock.Clock
	metrics   *metrics.RunMetrics
	backupDir string
}

func New(p Params) domain.Service {
	svc := &Service{
		log:     p.Log.Named("timeseries.service"),
		catalog: p.Catalog,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
	if dir := strings.TrimSpace(p.Config.DataDir); dir != "" {
		svc.backupDir = filepath.Join(dir, "backups")
	}
	return svc
}

// target is the remote table of one series as found before writing.
type target struct {
	packageID  string
	resourceID string
	state      domain.State
}

// remote is the current content of an active table.
type remote struct {
	fields []catalog.Field
	rows   []domain.Row
}

// Append writes the rows of req.Batch that the series table does not hold
// yet. An absent table is created with the batch, a table without a key
// constraint is rebuilt with one, and a keyed table receives an insert of
// the new rows only. A key conflict on write triggers a single rebuild from
// the union of remote and new rows.
func (s *Service) Append(ctx context.Context, req domain.AppendRequest) (domain.AppendResult, error) {
	series := req.Series
	if strings.TrimSpace(series.DatasetID) == "" || strings.TrimSpace(series.ResourceName) == "" {
		return domain.AppendResult{}, fmt.Errorf("%w: dataset and resource name are required", domain.ErrInvalidSeries)
	}
	if req.Batch.Len() == 0 {
		return domain.AppendResult{}, domain.ErrEmptyBatch
	}

	key := series.Key()
	if _, err := engine.Partition(domain.Batch{Columns: req.Batch.Columns}, nil, key); err != nil {
		return domain.AppendResult{}, err
	}
	incoming, err := engine.Union(nil, req.Batch.Rows, key)
	if err != nil {
		return domain.AppendResult{}, err
	}

	log := s.log.With(
		zap.String("series", series.Name),
		zap.String("dataset", series.DatasetID),
		zap.Bool("dry_run", req.DryRun),
	)

	t, err := s.locate(ctx, series, key)
	if err != nil {
		s.metrics.IncRemoteError("locate", err)
		return domain.AppendResult{}, err
	}

	schema := engine.InferSchema(req.Batch, series.TimestampColumns)
	result := domain.AppendResult{
		ResourceID: t.resourceID,
		State:      t.state,
		FinalState: t.state,
		DryRun:     req.DryRun,
	}

	var (
		current remote
		newRows = incoming
	)
	if t.state != domain.StateAbsent {
		current, err = s.fetch(ctx, t.resourceID)
		if err != nil {
			s.metrics.IncRemoteError("datastore_search", err)
			return result, err
		}
		delta, err := engine.Partition(domain.Batch{Columns: req.Batch.Columns, Rows: incoming}, current.rows, key)
		if err != nil {
			return result, err
		}
		newRows = delta.New
	}
	result.Inserted = len(newRows)
	result.Duplicates = req.Batch.Len() - len(newRows)

	log = log.With(zap.String("state", string(t.state)), zap.String("resource_id", t.resourceID))
	log.Info("partitioned batch",
		zap.Int("rows", req.Batch.Len()),
		zap.Int("new", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
	)

	if req.DryRun {
		return result, nil
	}

	switch t.state {
	case domain.StateAbsent:
		err = s.create(ctx, series, &t, schema, newRows)
	case domain.StateActive:
		var rows []domain.Row
		rows, err = engine.Union(current.rows, newRows, key)
		if err == nil {
			result.Recreated = true
			err = s.rebuild(ctx, series, &t, mergeSchema(schema, current.fields), rows)
		}
	case domain.StateActiveWithKey:
		if len(newRows) == 0 {
			log.Info("no new rows")
			s.record(series, result)
			return result, nil
		}
		err = s.catalog.DatastoreUpsert(ctx, catalog.DatastoreUpsertRequest{
			ResourceID: t.resourceID,
			Method:     catalog.MethodInsert,
			Records:    engine.Records(newRows, schema),
			Force:      true,
		})
	}

	if failure.IsConflict(err) && !result.Recreated {
		log.Warn("key conflict on write, rebuilding table", zap.Error(err))
		result.Recreated = true
		err = s.recoverConflict(ctx, series, &t, schema, key, newRows)
	}
	if err != nil {
		s.metrics.IncRemoteError("append", err)
		log.Error("append failed", zap.Error(err))
		result.ResourceID = t.resourceID
		return result, err
	}

	result.ResourceID = t.resourceID
	result.FinalState = domain.StateActiveWithKey
	s.record(series, result)
	s.touch(ctx, series, t.resourceID, log)

	log.Info("appended",
		zap.Int("inserted", result.Inserted),
		zap.Bool("recreated", result.Recreated),
	)
	return result, nil
}

func (s *Service) locate(ctx context.Context, series domain.Series, key domain.Key) (target, error) {
	pkg, err := s.catalog.PackageShow(ctx, series.DatasetID)
	if err != nil {
		return target{}, err
	}
	t := target{packageID: pkg.ID, state: domain.StateAbsent}

	res, ok := findResource(pkg, series.ResourceName)
	if !ok {
		return t, nil
	}
	t.resourceID = res.ID

	info, err := s.catalog.DatastoreInfo(ctx, res.ID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return t, nil
	case err != nil:
		return target{}, err
	}
	if info.HasKey(key.Columns) {
		t.state = domain.StateActiveWithKey
	} else {
		t.state = domain.StateActive
	}
	return t, nil
}

func (s *Service) fetch(ctx context.Context, resourceID string) (remote, error) {
	table, err := s.catalog.DatastoreSearchAll(ctx, resourceID)
	if err != nil {
		return remote{}, err
	}
	columns := make([]string, 0, len(table.Fields))
	for _, f := range table.Fields {
		columns = append(columns, f.ID)
	}
	return remote{fields: table.Fields, rows: engine.FromRecords(columns, table.Records)}, nil
}

// create writes a new datastore table holding rows. When the series has no
// resource yet, the resource is created by the same call.
func (s *Service) create(ctx context.Context, series domain.Series, t *target, schema domain.Schema, rows []domain.Row) error {
	req := catalog.DatastoreCreateRequest{
		ResourceID: t.resourceID,
		Fields:     fieldsOf(schema),
		PrimaryKey: series.KeyColumns,
		Records:    engine.Records(rows, schema),
		Force:      true,
	}
	if t.resourceID == "" {
		req.Resource = &catalog.ResourceBody{
			PackageID:   t.packageID,
			Name:        series.ResourceName,
			Description: s.description(series),
			Format:      "CSV",
		}
	}
	created, err := s.catalog.DatastoreCreate(ctx, req)
	if err != nil {
		return err
	}
	if created.ResourceID != "" {
		t.resourceID = created.ResourceID
	}
	return nil
}

// rebuild drops the datastore table and creates it again, keyed, with rows.
func (s *Service) rebuild(ctx context.Context, series domain.Series, t *target, schema domain.Schema, rows []domain.Row) error {
	s.metrics.IncRecreate(series.Name)
	if t.resourceID != "" {
		if err := s.backup(series, schema, rows); err != nil {
			return fmt.Errorf("back up %s before rebuild: %w", series.Name, err)
		}
		if err := s.catalog.DatastoreDelete(ctx, t.resourceID); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return err
		}
	}
	err := s.create(ctx, series, t, schema, rows)
	var conflict *failure.ConflictError
	if errors.As(err, &conflict) {
		return &failure.RemoteWriteError{Op: conflict.Op, Target: t.resourceID, Rows: len(rows), Err: conflict.Err}
	}
	return err
}

// backup writes the rows a rebuild is about to recreate to a CSV under the
// data directory, so a failed create can be replayed by hand.
func (s *Service) backup(series domain.Series, schema domain.Schema, rows []domain.Row) error {
	log := s.log.With(zap.String("series", series.Name), zap.Int("rows", len(rows)))
	if s.backupDir == "" {
		log.Warn("rebuilding table without a local backup")
		return nil
	}
	columns := make([]string, 0, len(schema))
	for _, f := range schema {
		columns = append(columns, f.ID)
	}
	name := fmt.Sprintf("%s-%s.csv", series.Name, s.clock.Now().UTC().Format(backupLayout))
	path := filepath.Join(s.backupDir, name)
	if err := table.Write(path, engine.ToTable(columns, rows)); err != nil {
		return err
	}
	log.Info("table rows backed up before rebuild", zap.String("file", path))
	return nil
}

// recoverConflict rebuilds the table after a key conflict from what the
// table holds now plus newRows. It runs at most once per append.
func (s *Service) recoverConflict(ctx context.Context, series domain.Series, t *target, schema domain.Schema, key domain.Key, newRows []domain.Row) error {
	var current remote
	if t.resourceID != "" {
		var err error
		current, err = s.fetch(ctx, t.resourceID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return err
		}
	}
	rows, err := engine.Union(current.rows, newRows, key)
	if err != nil {
		return err
	}
	return s.rebuild(ctx, series, t, mergeSchema(schema, current.fields), rows)
}

func (s *Service) touch(ctx context.Context, series domain.Series, resourceID string, log *zap.Logger) {
	if resourceID == "" {
		return
	}
	if _, err := s.catalog.ResourcePatch(ctx, resourceID, map[string]any{"description": s.description(series)}); err != nil {
		log.Warn("update resource description", zap.Error(err))
	}
}

func (s *Service) description(series domain.Series) string {
	stamp := s.clock.Now().UTC().Format(updatedLayout) + "Z"
	if series.Description == "" {
		return "Last updated: " + stamp
	}
	return series.Description + " Last updated: " + stamp
}

func (s *Service) record(series domain.Series, result domain.AppendResult) {
	s.metrics.AddRows(series.Name, metrics.RowKindNew, result.Inserted)
	s.metrics.AddRows(series.Name, metrics.RowKindDuplicate, result.Duplicates)
}

func findResource(pkg catalog.Package, name string) (catalog.Resource, bool) {
	for _, r := range pkg.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return pkg.ResourceByNamePrefix(name)
}

// mergeSchema appends remote columns the batch does not carry, so a rebuild
// keeps every existing column.
func mergeSchema(schema domain.Schema, remoteFields []catalog.Field) domain.Schema {
	out := append(domain.Schema(nil), schema...)
	for _, f := range remoteFields {
		if _, ok := out.Kind(f.ID); ok {
			continue
		}
		out = append(out, domain.Field{ID: f.ID, Kind: engine.KindOf(f.Type)})
	}
	return out
}

func fieldsOf(schema domain.Schema) []catalog.Field {
	out := make([]catalog.Field, 0, len(schema))
	for _, f := range schema {
		out = append(out, catalog.Field{ID: f.ID, Type: string(f.Kind)})
	}
	return out
}
