package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/medley/internal/domain"
	"horse.fit/medley/internal/ingest"
)

// Store adapts the gorm pool to the engine's repository port.
type Store struct {
	pool *Pool
}

func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Begin opens the batch transaction and takes a transaction-scoped advisory
// lock so concurrent batches for the same source serialize instead of
// interleaving.
func (s *Store) Begin(ctx context.Context, lockKey string) (ingest.Tx, error) {
	if s == nil || s.pool == nil || s.pool.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	tx := s.pool.gdb.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockKey).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("acquire batch lock: %w", err)
	}
	return &storeTx{db: tx}, nil
}

type storeTx struct {
	db *gorm.DB
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.db.WithContext(ctx).Commit().Error
}

func (t *storeTx) Rollback(ctx context.Context) error {
	return t.db.WithContext(ctx).Rollback().Error
}

func (t *storeTx) GetByExternalID(ctx context.Context, et domain.EntityType, namespace, value string) (domain.CanonicalEntity, error) {
	var row ExternalIDRow
	err := t.db.WithContext(ctx).
		Where("entity_type = ? AND namespace = ? AND value = ?", string(et), namespace, value).
		First(&row).Error
	if IsNoRows(err) {
		return nil, ingest.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query external id: %w", err)
	}
	return t.loadCanonical(ctx, et, row.EntityID)
}

func (t *storeTx) FindByKey(ctx context.Context, et domain.EntityType, key ingest.Key) ([]domain.CanonicalEntity, error) {
	var rows []EntityKeyRow
	err := t.db.WithContext(ctx).
		Where("entity_type = ? AND key = ?", string(et), string(key)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query entity keys: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(rows))
	var out []domain.CanonicalEntity
	for _, row := range rows {
		ent, err := t.loadCanonical(ctx, et, row.EntityID)
		if err == ingest.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ent.Identity()]; dup {
			continue
		}
		seen[ent.Identity()] = struct{}{}
		out = append(out, ent)
	}
	return out, nil
}

func (t *storeTx) FindFuzzyCandidates(ctx context.Context, et domain.EntityType, filter ingest.FuzzyFilter) ([]ingest.FuzzyCandidate, error) {
	q := t.db.WithContext(ctx).
		Where("entity_type = ? AND norm_name LIKE ?", string(et), escapeLike(filter.NamePrefix)+"%")
	if filter.DurationBucket >= 0 {
		q = q.Where("duration_bucket = ?", filter.DurationBucket)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	var rows []EntityNormRow
	if err := q.Order("entity_norm_id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query fuzzy candidates: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(rows))
	var out []ingest.FuzzyCandidate
	for _, row := range rows {
		ent, err := t.loadCanonical(ctx, et, row.EntityID)
		if err == ingest.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ent.Identity()]; dup {
			continue
		}
		seen[ent.Identity()] = struct{}{}
		out = append(out, ingest.FuzzyCandidate{Entity: ent, NormName: row.NormName})
	}
	return out, nil
}

func (t *storeTx) Add(ctx context.Context, ent domain.CanonicalEntity, sc *ingest.Sidecar) error {
	if err := t.insertEntity(ctx, ent); err != nil {
		return err
	}
	if err := t.insertExternalIDs(ctx, ent); err != nil {
		return err
	}
	if err := t.insertKeys(ctx, ent.EntityType(), ent.Identity(), sc.Keys); err != nil {
		return err
	}
	return t.upsertNorm(ctx, ent.EntityType(), ent.Identity(), sc)
}

func (t *storeTx) ApplyMerge(ctx context.Context, change ingest.MergeChange) error {
	if err := t.saveEntity(ctx, change.Target); err != nil {
		return err
	}
	if err := t.insertExternalIDs(ctx, change.Target); err != nil {
		return err
	}
	if err := t.insertKeys(ctx, change.Target.EntityType(), change.Target.Identity(), change.Keys); err != nil {
		return err
	}
	if change.Audit.EntityType == domain.TypeRecording {
		err := t.db.WithContext(ctx).Model(&EntityNormRow{}).
			Where("entity_type = ? AND entity_id = ?", string(domain.TypeRecording), change.Target.Identity().String()).
			Update("duration_bucket", change.DurationBucket).Error
		if err != nil {
			return fmt.Errorf("refresh duration bucket: %w", err)
		}
	}
	if change.Superseded != nil {
		// audit copy; its external ids and keys live on the target
		if err := t.insertEntity(ctx, change.Superseded); err != nil {
			return err
		}
	}

	mergeRow := EntityMergeRow{
		MergeID:    change.Audit.ID.String(),
		EntityType: string(change.Audit.EntityType),
		SourceID:   change.Audit.SourceID.String(),
		TargetID:   change.Audit.TargetID.String(),
		Reason:     string(change.Audit.Reason),
		Actor:      change.Audit.Actor,
		CreatedAt:  change.Audit.CreatedAt,
	}
	if err := t.db.WithContext(ctx).Create(&mergeRow).Error; err != nil {
		return fmt.Errorf("insert merge audit: %w", err)
	}
	return nil
}

func (t *storeTx) RecordRun(ctx context.Context, run domain.IngestRun) error {
	row := ingestRunRow(run)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert ingest run: %w", err)
	}
	return nil
}

// RecordRun writes a run ledger row outside any batch transaction. Failed
// batches are ledgered through it after their transaction rolled back.
func (s *Store) RecordRun(ctx context.Context, run domain.IngestRun) error {
	if s == nil || s.pool == nil || s.pool.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	row := ingestRunRow(run)
	if err := s.pool.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert ingest run: %w", err)
	}
	return nil
}

func ingestRunRow(run domain.IngestRun) IngestRunRow {
	return IngestRunRow{
		RunID:        run.ID.String(),
		Source:       run.Source,
		Actor:        run.Actor,
		Status:       run.Status,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Processed:    run.Processed,
		Created:      run.Created,
		Merged:       run.Merged,
		Collapsed:    run.Collapsed,
		Unchanged:    run.Unchanged,
		Conflicts:    run.Conflicts,
		Skipped:      run.Skipped,
		ErrorMessage: run.ErrorMessage,
	}
}

// loadCanonical loads the entity and follows its canonical pointer one hop.
// Pointers never chain, so one hop is the fixed point.
func (t *storeTx) loadCanonical(ctx context.Context, et domain.EntityType, id string) (domain.CanonicalEntity, error) {
	ent, err := t.loadEntity(ctx, et, id)
	if err != nil {
		return nil, err
	}
	if ent.IsCanonical() {
		return ent, nil
	}
	return t.loadEntity(ctx, et, ent.ResolvedID().String())
}

func (t *storeTx) loadEntity(ctx context.Context, et domain.EntityType, id string) (domain.CanonicalEntity, error) {
	switch et {
	case domain.TypeArtist:
		var row ArtistRow
		if err := t.first(ctx, &row, "artist_id = ?", id); err != nil {
			return nil, err
		}
		a := &domain.Artist{
			Base:          t.baseFrom(ctx, et, row.ArtistID, row.CanonicalID, row.Sources),
			Name:          row.Name,
			SortName:      row.SortName,
			Country:       row.Country,
			FormedYear:    row.FormedYear,
			DisbandedYear: row.DisbandedYear,
		}
		return a, nil
	case domain.TypeLabel:
		var row LabelRow
		if err := t.first(ctx, &row, "label_id = ?", id); err != nil {
			return nil, err
		}
		l := &domain.Label{
			Base:    t.baseFrom(ctx, et, row.LabelID, row.CanonicalID, row.Sources),
			Name:    row.Name,
			Country: row.Country,
		}
		return l, nil
	case domain.TypeReleaseSet:
		var row ReleaseSetRow
		if err := t.first(ctx, &row, "release_set_id = ?", id); err != nil {
			return nil, err
		}
		rs := &domain.ReleaseSet{
			Base:         t.baseFrom(ctx, et, row.ReleaseSetID, row.CanonicalID, row.Sources),
			Title:        row.Title,
			PrimaryType:  row.PrimaryType,
			FirstRelease: row.FirstRelease,
		}
		credits, err := t.loadCredits(ctx, et, row.ReleaseSetID)
		if err != nil {
			return nil, err
		}
		rs.Credits = credits
		return rs, nil
	case domain.TypeRelease:
		var row ReleaseRow
		if err := t.first(ctx, &row, "release_id = ?", id); err != nil {
			return nil, err
		}
		r := &domain.Release{
			Base:         t.baseFrom(ctx, et, row.ReleaseID, row.CanonicalID, row.Sources),
			Title:        row.Title,
			ReleaseSetID: parseUUIDPtr(row.ReleaseSetID),
			ReleaseDate:  row.ReleaseDate,
			Country:      row.Country,
			Format:       row.Format,
			MediumCount:  row.MediumCount,
		}
		var labelRows []ReleaseLabelRow
		if err := t.db.WithContext(ctx).Where("release_id = ?", row.ReleaseID).Find(&labelRows).Error; err != nil {
			return nil, fmt.Errorf("query release labels: %w", err)
		}
		for _, lr := range labelRows {
			r.LabelIDs = append(r.LabelIDs, parseUUID(lr.LabelID))
		}
		return r, nil
	case domain.TypeRecording:
		var row RecordingRow
		if err := t.first(ctx, &row, "recording_id = ?", id); err != nil {
			return nil, err
		}
		r := &domain.Recording{
			Base:       t.baseFrom(ctx, et, row.RecordingID, row.CanonicalID, row.Sources),
			Title:      row.Title,
			DurationMS: row.DurationMS,
			Version:    row.Version,
		}
		credits, err := t.loadCredits(ctx, et, row.RecordingID)
		if err != nil {
			return nil, err
		}
		r.Credits = credits
		return r, nil
	case domain.TypeTrack:
		var row TrackRow
		if err := t.first(ctx, &row, "track_id = ?", id); err != nil {
			return nil, err
		}
		tr := &domain.Track{
			Base:        t.baseFrom(ctx, et, row.TrackID, row.CanonicalID, row.Sources),
			ReleaseID:   parseUUID(row.ReleaseID),
			RecordingID: parseUUID(row.RecordingID),
			DiscNumber:  row.DiscNumber,
			TrackNumber: row.TrackNumber,
		}
		return tr, nil
	case domain.TypeUser:
		var row UserRow
		if err := t.first(ctx, &row, "user_id = ?", id); err != nil {
			return nil, err
		}
		u := &domain.User{
			Base:          t.baseFrom(ctx, et, row.UserID, row.CanonicalID, row.Sources),
			DisplayName:   row.DisplayName,
			Email:         row.Email,
			SpotifyUserID: row.SpotifyUserID,
			LastfmUser:    row.LastfmUser,
		}
		return u, nil
	case domain.TypePlayEvent:
		var row PlayEventRow
		if err := t.first(ctx, &row, "play_event_id = ?", id); err != nil {
			return nil, err
		}
		p := &domain.PlayEvent{
			Base:        t.baseFrom(ctx, et, row.PlayEventID, row.CanonicalID, row.Sources),
			UserID:      parseUUID(row.UserID),
			RecordingID: parseUUID(row.RecordingID),
			TrackID:     parseUUIDPtr(row.TrackID),
			PlayedAt:    row.PlayedAt,
			Source:      row.Source,
			DurationMS:  row.DurationMS,
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", et)
	}
}

func (t *storeTx) first(ctx context.Context, dest any, query string, args ...any) error {
	err := t.db.WithContext(ctx).Where(query, args...).First(dest).Error
	if IsNoRows(err) {
		return ingest.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query entity: %w", err)
	}
	return nil
}

func (t *storeTx) baseFrom(ctx context.Context, et domain.EntityType, id string, canonicalID *string, sources json.RawMessage) domain.Base {
	base := domain.Base{
		ID:          parseUUID(id),
		CanonicalID: parseUUIDPtr(canonicalID),
		Sources:     sourcesFromJSON(sources),
	}
	var rows []ExternalIDRow
	err := t.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", string(et), id).
		Order("external_id_id").
		Find(&rows).Error
	if err == nil {
		for _, row := range rows {
			base.Externals = append(base.Externals, domain.ExternalID{Namespace: row.Namespace, Value: row.Value})
		}
	}
	return base
}

func (t *storeTx) loadCredits(ctx context.Context, et domain.EntityType, ownerID string) ([]domain.ArtistCredit, error) {
	var rows []ArtistCreditRow
	err := t.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", string(et), ownerID).
		Order("credit_order").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query artist credits: %w", err)
	}
	credits := make([]domain.ArtistCredit, 0, len(rows))
	for _, row := range rows {
		credits = append(credits, domain.ArtistCredit{
			ArtistID:    parseUUID(row.ArtistID),
			Role:        domain.CreditRole(row.Role),
			CreditOrder: row.CreditOrder,
		})
	}
	return credits, nil
}

func (t *storeTx) insertEntity(ctx context.Context, ent domain.CanonicalEntity) error {
	if err := t.writeEntityRow(ctx, ent, false); err != nil {
		return err
	}
	return t.writeRelations(ctx, ent, false)
}

func (t *storeTx) saveEntity(ctx context.Context, ent domain.CanonicalEntity) error {
	if err := t.writeEntityRow(ctx, ent, true); err != nil {
		return err
	}
	return t.writeRelations(ctx, ent, true)
}

func (t *storeTx) writeEntityRow(ctx context.Context, ent domain.CanonicalEntity, update bool) error {
	row := rowFor(ent)
	db := t.db.WithContext(ctx)
	var err error
	if update {
		err = db.Save(row).Error
	} else {
		err = db.Create(row).Error
	}
	if err != nil {
		return fmt.Errorf("write %s row: %w", ent.EntityType(), err)
	}
	return nil
}

// writeRelations maintains credit and label link rows. On update the links
// are replaced wholesale; the domain entity carries the merged truth.
func (t *storeTx) writeRelations(ctx context.Context, ent domain.CanonicalEntity, update bool) error {
	db := t.db.WithContext(ctx)
	switch v := ent.(type) {
	case *domain.ReleaseSet:
		return t.replaceCredits(ctx, domain.TypeReleaseSet, v.ID.String(), v.Credits, update)
	case *domain.Recording:
		return t.replaceCredits(ctx, domain.TypeRecording, v.ID.String(), v.Credits, update)
	case *domain.Release:
		if update {
			if err := db.Where("release_id = ?", v.ID.String()).Delete(&ReleaseLabelRow{}).Error; err != nil {
				return fmt.Errorf("clear release labels: %w", err)
			}
		}
		for _, labelID := range v.LabelIDs {
			link := ReleaseLabelRow{ReleaseID: v.ID.String(), LabelID: labelID.String()}
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return fmt.Errorf("insert release label: %w", err)
			}
		}
		return nil
	default:
		return nil
	}
}

func (t *storeTx) replaceCredits(ctx context.Context, et domain.EntityType, ownerID string, credits []domain.ArtistCredit, update bool) error {
	db := t.db.WithContext(ctx)
	if update {
		err := db.Where("owner_type = ? AND owner_id = ?", string(et), ownerID).Delete(&ArtistCreditRow{}).Error
		if err != nil {
			return fmt.Errorf("clear artist credits: %w", err)
		}
	}
	for _, c := range credits {
		row := ArtistCreditRow{
			OwnerType:   string(et),
			OwnerID:     ownerID,
			ArtistID:    c.ArtistID.String(),
			Role:        string(c.Role),
			CreditOrder: c.CreditOrder,
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("insert artist credit: %w", err)
		}
	}
	return nil
}

// insertExternalIDs registers the entity's identifiers. A (namespace, value)
// already bound to another entity is left alone: the first binding wins and
// the uniqueness invariant holds.
func (t *storeTx) insertExternalIDs(ctx context.Context, ent domain.CanonicalEntity) error {
	for _, ext := range ent.ExternalIDs() {
		row := ExternalIDRow{
			EntityType: string(ent.EntityType()),
			Namespace:  ext.Namespace,
			Value:      ext.Value,
			EntityID:   ent.Identity().String(),
		}
		err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("insert external id: %w", err)
		}
	}
	return nil
}

func (t *storeTx) insertKeys(ctx context.Context, et domain.EntityType, id uuid.UUID, keys []ingest.Key) error {
	for _, key := range keys {
		row := EntityKeyRow{
			EntityType: string(et),
			Key:        string(key),
			EntityID:   id.String(),
		}
		err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("insert entity key: %w", err)
		}
	}
	return nil
}

func (t *storeTx) upsertNorm(ctx context.Context, et domain.EntityType, id uuid.UUID, sc *ingest.Sidecar) error {
	row := EntityNormRow{
		EntityType:     string(et),
		EntityID:       id.String(),
		NormName:       sc.NormName,
		NormArtist:     sc.NormArtist,
		DurationBucket: sc.DurationBucket,
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"norm_name", "norm_artist", "duration_bucket"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert entity norm: %w", err)
	}
	return nil
}

func rowFor(ent domain.CanonicalEntity) any {
	switch v := ent.(type) {
	case *domain.Artist:
		return &ArtistRow{
			ArtistID:      v.ID.String(),
			CanonicalID:   uuidPtr(v.CanonicalID),
			Name:          v.Name,
			SortName:      v.SortName,
			Country:       v.Country,
			FormedYear:    v.FormedYear,
			DisbandedYear: v.DisbandedYear,
			Sources:       sourcesJSON(v.Sources),
		}
	case *domain.Label:
		return &LabelRow{
			LabelID:     v.ID.String(),
			CanonicalID: uuidPtr(v.CanonicalID),
			Name:        v.Name,
			Country:     v.Country,
			Sources:     sourcesJSON(v.Sources),
		}
	case *domain.ReleaseSet:
		return &ReleaseSetRow{
			ReleaseSetID: v.ID.String(),
			CanonicalID:  uuidPtr(v.CanonicalID),
			Title:        v.Title,
			PrimaryType:  v.PrimaryType,
			FirstRelease: v.FirstRelease,
			Sources:      sourcesJSON(v.Sources),
		}
	case *domain.Release:
		return &ReleaseRow{
			ReleaseID:    v.ID.String(),
			CanonicalID:  uuidPtr(v.CanonicalID),
			ReleaseSetID: uuidPtr(v.ReleaseSetID),
			Title:        v.Title,
			ReleaseDate:  v.ReleaseDate,
			Country:      v.Country,
			Format:       v.Format,
			MediumCount:  v.MediumCount,
			Sources:      sourcesJSON(v.Sources),
		}
	case *domain.Recording:
		return &RecordingRow{
			RecordingID: v.ID.String(),
			CanonicalID: uuidPtr(v.CanonicalID),
			Title:       v.Title,
			DurationMS:  v.DurationMS,
			Version:     v.Version,
			Sources:     sourcesJSON(v.Sources),
		}
	case *domain.Track:
		return &TrackRow{
			TrackID:     v.ID.String(),
			CanonicalID: uuidPtr(v.CanonicalID),
			ReleaseID:   v.ReleaseID.String(),
			RecordingID: v.RecordingID.String(),
			DiscNumber:  v.DiscNumber,
			TrackNumber: v.TrackNumber,
			Sources:     sourcesJSON(v.Sources),
		}
	case *domain.User:
		return &UserRow{
			UserID:        v.ID.String(),
			CanonicalID:   uuidPtr(v.CanonicalID),
			DisplayName:   v.DisplayName,
			Email:         v.Email,
			SpotifyUserID: v.SpotifyUserID,
			LastfmUser:    v.LastfmUser,
			Sources:       sourcesJSON(v.Sources),
		}
	case *domain.PlayEvent:
		return &PlayEventRow{
			PlayEventID: v.ID.String(),
			CanonicalID: uuidPtr(v.CanonicalID),
			UserID:      v.UserID.String(),
			RecordingID: v.RecordingID.String(),
			TrackID:     uuidPtr(v.TrackID),
			PlayedAt:    v.PlayedAt,
			Source:      v.Source,
			DurationMS:  v.DurationMS,
			Sources:     sourcesJSON(v.Sources),
		}
	default:
		return nil
	}
}

func uuidPtr(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseUUIDPtr(s *string) uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return parseUUID(*s)
}

func sourcesJSON(sources []string) json.RawMessage {
	if len(sources) == 0 {
		return json.RawMessage("[]")
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return json.RawMessage("[]")
	}
	return raw
}

func sourcesFromJSON(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var sources []string
	if err := json.Unmarshal(raw, &sources); err != nil {
		return nil
	}
	return sources
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
