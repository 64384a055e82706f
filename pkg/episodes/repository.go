package episodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
)

type EpisodeModel struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	PatientID           string            `gorm:"column:patient_id;uniqueIndex:idx_episode_key;index"`
	PatientMRN          string            `gorm:"column:patient_mrn"`
	PatientName         string            `gorm:"column:patient_name"`
	BirthDate           *time.Time        `gorm:"column:birth_date"`
	EncounterID         string            `gorm:"column:encounter_id;uniqueIndex:idx_episode_key"`
	BundleID            string            `gorm:"column:bundle_id;uniqueIndex:idx_episode_key;index:idx_episode_active"`
	BundleName          string            `gorm:"column:bundle_name"`
	BundleVersion       string            `gorm:"column:bundle_version"`
	Definition          datatypes.JSON    `gorm:"column:definition"`
	TriggerKind         string            `gorm:"column:trigger_kind"`
	TriggerCode         string            `gorm:"column:trigger_code"`
	TriggerDescription  string            `gorm:"column:trigger_description"`
	TriggerTime         time.Time         `gorm:"column:trigger_time;uniqueIndex:idx_episode_key"`
	PatientAgeDays      *int              `gorm:"column:patient_age_days"`
	Status              string            `gorm:"column:status;index:idx_episode_active"`
	ElementsTotal       int               `gorm:"column:elements_total"`
	ElementsApplicable  int               `gorm:"column:elements_applicable"`
	ElementsMet         int               `gorm:"column:elements_met"`
	ElementsNotMet      int               `gorm:"column:elements_not_met"`
	ElementsPending     int               `gorm:"column:elements_pending"`
	AdherencePercentage float64           `gorm:"column:adherence_percentage"`
	AdherenceLevel      string            `gorm:"column:adherence_level"`
	ReviewStatus        string            `gorm:"column:review_status"`
	ReviewedBy          string            `gorm:"column:reviewed_by"`
	Advisory            string            `gorm:"column:advisory"`
	Metadata            datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt           time.Time         `gorm:"column:created_at"`
	UpdatedAt           time.Time         `gorm:"column:updated_at"`
	CompletedAt         *time.Time        `gorm:"column:completed_at"`
}

func (EpisodeModel) TableName() string {
	return "bundle_episodes"
}

type ElementModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;column:id"`
	EpisodeID   uuid.UUID  `gorm:"type:uuid;column:episode_id;index"`
	ElementID   string     `gorm:"column:element_id"`
	ElementName string     `gorm:"column:element_name"`
	Description string     `gorm:"column:description"`
	Required    bool       `gorm:"column:required"`
	CheckerKind string     `gorm:"column:checker_kind"`
	Position    int        `gorm:"column:position"`
	Status      string     `gorm:"column:status;index"`
	Value       string     `gorm:"column:value"`
	Notes       string     `gorm:"column:notes"`
	Deadline    *time.Time `gorm:"column:deadline"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	AlertedAt   *time.Time `gorm:"column:alerted_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (ElementModel) TableName() string {
	return "bundle_element_results"
}

// Repository is the Postgres-backed Store.
type Repository struct {
	db        *gorm.DB
	tolerance time.Duration
}

func NewRepository(db *gorm.DB, tolerance time.Duration) *Repository {
	return &Repository{db: db, tolerance: tolerance}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&EpisodeModel{}, &ElementModel{})
}

func (r *Repository) CreateEpisodeIfAbsent(ctx context.Context, def bundles.Definition, key Key, snap Snapshot) (*models.Episode, error) {
	var created *models.Episode
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.tolerance > 0 {
			var n int64
			err := tx.Model(&EpisodeModel{}).
				Where("patient_id = ? AND encounter_id = ? AND bundle_id = ? AND trigger_time BETWEEN ? AND ?",
					key.PatientID, key.EncounterID, key.BundleID,
					key.TriggerTime.Add(-r.tolerance), key.TriggerTime.Add(r.tolerance)).
				Count(&n).Error
			if err != nil || n > 0 {
				return err
			}
		}

		now := time.Now().UTC()
		ep := newEpisode(def, key, snap, uuid.NewString(), now)
		row, err := toEpisodeModel(ep)
		if err != nil {
			return err
		}
		snapshot, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("snapshot bundle %s: %w", def.ID, err)
		}
		row.Definition = datatypes.JSON(snapshot)
		row.Metadata = datatypes.JSONMap{"references": def.References}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		elements := newElements(def, ep.ID, key.TriggerTime, now, uuid.NewString)
		rows := make([]ElementModel, 0, len(elements))
		for i, el := range elements {
			m, err := toElementModel(el, i)
			if err != nil {
				return err
			}
			rows = append(rows, m)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		created = &ep
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Repository) Get(ctx context.Context, episodeID string) (*models.Episode, error) {
	id, err := uuid.Parse(episodeID)
	if err != nil {
		return nil, ErrEpisodeNotFound
	}
	var row EpisodeModel
	result := r.db.WithContext(ctx).First(&row, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrEpisodeNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	ep := fromEpisodeModel(row)
	return &ep, nil
}

func (r *Repository) ListActive(ctx context.Context, bundleID string) ([]models.Episode, error) {
	q := r.db.WithContext(ctx).Where("status = ?", string(models.EpisodeActive))
	if bundleID != "" {
		q = q.Where("bundle_id = ?", bundleID)
	}
	var rows []EpisodeModel
	if err := q.Order("trigger_time asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Episode, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromEpisodeModel(row))
	}
	return out, nil
}

func (r *Repository) Elements(ctx context.Context, episodeID string) ([]models.ElementResult, error) {
	return r.elements(r.db.WithContext(ctx), episodeID, false)
}

func (r *Repository) PendingElements(ctx context.Context, episodeID string) ([]models.ElementResult, error) {
	return r.elements(r.db.WithContext(ctx), episodeID, true)
}

func (r *Repository) elements(db *gorm.DB, episodeID string, pendingOnly bool) ([]models.ElementResult, error) {
	id, err := uuid.Parse(episodeID)
	if err != nil {
		return nil, ErrEpisodeNotFound
	}
	q := db.Where("episode_id = ?", id)
	if pendingOnly {
		q = q.Where("status = ?", string(models.ElementPending))
	}
	var rows []ElementModel
	if err := q.Order("position asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.ElementResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromElementModel(row))
	}
	return out, nil
}

// ApplyResult guards every write with status = PENDING so a terminal
// element can never regress, even under concurrent writers.
func (r *Repository) ApplyResult(ctx context.Context, elementResultID string, result models.CheckResult) (bool, error) {
	id, err := uuid.Parse(elementResultID)
	if err != nil {
		return false, ErrElementNotFound
	}
	if !result.Status.Valid() {
		return false, nil
	}

	db := r.db.WithContext(ctx)
	q := db.Model(&ElementModel{}).Where("id = ? AND status = ?", id, string(models.ElementPending))
	updates := map[string]interface{}{
		"value":      result.Value,
		"notes":      result.Notes,
		"updated_at": time.Now().UTC(),
	}
	if result.Status == models.ElementPending {
		q = q.Where("(value <> ? OR notes <> ?)", result.Value, result.Notes)
	} else {
		updates["status"] = string(result.Status)
		if result.CompletedAt != nil {
			updates["completed_at"] = *result.CompletedAt
		}
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	var n int64
	if err := db.Model(&ElementModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrElementNotFound
	}
	return false, nil
}

func (r *Repository) RecomputeAdherence(ctx context.Context, episodeID string) (*models.Episode, error) {
	id, err := uuid.Parse(episodeID)
	if err != nil {
		return nil, ErrEpisodeNotFound
	}
	var out models.Episode
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row EpisodeModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEpisodeNotFound
			}
			return err
		}
		elements, err := r.elements(tx, episodeID, false)
		if err != nil {
			return err
		}
		ep := fromEpisodeModel(row)
		a := ComputeAdherence(elements)
		if !a.equals(ep) {
			a.applyTo(&ep)
			ep.UpdatedAt = time.Now().UTC()
			err := tx.Model(&EpisodeModel{}).Where("id = ?", id).Updates(map[string]interface{}{
				"elements_total":       ep.ElementsTotal,
				"elements_applicable":  ep.ElementsApplicable,
				"elements_met":         ep.ElementsMet,
				"elements_not_met":     ep.ElementsNotMet,
				"elements_pending":     ep.ElementsPending,
				"adherence_percentage": ep.AdherencePercentage,
				"adherence_level":      ep.AdherenceLevel,
				"updated_at":           ep.UpdatedAt,
			}).Error
			if err != nil {
				return err
			}
		}
		out = ep
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repository) MarkComplete(ctx context.Context, episodeID string, at time.Time) error {
	id, err := uuid.Parse(episodeID)
	if err != nil {
		return ErrEpisodeNotFound
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&ElementModel{}).
			Where("episode_id = ? AND status = ?", id, string(models.ElementPending)).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return ErrPendingElements
		}
		res := tx.Model(&EpisodeModel{}).
			Where("id = ? AND status = ?", id, string(models.EpisodeActive)).
			Updates(map[string]interface{}{
				"status":       string(models.EpisodeComplete),
				"completed_at": at,
				"updated_at":   time.Now().UTC(),
			})
		return res.Error
	})
}

func (r *Repository) SetAdvisory(ctx context.Context, episodeID, advisory string) error {
	id, err := uuid.Parse(episodeID)
	if err != nil {
		return ErrEpisodeNotFound
	}
	return r.db.WithContext(ctx).Model(&EpisodeModel{}).
		Where("id = ? AND advisory <> ?", id, advisory).
		Updates(map[string]interface{}{"advisory": advisory, "updated_at": time.Now().UTC()}).Error
}

func (r *Repository) UnalertedViolations(ctx context.Context) ([]models.ElementResult, error) {
	var rows []ElementModel
	err := r.db.WithContext(ctx).
		Joins("JOIN bundle_episodes ON bundle_episodes.id = bundle_element_results.episode_id").
		Where("bundle_element_results.status = ? AND bundle_element_results.alerted_at IS NULL", string(models.ElementNotMet)).
		Where("bundle_episodes.status IN ?", []string{string(models.EpisodeActive), string(models.EpisodeComplete)}).
		Order("bundle_element_results.updated_at asc, bundle_element_results.id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.ElementResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromElementModel(row))
	}
	return out, nil
}

func (r *Repository) MarkAlerted(ctx context.Context, elementResultID string, at time.Time) error {
	id, err := uuid.Parse(elementResultID)
	if err != nil {
		return ErrElementNotFound
	}
	return r.db.WithContext(ctx).Model(&ElementModel{}).
		Where("id = ? AND alerted_at IS NULL", id).
		Update("alerted_at", at).Error
}

// Close only moves COMPLETE episodes; the status guard makes the check and
// the write one statement.
func (r *Repository) Close(ctx context.Context, episodeID, reviewer string) error {
	id, err := uuid.Parse(episodeID)
	if err != nil {
		return ErrEpisodeNotFound
	}
	db := r.db.WithContext(ctx)
	res := db.Model(&EpisodeModel{}).
		Where("id = ? AND status = ?", id, string(models.EpisodeComplete)).
		Updates(map[string]interface{}{
			"status":        string(models.EpisodeClosed),
			"review_status": models.ReviewReviewed,
			"reviewed_by":   reviewer,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.Model(&EpisodeModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrEpisodeNotFound
	}
	return ErrNotComplete
}

func toEpisodeModel(ep models.Episode) (EpisodeModel, error) {
	id, err := uuid.Parse(ep.ID)
	if err != nil {
		return EpisodeModel{}, err
	}
	return EpisodeModel{
		ID:                  id,
		PatientID:           ep.PatientID,
		PatientMRN:          ep.PatientMRN,
		PatientName:         ep.PatientName,
		BirthDate:           ep.BirthDate,
		EncounterID:         ep.EncounterID,
		BundleID:            ep.BundleID,
		BundleName:          ep.BundleName,
		BundleVersion:       ep.BundleVersion,
		TriggerKind:         ep.TriggerKind,
		TriggerCode:         ep.TriggerCode,
		TriggerDescription:  ep.TriggerDescription,
		TriggerTime:         ep.TriggerTime,
		PatientAgeDays:      ep.PatientAgeDays,
		Status:              string(ep.Status),
		ElementsTotal:       ep.ElementsTotal,
		ElementsApplicable:  ep.ElementsApplicable,
		ElementsMet:         ep.ElementsMet,
		ElementsNotMet:      ep.ElementsNotMet,
		ElementsPending:     ep.ElementsPending,
		AdherencePercentage: ep.AdherencePercentage,
		AdherenceLevel:      ep.AdherenceLevel,
		ReviewStatus:        ep.ReviewStatus,
		ReviewedBy:          ep.ReviewedBy,
		Advisory:            ep.Advisory,
		CreatedAt:           ep.CreatedAt,
		UpdatedAt:           ep.UpdatedAt,
		CompletedAt:         ep.CompletedAt,
	}, nil
}

func fromEpisodeModel(row EpisodeModel) models.Episode {
	return models.Episode{
		ID:                  row.ID.String(),
		PatientID:           row.PatientID,
		PatientMRN:          row.PatientMRN,
		PatientName:         row.PatientName,
		BirthDate:           row.BirthDate,
		EncounterID:         row.EncounterID,
		BundleID:            row.BundleID,
		BundleName:          row.BundleName,
		BundleVersion:       row.BundleVersion,
		TriggerKind:         row.TriggerKind,
		TriggerCode:         row.TriggerCode,
		TriggerDescription:  row.TriggerDescription,
		TriggerTime:         row.TriggerTime,
		PatientAgeDays:      row.PatientAgeDays,
		Status:              models.EpisodeStatus(row.Status),
		ElementsTotal:       row.ElementsTotal,
		ElementsApplicable:  row.ElementsApplicable,
		ElementsMet:         row.ElementsMet,
		ElementsNotMet:      row.ElementsNotMet,
		ElementsPending:     row.ElementsPending,
		AdherencePercentage: row.AdherencePercentage,
		AdherenceLevel:      row.AdherenceLevel,
		ReviewStatus:        row.ReviewStatus,
		ReviewedBy:          row.ReviewedBy,
		Advisory:            row.Advisory,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
		CompletedAt:         row.CompletedAt,
	}
}

func toElementModel(el models.ElementResult, position int) (ElementModel, error) {
	id, err := uuid.Parse(el.ID)
	if err != nil {
		return ElementModel{}, err
	}
	episodeID, err := uuid.Parse(el.EpisodeID)
	if err != nil {
		return ElementModel{}, err
	}
	return ElementModel{
		ID:          id,
		EpisodeID:   episodeID,
		ElementID:   el.ElementID,
		ElementName: el.ElementName,
		Description: el.Description,
		Required:    el.Required,
		CheckerKind: el.CheckerKind,
		Position:    position,
		Status:      string(el.Status),
		Value:       el.Value,
		Notes:       el.Notes,
		Deadline:    el.Deadline,
		CompletedAt: el.CompletedAt,
		AlertedAt:   el.AlertedAt,
		CreatedAt:   el.CreatedAt,
		UpdatedAt:   el.UpdatedAt,
	}, nil
}

func fromElementModel(row ElementModel) models.ElementResult {
	return models.ElementResult{
		ID:          row.ID.String(),
		EpisodeID:   row.EpisodeID.String(),
		ElementID:   row.ElementID,
		ElementName: row.ElementName,
		Description: row.Description,
		Required:    row.Required,
		CheckerKind: row.CheckerKind,
		Status:      models.ElementStatus(row.Status),
		Value:       row.Value,
		Notes:       row.Notes,
		Deadline:    row.Deadline,
		CompletedAt: row.CompletedAt,
		AlertedAt:   row.AlertedAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
